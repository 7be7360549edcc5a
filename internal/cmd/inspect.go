package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/nhalm/ratecount/internal/server"
	"github.com/nhalm/ratecount/store"
	"github.com/nhalm/ratecount/window"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [day]",
		Short: "Print the counters of one day's bucket",
		Long: `Print every counter stored in the bucket of [day] (YYYY-MM-DD, default today in
the configured timezone). Requires the redis driver.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			counter, err := a.openCounter()
			if err != nil {
				return err
			}
			defer counter.Close()

			reader, ok := counter.(server.BucketReader)
			if !ok {
				return fmt.Errorf("inspect requires the redis driver, configured driver is %q", a.cfg.Counter.Driver)
			}

			day := time.Now().In(reader.Location()).Format(window.DayLayout)
			if len(args) == 1 {
				day = args[0]
			}

			b, err := reader.Bucket(cmd.Context(), day)
			if err != nil {
				return fmt.Errorf("failed to read bucket %s: %w", day, err)
			}

			renderBucket(cmd.OutOrStdout(), b, reader.Location())
			return nil
		},
	}
}

func renderBucket(w io.Writer, b store.Bucket, loc *time.Location) {
	expiry := "none"
	if b.ExpiresIn > 0 {
		expiry = b.ExpiresIn.Truncate(time.Second).String()
	}
	fmt.Fprintf(w, "Bucket %s (expires in %s)\n", b.Key, expiry)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Key", "TTL", "Window Start", "Window End", "Count"})

	var total int64
	for _, e := range b.Entries {
		t.AppendRow(table.Row{
			e.Key,
			(time.Duration(e.Window.TTL) * time.Second).String(),
			time.Unix(e.Window.Start, 0).In(loc).Format(time.DateTime),
			time.Unix(e.Window.End, 0).In(loc).Format(time.DateTime),
			e.Count,
		})
		total += e.Count
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d counters", len(b.Entries)), "", "", "Total", total})
	t.Render()
}
