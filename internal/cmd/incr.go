package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhalm/ratecount/internal/observability"
	"github.com/nhalm/ratecount/store"
)

func newIncrCmd(a *app) *cobra.Command {
	var (
		ttl  time.Duration
		step int64
	)

	cmd := &cobra.Command{
		Use:   "incr <key>",
		Short: "Add to a counter and print its total",
		Long: `Add --step to the counter of <key> in the current --ttl window and print the
window's total. A --ttl below one second counts in one second windows.`,
		Example: `  ratecount incr user:42 --ttl 60s
  ratecount incr api:orders --ttl 1h --step 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if step < 1 {
				return fmt.Errorf("--step must be at least 1, got %d", step)
			}

			counter, err := a.openCounter()
			if err != nil {
				return err
			}
			defer counter.Close()

			key := args[0]
			count, win, err := store.IncreaseWindow(cmd.Context(), counter, store.SystemClock, key, ttl, step)
			if err != nil {
				return fmt.Errorf("failed to increase %s: %w", key, err)
			}

			observability.CLILogger.Debug("Counter increased",
				zap.String("key", key),
				zap.Int64("ttl", win.TTL),
				zap.Int64("window_end", win.End),
				zap.Int64("count", count))

			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Minute, "window length")
	cmd.Flags().Int64Var(&step, "step", 1, "amount to add")
	return cmd
}
