package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nhalm/ratecount/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long:  "Print the configuration after defaults, the config file and RATECOUNT_* environment variables are applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.Dump(cmd.OutOrStdout(), a.cfg)
		},
	})
	return cmd
}
