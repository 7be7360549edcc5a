// Package cmd implements the ratecount command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhalm/ratecount"
	"github.com/nhalm/ratecount/internal/config"
	"github.com/nhalm/ratecount/internal/observability"
)

// Version info set by main package
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// app holds state shared by the commands of one invocation.
type app struct {
	cfgFile string
	verbose bool
	cfg     *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ratecount",
		Short: "Fixed-window request counters backed by Redis",
		Long: `ratecount counts requests per key in fixed time windows.

Counts are kept in a Redis hash per day so every process sharing the store sees the
same totals. Use the subcommands to serve counters over HTTP or work with them directly.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	root.AddCommand(
		newServeCmd(a),
		newIncrCmd(a),
		newInspectCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	if err := observability.InitCLILogger(a.verbose); err != nil {
		return err
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("file", a.cfgFile),
		zap.String("driver", cfg.Counter.Driver))
	return nil
}

func (a *app) openCounter() (ratecount.Counter, error) {
	counter, err := ratecount.New(a.cfg.Counter)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s counter: %w", a.cfg.Counter.Driver, err)
	}
	return counter, nil
}
