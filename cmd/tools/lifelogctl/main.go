// Package main implements lifelogctl, the maintenance CLI for a lifelog store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lifelog/lifelog/internal/app"
	"github.com/lifelog/lifelog/internal/config"
	"github.com/lifelog/lifelog/internal/logging"
)

var version = "dev" // Injected via ldflags during build

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "lifelogctl",
		Short: "Maintenance commands for a lifelog store",
		Long: `lifelogctl runs maintenance tasks directly against the store configured
for the lifelog server: schema migrations, backups, aggregate rebuilds and
zerofill sweeps. The formula and period commands work offline.

Examples:
  # Check a formula without touching the store
  lifelogctl formula check 'series "steps" / 1000'

  # Show the week containing a timestamp
  lifelogctl period 2024-03-06T10:00:00Z --period week

  # Back up the store configured in ./configs/config.yaml
  lifelogctl export backup.snappy`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")

	root.AddCommand(
		newFormulaCmd(),
		newPeriodCmd(opts),
		newMigrateCmd(opts),
		newSeriesCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newRecomputeCmd(opts),
		newZerofillCmd(opts),
	)
	return root
}

// loadConfig reads the configuration and silences the server-only parts
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Events.Type = "none"
	cfg.Events.EmbeddedNATS = false
	cfg.Zerofill.Enabled = false
	if cfg.Logging.OutputPath == "" || cfg.Logging.OutputPath == "stdout" {
		cfg.Logging.OutputPath = "stderr"
	}
	return cfg, nil
}

// openApp builds the store and engine without any background service
func (o *options) openApp(ctx context.Context) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)
	return app.New(ctx, cfg, logger)
}

// withApp runs fn against an opened app and closes it afterwards
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.openApp(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close store: %w", err)
	}
	return runErr
}
