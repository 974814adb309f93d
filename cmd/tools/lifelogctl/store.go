package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/lifelog/lifelog/internal/app"
	"github.com/lifelog/lifelog/internal/backup"
	"github.com/lifelog/lifelog/internal/calendar"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/models"
	"github.com/lifelog/lifelog/internal/store/sqlstore"
)

func newMigrateCmd(opts *options) *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the SQL schema migrations",
		Long: `Migrate the configured SQL store. Without --version the schema is moved to
the latest version; --version 0 rolls every migration back.

Examples:
  lifelogctl migrate
  lifelogctl migrate --version 1 --config configs/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg.Logging)
			if err != nil {
				return err
			}
			logging.SetGlobal(logger)
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			cfg.Store.MigrateOnStart = false
			st, err := app.OpenStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			sq, ok := st.(*sqlstore.Store)
			if !ok {
				return fmt.Errorf("store backend %s has no schema to migrate", cfg.Store.Backend)
			}
			version, err := sqlstore.Migrate(sq.DB(), sq.Backend(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", sq.Backend(), version)
			return nil
		},
	}

	cmd.Flags().IntVar(&target, "version", -1, "Target schema version, -1 for latest, 0 to roll back")
	return cmd
}

func newSeriesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Inspect series",
	}

	ls := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List every series",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				series, err := a.Engine.ListSeries(ctx)
				if err != nil {
					return err
				}
				return printSeriesTable(cmd.OutOrStdout(), series)
			})
		},
	}

	cmd.AddCommand(ls)
	return cmd
}

// printSeriesTable renders one row per series
func printSeriesTable(w io.Writer, series []*models.Series) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Name", "Kind", "Period", "Method", "Zerofill", "Formula"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, s := range series {
		period := "-"
		if s.Period > 0 {
			period = calendar.Period(s.Period).String()
		}
		data = append(data, []string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			string(s.Kind),
			period,
			string(s.Method),
			strconv.FormatBool(s.Zerofill),
			s.Formula,
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func newExportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write a backup of every series",
		Long: `Write every series and its recorded datapoints to a snappy compressed
backup. Synthetic datapoints and aggregates are recomputed on import.
Use - to write to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				w := cmd.OutOrStdout()
				if args[0] != "-" {
					f, err := os.Create(args[0])
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", args[0], err)
					}
					defer f.Close()
					w = f
				}

				start := time.Now()
				sum, err := backup.Export(ctx, a.Engine, w)
				if err != nil {
					return err
				}
				a.Logger.Info("Backup written",
					"file", args[0],
					"series", sum.Series,
					"datapoints", sum.Datapoints,
					"duration", time.Since(start))
				return nil
			})
		},
	}
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a backup into the store",
		Long: `Restore a backup written by export into a store that has none of its
series names yet. Series get new ids. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				r := cmd.InOrStdin()
				if args[0] != "-" {
					f, err := os.Open(args[0])
					if err != nil {
						return fmt.Errorf("failed to open %s: %w", args[0], err)
					}
					defer f.Close()
					r = f
				}

				sum, err := backup.Import(ctx, a.Engine, r, a.Logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d series, %d datapoints\n", sum.Series, sum.Datapoints)
				return nil
			})
		},
	}
}

func newRecomputeCmd(opts *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "recompute [name|id]...",
		Short: "Rebuild the aggregates of series",
		Long: `Rebuild every aggregate of the given series and re-evaluate the synthetic
series that read them. Series are named or given by id.

Examples:
  lifelogctl recompute steps 12
  lifelogctl recompute --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("name series to recompute or pass --all")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				series, err := resolveSeries(ctx, a, args, all)
				if err != nil {
					return err
				}
				for _, s := range series {
					if err := a.Engine.Recompute(ctx, s.ID); err != nil {
						return fmt.Errorf("failed to recompute %s: %w", s.Name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "recomputed %s (%d)\n", s.Name, s.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Recompute every series")
	return cmd
}

// resolveSeries looks series up by id when the argument is numeric and by name otherwise
func resolveSeries(ctx context.Context, a *app.App, args []string, all bool) ([]*models.Series, error) {
	if all {
		return a.Engine.ListSeries(ctx)
	}
	series := make([]*models.Series, 0, len(args))
	for _, arg := range args {
		var s *models.Series
		var err error
		if id, perr := strconv.ParseInt(arg, 10, 64); perr == nil {
			s, err = a.Engine.GetSeries(ctx, id)
		} else {
			s, err = a.Engine.GetSeriesByName(ctx, arg)
		}
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", arg, err)
		}
		series = append(series, s)
	}
	return series, nil
}

func newZerofillCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "zerofill",
		Short: "Run one zerofill sweep",
		Long: `Insert zero datapoints into the empty buckets of every series with
zerofill enabled, up to the current bucket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Zerofill.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "visited %d series, inserted %d datapoints, %d failures\n",
					res.Visited, res.Inserted, res.Failures)
				return nil
			})
		},
	}
}
