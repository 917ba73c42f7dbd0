package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linksmith/chrono-scraper-sub007/internal/backfill"
	"github.com/linksmith/chrono-scraper-sub007/internal/compact"
	"github.com/linksmith/chrono-scraper-sub007/internal/opstore"
	"github.com/linksmith/chrono-scraper-sub007/internal/query"
	"github.com/linksmith/chrono-scraper-sub007/internal/syncer"
	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/config"
	"github.com/linksmith/chrono-scraper-sub007/pkg/logger"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
	"github.com/linksmith/chrono-scraper-sub007/pkg/store"
)

var version = "0.1.0"

var configPath string

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "chrono-analytics",
		Short: "Analytics pipeline for chrono-scraper operational data",
		Long: `chrono-analytics derives a partitioned, columnar analytical store from
the chrono-scraper operational database: one-shot historical backfill,
watermark-driven incremental sync, background compaction, and a
read-only aggregate query service over the resulting parquet files.`,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file (env vars with prefix CHRONO_ override)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chrono-analytics v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(configCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(compactCmd())
	root.AddCommand(retentionCmd())
	root.AddCommand(watermarkCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired components every command needs.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool
	ops  *opstore.Store
	st   *store.Store
	opts columnar.Options
	log  *zap.Logger
}

func setup(ctx context.Context, needDB bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		st:  store.New(cfg.Store.Root),
		opts: columnar.Options{
			Compression:  cfg.Store.Compression,
			RowGroupSize: cfg.Store.RowGroupSize,
		},
		log: logger.Get(),
	}
	if needDB {
		pool, err := opstore.Connect(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.ops = opstore.New(pool, cfg.DB.Table)
		if err := opstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	_ = logger.Sync()
}

func (a *app) migrator(ctx context.Context, db opstore.DB) *backfill.Migrator {
	return backfill.New(a.ops, opstore.NewBackfillStateStore(db), a.st,
		a.opts, a.cfg.Backfill.PageSize, logger.WithContext(ctx))
}

func (a *app) engine(ctx context.Context, db opstore.DB) *syncer.Engine {
	return syncer.New(a.ops, opstore.NewWatermarkStore(db),
		opstore.NewLeaseStore(db), a.st, a.opts, a.cfg.Sync, logger.WithContext(ctx))
}

func backfillContext(parent context.Context) context.Context {
	return context.WithValue(parent, logger.JobIDKey, backfill.DefaultJob)
}

func syncContext(parent context.Context, cfg *config.Config) context.Context {
	return context.WithValue(parent, logger.StreamKey, cfg.Sync.Stream)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var out string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			if err := config.Save(out, config.NewDefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&out, "output", "o", "chrono-analytics.yaml", "Destination file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})

	return cmd
}

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "One-shot historical migration of operational records",
	}

	var fromStr, toStr string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a backfill over a time range (defaults to the full table)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			from, err := parseTime(fromStr)
			if err != nil {
				return err
			}
			to, err := parseTime(toStr)
			if err != nil {
				return err
			}
			ctx = backfillContext(ctx)
			return a.migrator(ctx, a.pool).Start(ctx, from, to)
		},
	}
	start.Flags().StringVar(&fromStr, "from", "", "Range start, RFC3339 (default: oldest record)")
	start.Flags().StringVar(&toStr, "to", "", "Range end, RFC3339, exclusive (default: newest record)")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted or failed backfill from its cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()
			ctx = backfillContext(ctx)
			return a.migrator(ctx, a.pool).Resume(ctx)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show backfill job state and cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.migrator(backfillContext(ctx), a.pool).Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	})

	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Watermark-driven incremental sync",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine(syncContext(ctx, a.cfg), a.pool).RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run sync cycles on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			err = a.engine(syncContext(ctx, a.cfg), a.pool).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	})

	return cmd
}

func compactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Partition maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Scan both datasets and compact every candidate partition once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			mgr := compact.New(a.st, a.cfg.Compaction, a.opts, a.log)
			return mgr.Pass(ctx)
		},
	})

	partitionCmd := &cobra.Command{
		Use:   "partition <relative-path>",
		Short: "Compact a single partition by its relative path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			key, err := parsePartition(args[0])
			if err != nil {
				return err
			}
			ctx = context.WithValue(ctx, logger.PartitionKey, key.Path())
			mgr := compact.New(a.st, a.cfg.Compaction, a.opts, logger.WithContext(ctx))
			outcome, err := mgr.CompactPartition(ctx, key)
			if err != nil {
				return err
			}
			fmt.Println(outcome)
			return nil
		},
	}
	cmd.AddCommand(partitionCmd)

	return cmd
}

func retentionCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Downsample expired partitions into compressed summaries",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Replace page partitions older than the cutoff with summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			age := olderThan
			if age == 0 {
				age = a.cfg.Compaction.RetentionAge
			}
			if age == 0 {
				return fmt.Errorf("no retention age configured; pass --older-than")
			}

			mgr := compact.New(a.st, a.cfg.Compaction, a.opts, a.log)
			n, err := mgr.Downsample(ctx, time.Now().UTC().Add(-age))
			if err != nil {
				return err
			}
			fmt.Printf("downsampled %d partitions\n", n)
			return nil
		},
	}
	run.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff, e.g. 8760h (default: compaction.retention_age)")
	cmd.AddCommand(run)

	return cmd
}

func watermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or reset the sync watermark",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stream's current watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			cur, ok, err := opstore.NewWatermarkStore(a.pool).Get(ctx, a.cfg.Sync.Stream)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("stream %s has never synced\n", a.cfg.Sync.Stream)
				return nil
			}
			fmt.Printf("stream %s watermark %s id %d (age %s)\n",
				a.cfg.Sync.Stream, cur.LastMutated.Format(time.RFC3339Nano), cur.ID,
				time.Since(cur.LastMutated).Round(time.Second))
			return nil
		},
	})

	var force bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stream's watermark so the next cycle starts over",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("watermark reset re-reads the entire table on the next cycle; pass --force to confirm")
			}
			ctx := cmd.Context()
			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()
			return opstore.NewWatermarkStore(a.pool).Reset(ctx, a.cfg.Sync.Stream)
		},
	}
	reset.Flags().BoolVar(&force, "force", false, "Confirm the reset")
	cmd.AddCommand(reset)

	return cmd
}

func queryCmd() *cobra.Command {
	var fromStr, toStr string
	var sources, methods, groupBy, metricNames []string
	var limit int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run an aggregate query over the page dataset",
		Example: `  chrono-analytics query --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z \
    --group-by source_kind,date --metric count,success_rate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			from, err := parseTime(fromStr)
			if err != nil {
				return err
			}
			to, err := parseTime(toStr)
			if err != nil {
				return err
			}

			svc := query.New(a.st, a.cfg.Query, a.log)
			res, err := svc.Query(ctx, query.Request{
				From:        from,
				To:          to,
				SourceKinds: sources,
				Methods:     methods,
				GroupBy:     groupBy,
				Metrics:     metricNames,
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "Range start, RFC3339 (required)")
	cmd.Flags().StringVar(&toStr, "to", "", "Range end, RFC3339, exclusive (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Filter by source kind")
	cmd.Flags().StringSliceVar(&methods, "method", nil, "Filter by extraction method")
	cmd.Flags().StringSliceVar(&groupBy, "group-by", nil, "Group-by columns")
	cmd.Flags().StringSliceVar(&metricNames, "metric", []string{"count"}, "Metrics: count, success_rate, avg_quality, sum_bytes")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum result rows (default: query.max_rows)")

	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC3339", s)
	}
	return t.UTC(), nil
}

func parsePartition(rel string) (partition.Key, error) {
	return partition.ParsePath(strings.Trim(rel, "/"))
}

func printJSON(v interface{}) error {
	out, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
