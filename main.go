package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/analyzer"
	"github.com/voca9204/db3-sub000/pkg/cache"
	"github.com/voca9204/db3-sub000/pkg/config"
	"github.com/voca9204/db3-sub000/pkg/db"
	"github.com/voca9204/db3-sub000/pkg/db/mysql"
	"github.com/voca9204/db3-sub000/pkg/db/postgres"
	"github.com/voca9204/db3-sub000/pkg/engine"
	"github.com/voca9204/db3-sub000/pkg/executor"
	"github.com/voca9204/db3-sub000/pkg/explain"
	"github.com/voca9204/db3-sub000/pkg/learning"
	"github.com/voca9204/db3-sub000/pkg/logging"
	"github.com/voca9204/db3-sub000/pkg/metrics"
	"github.com/voca9204/db3-sub000/pkg/patterns"
	"github.com/voca9204/db3-sub000/pkg/planner"
	"github.com/voca9204/db3-sub000/pkg/rewriter"
)

var (
	configPath string
	statePath  string
)

func main() {
	root := &cobra.Command{
		Use:           "dbopt",
		Short:         "Self-adjusting index optimization and query acceleration for MySQL and PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&statePath, "state", "", "path to learning state file (loaded before and saved after)")

	root.AddCommand(analyzeCmd(), cycleCmd(), statusCmd(), queryCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles everything one command invocation needs.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	database  db.Database
	metrics   *metrics.Metrics
	cache     *cache.Manager
	tracker   *patterns.Tracker
	learning  *learning.Store
	engine    *engine.Engine
	optimizer *engine.Optimizer
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	database, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New("dbopt")

	queryCache := cache.New(cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, logger)

	tracker := patterns.New(patterns.Config{
		RegenerateEvery:    cfg.Patterns.RegenerateEvery,
		MinFrequency:       cfg.Patterns.MinFrequency,
		MinConfidence:      cfg.Patterns.MinConfidence,
		MaxRecommendations: cfg.Patterns.MaxRecommendations,
	}, logger)

	rw := rewriter.New(rewriter.Config{
		DefaultLimit:  cfg.Rewriter.DefaultLimit,
		AddIndexHints: cfg.Rewriter.AddIndexHints,
	}, logger)

	planAnalyzer := explain.New(database, explain.Config{
		SlowQueryMillis:   cfg.Analysis.SlowQueryMillis,
		HistorySize:       cfg.Analysis.HistorySize,
		SlowQueryListSize: cfg.Analysis.SlowQueryListSize,
	}, logger)

	idx := analyzer.New(database, analyzer.Config{
		RedundancyThreshold:   cfg.Analyzer.RedundancyThreshold,
		InefficiencyThreshold: cfg.Analyzer.InefficiencyThreshold,
		DriftRowDeltaRatio:    cfg.Analyzer.DriftRowDeltaRatio,
	}, logger)

	pl := planner.New(planner.Config{
		CompositeMinUsage: cfg.Planner.CompositeMinUsage,
		LargeTables:       cfg.Planner.LargeTables,
		BatchSize:         cfg.Executor.BatchSize,
	}, logger)

	exec := executor.New(database, executor.Config{
		BatchSize:  cfg.Executor.BatchSize,
		BatchPause: cfg.Executor.BatchPause,
	}, logger)

	store := learning.New(cfg.Learning.HistoryCap, logger)
	if statePath != "" {
		if data, err := os.ReadFile(statePath); err == nil {
			if err := store.Import(data); err != nil {
				logger.Warn("could not import learning state", zap.Error(err))
			}
		}
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		database:  database,
		metrics:   m,
		cache:     queryCache,
		tracker:   tracker,
		learning:  store,
		engine:    engine.NewEngine(database, queryCache, rw, planAnalyzer, tracker, m, logger),
		optimizer: engine.NewOptimizer(idx, pl, exec, store, tracker, m, logger),
	}, nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (db.Database, error) {
	switch cfg.Database.Driver {
	case "mysql":
		return mysql.New(ctx, &mysql.Config{
			Host:     cfg.Database.ResolveHost(),
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
		}, logger)
	case "postgres":
		return postgres.New(ctx, &postgres.Config{
			Host:     cfg.Database.ResolveHost(),
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func (a *app) close() {
	a.cache.Stop()
	if statePath != "" {
		if data, err := a.learning.Export(); err == nil {
			if err := os.WriteFile(statePath, data, 0o644); err != nil {
				a.logger.Warn("could not save learning state", zap.Error(err))
			}
		}
	}
	if err := a.database.Close(); err != nil {
		a.logger.Warn("error closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.optimizer.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func cycleCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one full analyze/plan/execute/learn cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if dryRun {
				plan, err := a.optimizer.Plan(cmd.Context(), nil)
				if err != nil {
					return err
				}
				return printJSON(plan)
			}

			result, err := a.optimizer.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build and print the plan without executing it")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print optimizer status, trends and insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return printJSON(a.optimizer.Status())
		},
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Run one statement through the acceleration path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := a.engine.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}
}

func runCmd() *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run optimization cycles periodically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						a.logger.Error("metrics server failed", zap.Error(err))
					}
				}()
				defer srv.Close()
				a.logger.Info("metrics server listening", zap.String("addr", metricsAddr))
			}

			a.logger.Info("starting periodic optimization", zap.Duration("interval", interval))
			if err := a.optimizer.RunPeriodic(ctx, interval); err != nil && ctx.Err() == nil {
				return err
			}
			a.logger.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "time between cycles")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint (empty disables)")
	return cmd
}
