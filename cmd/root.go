package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/theapemachine/indexpilot/advisor"
	"github.com/theapemachine/indexpilot/aggregator"
	"github.com/theapemachine/indexpilot/audit"
	"github.com/theapemachine/indexpilot/catalog"
	"github.com/theapemachine/indexpilot/config"
	"github.com/theapemachine/indexpilot/db"
	"github.com/theapemachine/indexpilot/engine"
	"github.com/theapemachine/indexpilot/executor"
	"github.com/theapemachine/indexpilot/gate"
	"github.com/theapemachine/indexpilot/logger"
	"github.com/theapemachine/indexpilot/storage"
	"github.com/theapemachine/indexpilot/telemetry"
)

var (
	cfg          *config.Config
	advisoryFlag bool
	logLevelFlag string
	dbPathFlag   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "indexpilot",
	Short: "Autonomous index advisory engine for multi-tenant databases",
	Long:  rootLong,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.New()
		cfg.SetDatabasePath(dbPathFlag)
		cfg.SetLogLevel(logLevelFlag)
		if cmd.Flags().Changed("advisory") {
			cfg.SetAdvisoryMode(advisoryFlag)
		}

		cfg.ApplyLogging()

		// Invalid configuration is fatal: refuse to start rather than run
		// with undefined behavior.
		return cfg.Validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		summary, err := eng.RunCycle(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Cycle complete: %d evaluated, %d created, %d skipped, %d failed, %d rate-limited, %d pending\n",
			summary.Evaluated, summary.Created, summary.Skipped,
			summary.Failed, summary.RateLimited, summary.Pending)
		return nil
	},
}

/*
buildEngine wires one engine instance from the validated configuration.
Every command that runs cycles or resumes approvals goes through here so
the wiring can't drift between entrypoints.
*/
func buildEngine(ctx context.Context) (*engine.Engine, func(), error) {
	conn, err := db.NewConn(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to target database: %w", err)
	}

	store, err := audit.NewStore(cfg.AuditPath)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close audit store", "error", err)
		}
		if err := conn.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}

	archive, err := buildArchive(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	cat := catalog.NewSQLCatalog(conn)

	gateOpts := []gate.GateOptionFn{
		gate.WithLimiter(gate.NewLimiter(cfg.RateLimitPerWindow, cfg.WindowSize, cfg.BurstCapacity)),
	}
	if cfg.RequireApproval {
		gateOpts = append(gateOpts, gate.WithApproval(store))
	}

	eng := engine.NewEngine(
		engine.WithSource(telemetry.NewReader(
			telemetry.WithConn(conn),
			telemetry.WithCursor(store),
		)),
		engine.WithAggregator(aggregator.NewAggregator(
			aggregator.WithWindowSize(cfg.WindowSize),
			aggregator.WithLatenessTolerance(cfg.LatenessTolerance),
		)),
		engine.WithCatalog(cat),
		engine.WithEvaluator(advisor.NewEvaluator(
			advisor.WithMinQueryThreshold(cfg.MinQueryThreshold),
			advisor.WithSafetyMargin(cfg.SafetyMargin),
		)),
		engine.WithGate(gate.NewGate(gateOpts...)),
		engine.WithExecutor(executor.NewExecutor(
			executor.WithMutator(executor.NewSQLMutator(conn)),
			executor.WithCatalog(cat),
			executor.WithBuildTimeout(cfg.BuildTimeout),
		)),
		engine.WithStore(store),
		engine.WithArchive(archive),
		engine.WithAdvisoryMode(cfg.AdvisoryMode),
		engine.WithMaxParallel(cfg.MaxParallel),
	)

	return eng, cleanup, nil
}

/*
newAuditStore opens the configured audit database.
*/
func newAuditStore() (*audit.Store, error) {
	return audit.NewStore(cfg.AuditPath)
}

/*
buildArchive creates the configured audit archive backend.
*/
func buildArchive(ctx context.Context) (storage.Archive, error) {
	if cfg.StorageType == config.S3Storage {
		return storage.NewS3Archive(ctx,
			storage.WithBucket(cfg.S3Bucket),
			storage.WithRegion(cfg.S3Region),
			storage.WithPrefix(cfg.S3Prefix),
		)
	}
	return storage.NewFileArchive(cfg.StoragePath)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&advisoryFlag, "advisory", false, "Compute and log decisions without applying any mutation")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "database", "", "Path to the target database")
}

var rootLong = `
indexpilot observes executed-query telemetry for a multi-tenant relational
database and decides, per tenant and per field, whether creating an index
would pay for itself. Builds that clear the cost model still have to pass a
layered safety gate (bypass switch, per-key mutual exclusion, token-bucket
rate limiting, optional human approval) before any schema is touched, and
every decision leaves an audit trail whether it was acted on or not.

Running without a subcommand executes a single evaluation cycle.
`
