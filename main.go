package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pg2scylla [config.toml]",
	Short: "PostgreSQL to ScyllaDB replication setup tool",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSetup,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to setup TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// pgExecutor is the subset of a pgx connection shared by introspection
// and the DDL/DML helpers; pools, dedicated connections, and
// transactions all satisfy it.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func runSetup(cmd *cobra.Command, args []string) error {
	// Resolve config path: positional arg takes precedence over --config flag
	cfgPath := configPath
	if len(args) > 0 {
		cfgPath = args[0]
	}
	if cfgPath == "" {
		return fmt.Errorf("config file required: pg2scylla <config.toml> or pg2scylla --config <config.toml>")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	start := time.Now()

	log.Printf("pg2scylla — PostgreSQL → ScyllaDB replication setup")
	log.Printf(
		"config: workers=%d source_schema=%s fdw_schema=%s keyspace=%s lock_mode=%q skip_backfill=%t",
		cfg.Migration.Workers,
		cfg.Postgres.SourceSchema,
		cfg.Postgres.FDWSchema,
		cfg.Scylla.Keyspace,
		cfg.Postgres.LockMode,
		cfg.Migration.SkipBackfill,
	)

	// 1. Connect to PostgreSQL
	log.Printf("connecting to PostgreSQL at %s:%d...", cfg.Postgres.Host, cfg.Postgres.Port)
	pgPool, err := connectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pgPool.Close()

	// 2. Connect to ScyllaDB (coordinator session, used for shared setup)
	log.Printf("connecting to ScyllaDB at %s:%d...", cfg.Scylla.Host, cfg.Scylla.Port)
	scylla, err := connectScyllaWithRetry(cfg)
	if err != nil {
		return err
	}
	defer scylla.Close()

	// 3. Introspect the source schema
	log.Printf("introspecting schema '%s'...", cfg.Postgres.SourceSchema)
	schema, err := introspectSchema(ctx, pgPool, cfg.Postgres.SourceSchema)
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}
	if len(schema.Tables) == 0 {
		log.Printf("no tables found in schema '%s', nothing to do", cfg.Postgres.SourceSchema)
		return nil
	}
	log.Printf("found %d table(s)", len(schema.Tables))
	for _, t := range schema.Tables {
		log.Printf("  %s (%d cols, pk: %v)", t.Name, len(t.Columns), t.PKColumns)
	}

	// 4. One-time shared setup, strictly before the worker pool: the
	// extension, FDW schema, foreign server, user mapping, and
	// keyspace are catalog state shared by all workers.
	log.Printf("provisioning FDW bridge...")
	if err := ensureBridge(ctx, pgPool, cfg); err != nil {
		return fmt.Errorf("bridge setup: %w", err)
	}
	log.Printf("ensuring keyspace '%s'...", cfg.Scylla.Keyspace)
	if err := ensureKeyspace(ctx, scylla, cfg.Scylla.Keyspace); err != nil {
		return fmt.Errorf("keyspace setup: %w", err)
	}

	// 5. Per-table provisioning and backfill across the worker pool
	tasks := runCoordinator(ctx, schema, cfg.Migration.Workers, newFDWPipelineFactory(pgPool, cfg))

	// 6. Report
	report := buildReport(tasks)
	report.render(os.Stdout)
	log.Printf("setup completed in %s", time.Since(start).Round(time.Millisecond))

	if !report.OK() {
		return fmt.Errorf("%d table(s) failed, %d mismatched", report.Failed, report.Mismatched)
	}
	return nil
}

// connectPostgres opens the coordinator pool and pings it with
// exponential backoff, so a database still starting up does not fail
// the run immediately.
func connectPostgres(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.postgresDSN())
	if err != nil {
		return nil, &ConnectivityError{Endpoint: "postgres", Err: err}
	}
	// One dedicated connection per worker plus the coordinator's own.
	poolCfg.MaxConns = int32(cfg.Migration.Workers + 1)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &ConnectivityError{Endpoint: "postgres", Err: err}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.connectTimeout
	if err := backoff.Retry(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(bo, ctx)); err != nil {
		pool.Close()
		return nil, &ConnectivityError{Endpoint: "postgres", Err: err}
	}
	return pool, nil
}

// connectScyllaWithRetry wraps session creation in the same backoff
// policy as the PostgreSQL side.
func connectScyllaWithRetry(cfg *Config) (*scyllaSession, error) {
	var session *scyllaSession

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.connectTimeout
	if err := backoff.Retry(func() error {
		var err error
		session, err = connectScylla(cfg)
		return err
	}, bo); err != nil {
		return nil, err
	}
	return session, nil
}
