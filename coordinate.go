package main

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pipeline runs the per-table provisioning stages. Each worker owns
// one pipeline backed by its own PostgreSQL connection and ScyllaDB
// session so statements from different workers never interleave on a
// shared protocol stream.
type pipeline interface {
	EnsureTargetTable(ctx context.Context, t Table) error
	CreateForeignTable(ctx context.Context, t Table) error
	InstallTrigger(ctx context.Context, t Table) error
	BackfillAndVerify(ctx context.Context, t Table) (source, target int64, skipped bool, err error)
}

// pipelineFactory opens the per-worker resources behind a pipeline.
// The returned cleanup releases them after the worker drains its slice.
type pipelineFactory func(ctx context.Context, workerID int) (pipeline, func(), error)

// partitionTables splits tables into round-robin slices, one per
// worker. Interleaved assignment keeps slice sizes within one of each
// other; table sizes are unknown at this point, so no attempt at load
// balancing beyond that.
func partitionTables(tasks []*MigrationTask, workers int) [][]*MigrationTask {
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}
	slices := make([][]*MigrationTask, workers)
	for i, t := range tasks {
		w := i % workers
		t.WorkerID = w
		slices[w] = append(slices[w], t)
	}
	return slices
}

// runCoordinator drives the whole migration: PK-less tables are
// recorded as Skipped up front, the rest are partitioned across the
// worker pool, and each worker runs its tables through the four
// pipeline stages sequentially. One task per table comes back in the
// original table order; a bad table never aborts its worker or the
// run.
func runCoordinator(ctx context.Context, schema *Schema, workers int, newPipeline pipelineFactory) []*MigrationTask {
	tasks := make([]*MigrationTask, 0, len(schema.Tables))
	var runnable []*MigrationTask
	for _, t := range schema.Tables {
		task := &MigrationTask{Table: t, WorkerID: -1}
		tasks = append(tasks, task)

		if !t.HasPrimaryKey() {
			task.Stage = StageSkipped
			task.Note = (&NoPrimaryKeyError{Table: t.Name}).Error()
			log.Printf("  skipping table %s: no primary key", t.Name)
			continue
		}
		runnable = append(runnable, task)
	}

	if len(runnable) == 0 {
		return tasks
	}

	slices := partitionTables(runnable, workers)
	log.Printf("dispatching %d table(s) across %d worker(s)", len(runnable), len(slices))

	var wg sync.WaitGroup
	for id, slice := range slices {
		wg.Add(1)
		go func(id int, slice []*MigrationTask) {
			defer wg.Done()
			runWorker(ctx, id, slice, newPipeline)
		}(id, slice)
	}
	wg.Wait()

	return tasks
}

// runWorker opens this worker's pipeline and drives its assigned
// tables through it in order. A factory failure (e.g. the worker's
// connections cannot be opened) fails every table in the slice.
func runWorker(ctx context.Context, id int, slice []*MigrationTask, newPipeline pipelineFactory) {
	p, cleanup, err := newPipeline(ctx, id)
	if err != nil {
		log.Printf("  [worker %d] cannot start: %v", id, err)
		for _, task := range slice {
			task.fail(err)
		}
		return
	}
	defer cleanup()

	for _, task := range slice {
		runTablePipeline(ctx, p, task)
		switch task.Stage {
		case StageVerified:
			log.Printf("  [worker %d] table %s: verified (%d rows)", id, task.Table.Name, task.SourceRows)
		case StageMismatched:
			log.Printf("  [worker %d] table %s: MISMATCH source=%d target=%d", id, task.Table.Name, task.SourceRows, task.TargetRows)
		case StageFailed:
			log.Printf("  [worker %d] table %s: failed: %v", id, task.Table.Name, task.Err)
		}
	}
}

// runTablePipeline advances one task through the fixed stage order:
// target schema, bridge, triggers, backfill/verify. The order matters:
// triggers must exist before the backfill read, otherwise a write
// landing mid-backfill would be counted once and never mirrored.
func runTablePipeline(ctx context.Context, p pipeline, task *MigrationTask) {
	t := task.Table

	if err := p.EnsureTargetTable(ctx, t); err != nil {
		task.fail(err)
		return
	}
	task.advance(StageTargetSchema)

	if err := p.CreateForeignTable(ctx, t); err != nil {
		task.fail(err)
		return
	}
	task.advance(StageBridge)

	if err := p.InstallTrigger(ctx, t); err != nil {
		task.fail(err)
		return
	}
	task.advance(StageTriggers)

	source, target, skipped, err := p.BackfillAndVerify(ctx, t)
	task.SourceRows = source
	task.TargetRows = target
	if err != nil {
		var mismatch *VerificationMismatchError
		if errors.As(err, &mismatch) {
			task.advance(StageMismatched)
			task.Err = err
			return
		}
		task.fail(err)
		return
	}

	task.advance(StageBackfilled)
	if skipped {
		task.Note = "backfill skipped; counts not compared"
	}
	task.advance(StageVerified)
}

// fdwPipeline is the production pipeline: CQL DDL through the worker's
// ScyllaDB session, everything else through its PostgreSQL connection.
type fdwPipeline struct {
	cfg    *Config
	pg     *pgxpool.Conn
	scylla *scyllaSession
}

func (p *fdwPipeline) EnsureTargetTable(ctx context.Context, t Table) error {
	return ensureTargetTable(ctx, p.scylla, t, p.cfg.Scylla.Keyspace)
}

func (p *fdwPipeline) CreateForeignTable(ctx context.Context, t Table) error {
	return createForeignTable(ctx, p.pg, t, p.cfg.Postgres.FDWSchema, p.cfg.Scylla.Keyspace)
}

func (p *fdwPipeline) InstallTrigger(ctx context.Context, t Table) error {
	return installReplicationTrigger(ctx, p.pg, t, p.cfg.Postgres.FDWSchema)
}

func (p *fdwPipeline) BackfillAndVerify(ctx context.Context, t Table) (int64, int64, bool, error) {
	return backfillAndVerify(ctx, p.pg, t, p.cfg)
}

// newFDWPipelineFactory builds pipelines backed by a dedicated pool
// connection and a fresh ScyllaDB session per worker.
func newFDWPipelineFactory(pool *pgxpool.Pool, cfg *Config) pipelineFactory {
	return func(ctx context.Context, workerID int) (pipeline, func(), error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, &ConnectivityError{Endpoint: "postgres", Err: err}
		}

		scylla, err := connectScylla(cfg)
		if err != nil {
			conn.Release()
			return nil, nil, err
		}

		cleanup := func() {
			scylla.Close()
			conn.Release()
		}
		return &fdwPipeline{cfg: cfg, pg: conn, scylla: scylla}, cleanup, nil
	}
}
