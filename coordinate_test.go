package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeTablePipeline answers stage calls from canned per-table results
// and records call order. Safe for concurrent workers.
type fakeTablePipeline struct {
	mu    sync.Mutex
	calls []string

	failTable string
	failStage string
	failErr   error

	mismatchTable string
	rows          int64
	skipBackfill  bool
}

func (p *fakeTablePipeline) record(stage string, t Table) error {
	p.mu.Lock()
	p.calls = append(p.calls, stage+":"+t.Name)
	p.mu.Unlock()
	if t.Name == p.failTable && stage == p.failStage {
		if p.failErr != nil {
			return p.failErr
		}
		return fmt.Errorf("injected %s failure on %s", stage, t.Name)
	}
	return nil
}

func (p *fakeTablePipeline) EnsureTargetTable(_ context.Context, t Table) error {
	return p.record("target", t)
}

func (p *fakeTablePipeline) CreateForeignTable(_ context.Context, t Table) error {
	return p.record("bridge", t)
}

func (p *fakeTablePipeline) InstallTrigger(_ context.Context, t Table) error {
	return p.record("trigger", t)
}

func (p *fakeTablePipeline) BackfillAndVerify(_ context.Context, t Table) (int64, int64, bool, error) {
	if err := p.record("backfill", t); err != nil {
		return 0, 0, false, err
	}
	if p.skipBackfill {
		return 0, 0, true, nil
	}
	if t.Name == p.mismatchTable {
		return p.rows, p.rows - 1, false, &VerificationMismatchError{Table: t.Name, Source: p.rows, Target: p.rows - 1}
	}
	return p.rows, p.rows, false, nil
}

func (p *fakeTablePipeline) factory() pipelineFactory {
	return func(context.Context, int) (pipeline, func(), error) {
		return p, func() {}, nil
	}
}

func pkTable(name string) Table {
	return Table{
		SchemaName: "public",
		Name:       name,
		Columns: []Column{
			{Name: "id", DataType: "integer", UDTName: "int4", OrdinalPos: 1},
			{Name: "body", DataType: "text", UDTName: "text", OrdinalPos: 2},
		},
		PKColumns: []string{"id"},
	}
}

func TestPartitionTables_Fairness(t *testing.T) {
	tests := []struct {
		tables  int
		workers int
	}{
		{10, 4}, {3, 4}, {1, 4}, {12, 3}, {7, 2}, {5, 1},
	}
	for _, tt := range tests {
		tasks := make([]*MigrationTask, tt.tables)
		for i := range tasks {
			tasks[i] = &MigrationTask{Table: pkTable(fmt.Sprintf("t%d", i)), WorkerID: -1}
		}

		slices := partitionTables(tasks, tt.workers)

		total, minSize, maxSize := 0, tt.tables, 0
		for w, slice := range slices {
			total += len(slice)
			if len(slice) < minSize {
				minSize = len(slice)
			}
			if len(slice) > maxSize {
				maxSize = len(slice)
			}
			for _, task := range slice {
				if task.WorkerID != w {
					t.Errorf("%d tables/%d workers: task %s assigned to %d but found in slice %d",
						tt.tables, tt.workers, task.Table.Name, task.WorkerID, w)
				}
			}
		}
		if total != tt.tables {
			t.Errorf("%d tables/%d workers: %d tables assigned", tt.tables, tt.workers, total)
		}
		if maxSize-minSize > 1 {
			t.Errorf("%d tables/%d workers: slice sizes uneven (min %d, max %d)",
				tt.tables, tt.workers, minSize, maxSize)
		}
	}
}

func TestRunCoordinator_SkipsTablesWithoutPrimaryKey(t *testing.T) {
	noPK := pkTable("audit_log")
	noPK.PKColumns = nil
	schema := &Schema{Tables: []Table{pkTable("users"), noPK}}

	p := &fakeTablePipeline{rows: 5}
	tasks := runCoordinator(context.Background(), schema, 2, p.factory())

	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Stage != StageVerified {
		t.Errorf("users stage = %s, want verified", tasks[0].Stage)
	}
	if tasks[1].Stage != StageSkipped {
		t.Errorf("audit_log stage = %s, want skipped", tasks[1].Stage)
	}
	if tasks[1].Err != nil {
		t.Errorf("skipped table should not carry an error, got %v", tasks[1].Err)
	}

	// The pipeline must never see the PK-less table.
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, call := range p.calls {
		if call == "target:audit_log" {
			t.Error("PK-less table entered the pipeline")
		}
	}
}

func TestRunCoordinator_OneBadTableDoesNotStopOthers(t *testing.T) {
	schema := &Schema{Tables: []Table{pkTable("t1"), pkTable("t2"), pkTable("t3")}}

	p := &fakeTablePipeline{
		rows:      7,
		failTable: "t2",
		failStage: "target",
		failErr:   &SchemaError{Table: "t2", Err: errors.New("unmappable type")},
	}
	tasks := runCoordinator(context.Background(), schema, 1, p.factory())

	if tasks[0].Stage != StageVerified || tasks[2].Stage != StageVerified {
		t.Errorf("t1/t3 stages = %s/%s, want verified/verified", tasks[0].Stage, tasks[2].Stage)
	}
	if tasks[1].Stage != StageFailed {
		t.Errorf("t2 stage = %s, want failed", tasks[1].Stage)
	}
	var schemaErr *SchemaError
	if !errors.As(tasks[1].Err, &schemaErr) {
		t.Errorf("t2 error = %v, want SchemaError", tasks[1].Err)
	}
}

func TestRunCoordinator_MismatchIsNotFailure(t *testing.T) {
	schema := &Schema{Tables: []Table{pkTable("t1"), pkTable("t2")}}

	p := &fakeTablePipeline{rows: 10, mismatchTable: "t2"}
	tasks := runCoordinator(context.Background(), schema, 2, p.factory())

	if tasks[0].Stage != StageVerified {
		t.Errorf("t1 stage = %s, want verified", tasks[0].Stage)
	}
	if tasks[1].Stage != StageMismatched {
		t.Errorf("t2 stage = %s, want mismatched", tasks[1].Stage)
	}
	if tasks[1].SourceRows != 10 || tasks[1].TargetRows != 9 {
		t.Errorf("mismatch counts = (%d, %d), want (10, 9)", tasks[1].SourceRows, tasks[1].TargetRows)
	}
	var mismatch *VerificationMismatchError
	if !errors.As(tasks[1].Err, &mismatch) {
		t.Errorf("t2 error = %v, want VerificationMismatchError", tasks[1].Err)
	}
}

func TestRunCoordinator_SkippedBackfillStillVerifies(t *testing.T) {
	schema := &Schema{Tables: []Table{pkTable("t1")}}

	p := &fakeTablePipeline{skipBackfill: true}
	tasks := runCoordinator(context.Background(), schema, 1, p.factory())

	if tasks[0].Stage != StageVerified {
		t.Fatalf("stage = %s, want verified", tasks[0].Stage)
	}
	if tasks[0].Note == "" {
		t.Error("skipped backfill should leave a note that counts were not compared")
	}
}

func TestRunCoordinator_FactoryErrorFailsSlice(t *testing.T) {
	schema := &Schema{Tables: []Table{pkTable("t1"), pkTable("t2")}}

	factoryErr := &ConnectivityError{Endpoint: "scylla", Err: errors.New("no route to host")}
	factory := func(context.Context, int) (pipeline, func(), error) {
		return nil, nil, factoryErr
	}
	tasks := runCoordinator(context.Background(), schema, 1, factory)

	for _, task := range tasks {
		if task.Stage != StageFailed {
			t.Errorf("table %s stage = %s, want failed", task.Table.Name, task.Stage)
		}
		if !errors.Is(task.Err, factoryErr) {
			t.Errorf("table %s error = %v, want factory error", task.Table.Name, task.Err)
		}
	}
}

func TestRunTablePipeline_StageOrder(t *testing.T) {
	p := &fakeTablePipeline{rows: 1}
	task := &MigrationTask{Table: pkTable("users")}

	runTablePipeline(context.Background(), p, task)

	want := []string{"target:users", "bridge:users", "trigger:users", "backfill:users"}
	if len(p.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Fatalf("stage order = %v, want %v", p.calls, want)
		}
	}
	if task.Stage != StageVerified {
		t.Errorf("final stage = %s, want verified", task.Stage)
	}
}

func TestRunTablePipeline_StopsAtFailedStage(t *testing.T) {
	p := &fakeTablePipeline{failTable: "users", failStage: "trigger"}
	task := &MigrationTask{Table: pkTable("users")}

	runTablePipeline(context.Background(), p, task)

	if task.Stage != StageFailed {
		t.Fatalf("stage = %s, want failed", task.Stage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, call := range p.calls {
		if call == "backfill:users" {
			t.Error("backfill must not run after a trigger-stage failure")
		}
	}
}
