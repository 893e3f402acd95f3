package main

// Column represents a single column from the PostgreSQL catalog.
type Column struct {
	Name       string
	DataType   string // e.g. "integer", "character varying", "ARRAY"
	UDTName    string // underlying type name, e.g. "_int4" for integer arrays
	CharMaxLen int64  // 0 when not applicable
	Nullable   bool
	OrdinalPos int
}

// Table holds the full introspected definition of a source table.
// PKColumns preserves catalog order; the first entry heads the
// partition key in the target store.
type Table struct {
	SchemaName string
	Name       string
	Columns    []Column
	PKColumns  []string
}

// HasPrimaryKey reports whether the table can be migrated at all.
// ScyllaDB requires a partition key, so PK-less tables are skipped.
func (t Table) HasPrimaryKey() bool {
	return len(t.PKColumns) > 0
}

func (t Table) isPKColumn(name string) bool {
	for _, pk := range t.PKColumns {
		if pk == name {
			return true
		}
	}
	return false
}

// Schema holds all introspected tables for a source schema.
type Schema struct {
	Tables []Table
}

// Stage tracks a table's progress through the migration pipeline.
// Values are ordered: a task's stage never decreases, except that any
// stage may be overwritten by StageFailed, which is terminal.
type Stage int

const (
	StagePending Stage = iota
	StageTargetSchema
	StageBridge
	StageTriggers
	StageBackfilled
	StageVerified
	StageSkipped
	StageMismatched
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageTargetSchema:
		return "target schema created"
	case StageBridge:
		return "bridge provisioned"
	case StageTriggers:
		return "triggers installed"
	case StageBackfilled:
		return "backfilled"
	case StageVerified:
		return "verified"
	case StageSkipped:
		return "skipped"
	case StageMismatched:
		return "mismatched"
	case StageFailed:
		return "failed"
	}
	return "unknown"
}

// terminal reports whether no further stage transitions are allowed.
func (s Stage) terminal() bool {
	switch s {
	case StageVerified, StageSkipped, StageMismatched, StageFailed:
		return true
	}
	return false
}

// MigrationTask is the unit of work for one table. It is created by
// the coordinator and mutated only by the single worker that owns it.
type MigrationTask struct {
	Table      Table
	WorkerID   int
	Stage      Stage
	Err        error
	Note       string
	SourceRows int64
	TargetRows int64
}

// advance moves the task to a later stage. Moves to earlier stages and
// transitions out of a terminal stage are ignored.
func (t *MigrationTask) advance(s Stage) {
	if t.Stage.terminal() || s <= t.Stage {
		return
	}
	t.Stage = s
}

// fail marks the task terminally failed with the causing error.
func (t *MigrationTask) fail(err error) {
	if t.Stage.terminal() {
		return
	}
	t.Stage = StageFailed
	t.Err = err
}
