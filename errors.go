package main

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ConnectivityError means one of the two endpoints could not be
// reached. Fatal to the whole run during one-time setup; fatal only to
// the owning table's task when it happens mid-pipeline.
type ConnectivityError struct {
	Endpoint string // "postgres" or "scylla"
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s endpoint: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SchemaError means a table's DDL was rejected or a column could not
// be represented in the target store.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on table %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NoPrimaryKeyError marks a table that cannot be migrated because the
// target store requires a partition key. Recorded as Skipped, not
// Failed.
type NoPrimaryKeyError struct {
	Table string
}

func (e *NoPrimaryKeyError) Error() string {
	return fmt.Sprintf("table %s has no primary key", e.Table)
}

// VerificationMismatchError means source and target row counts differ
// after backfill. Non-fatal, but surfaced prominently since it may
// indicate data loss or concurrent-write interference.
type VerificationMismatchError struct {
	Table  string
	Source int64
	Target int64
}

func (e *VerificationMismatchError) Error() string {
	return fmt.Sprintf("row count mismatch on table %s: source=%d target=%d",
		e.Table, e.Source, e.Target)
}

// LockTimeoutError means the backfill table lock could not be acquired
// within the configured wait. Re-running the tool retries the table;
// there is no internal retry.
type LockTimeoutError struct {
	Table string
	Err   error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for lock on table %s: %v", e.Table, e.Err)
}

func (e *LockTimeoutError) Unwrap() error { return e.Err }

// isLockNotAvailable reports whether err is PostgreSQL's
// lock_not_available condition (SQLSTATE 55P03), raised when
// lock_timeout expires.
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
