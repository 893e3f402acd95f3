package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// lockModes enumerates the PostgreSQL table lock modes accepted for
// backfill. Weaker modes tolerate more concurrent activity on the
// source table at the cost of a higher chance the verification counts
// race against writes arriving through already-installed triggers.
var lockModes = map[string]bool{
	"ACCESS SHARE":           true,
	"ROW SHARE":              true,
	"ROW EXCLUSIVE":          true,
	"SHARE UPDATE EXCLUSIVE": true,
	"SHARE":                  true,
	"SHARE ROW EXCLUSIVE":    true,
	"EXCLUSIVE":              true,
	"ACCESS EXCLUSIVE":       true,
}

// txBeginner is the subset of a pgx connection needed to open the
// backfill transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// backfillAndVerify copies pre-existing rows from the source table
// into the foreign table and compares row counts, all inside one
// transaction holding the configured table lock. The transaction
// always ends here, so a stuck lock never outlives a single table's
// migration. Returns the two counts and whether the copy was skipped.
func backfillAndVerify(ctx context.Context, db txBeginner, t Table, cfg *Config) (source, target int64, skipped bool, err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("begin backfill tx for %s: %w", t.Name, err)
	}
	defer tx.Rollback(ctx)

	source, target, skipped, err = runBackfill(ctx, tx, t, cfg)
	if err != nil {
		if isLockNotAvailable(err) {
			return 0, 0, false, &LockTimeoutError{Table: t.Name, Err: err}
		}
		return 0, 0, false, err
	}

	// Commit regardless of whether the counts matched; the lock must
	// be released either way and the copied rows live in ScyllaDB, not
	// in this transaction.
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, false, fmt.Errorf("commit backfill tx for %s: %w", t.Name, err)
	}

	if !skipped && source != target {
		return source, target, false, &VerificationMismatchError{Table: t.Name, Source: source, Target: target}
	}
	return source, target, skipped, nil
}

// runBackfill performs the lock, copy, and count steps inside the
// caller's transaction.
func runBackfill(ctx context.Context, tx pgExecutor, t Table, cfg *Config) (source, target int64, skipped bool, err error) {
	tableRef := pgQualified(t.SchemaName, t.Name)
	foreignRef := pgQualified(cfg.Postgres.FDWSchema, t.Name)

	// lock_timeout cannot be bound as a parameter; the value comes
	// from a validated config duration, not user SQL.
	setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", cfg.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, setTimeout); err != nil {
		return 0, 0, false, fmt.Errorf("set lock_timeout: %w", err)
	}

	lock := fmt.Sprintf("LOCK TABLE %s IN %s MODE", tableRef, cfg.Postgres.LockMode)
	if _, err := tx.Exec(ctx, lock); err != nil {
		return 0, 0, false, fmt.Errorf("lock table %s: %w", t.Name, err)
	}

	if cfg.Migration.SkipBackfill {
		return 0, 0, true, nil
	}

	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pgIdent(c.Name)
	}
	colList := strings.Join(cols, ", ")

	copyStmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		foreignRef, colList, colList, tableRef)
	if _, err := tx.Exec(ctx, copyStmt); err != nil {
		return 0, 0, false, fmt.Errorf("backfill %s: %w", t.Name, err)
	}

	if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", tableRef)).Scan(&source); err != nil {
		return 0, 0, false, fmt.Errorf("count source rows for %s: %w", t.Name, err)
	}
	if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", foreignRef)).Scan(&target); err != nil {
		return 0, 0, false, fmt.Errorf("count target rows for %s: %w", t.Name, err)
	}

	return source, target, false, nil
}
