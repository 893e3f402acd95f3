package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakePG records executed statements and answers COUNT(*) queries from
// a canned per-table-reference map.
type fakePG struct {
	execs   []string
	counts  map[string]int64 // statement substring → count
	execErr func(sql string) error
}

func (f *fakePG) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if f.execErr != nil {
		if err := f.execErr(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakePG) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("fakePG: Query not supported")
}

func (f *fakePG) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	for sub, n := range f.counts {
		if strings.Contains(sql, sub) {
			return countRow{n: n}
		}
	}
	return countRow{err: errors.New("fakePG: no canned count for " + sql)}
}

type countRow struct {
	n   int64
	err error
}

func (r countRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return errors.New("countRow: expected one destination")
	}
	p, ok := dest[0].(*int64)
	if !ok {
		return errors.New("countRow: destination must be *int64")
	}
	*p = r.n
	return nil
}

func backfillConfig() *Config {
	cfg := defaultConfig()
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return &cfg
}

func TestRunBackfill(t *testing.T) {
	cfg := backfillConfig()
	db := &fakePG{counts: map[string]int64{
		"FROM public.users":     42,
		"FROM scylla_fdw.users": 42,
	}}

	source, target, skipped, err := runBackfill(context.Background(), db, testTable(), cfg)
	if err != nil {
		t.Fatalf("runBackfill() error: %v", err)
	}
	if skipped {
		t.Fatal("backfill should not be skipped by default")
	}
	if source != 42 || target != 42 {
		t.Errorf("counts = (%d, %d), want (42, 42)", source, target)
	}

	if len(db.execs) != 3 {
		t.Fatalf("expected 3 statements (timeout, lock, copy), got %d: %v", len(db.execs), db.execs)
	}
	if !strings.Contains(db.execs[0], "SET LOCAL lock_timeout = '30000ms'") {
		t.Errorf("first statement should set lock_timeout, got %q", db.execs[0])
	}
	if db.execs[1] != "LOCK TABLE public.users IN SHARE ROW EXCLUSIVE MODE" {
		t.Errorf("second statement should lock the source table, got %q", db.execs[1])
	}
	want := "INSERT INTO scylla_fdw.users (id, email, created_at, tags) SELECT id, email, created_at, tags FROM public.users"
	if db.execs[2] != want {
		t.Errorf("copy statement = %q, want %q", db.execs[2], want)
	}
}

func TestRunBackfill_LockModeFromConfig(t *testing.T) {
	cfg := backfillConfig()
	cfg.Postgres.LockMode = "ACCESS EXCLUSIVE"
	db := &fakePG{counts: map[string]int64{"FROM": 0}}

	if _, _, _, err := runBackfill(context.Background(), db, testTable(), cfg); err != nil {
		t.Fatalf("runBackfill() error: %v", err)
	}
	if db.execs[1] != "LOCK TABLE public.users IN ACCESS EXCLUSIVE MODE" {
		t.Errorf("lock statement = %q", db.execs[1])
	}
}

func TestRunBackfill_SkipConfigured(t *testing.T) {
	cfg := backfillConfig()
	cfg.Migration.SkipBackfill = true
	db := &fakePG{}

	source, target, skipped, err := runBackfill(context.Background(), db, testTable(), cfg)
	if err != nil {
		t.Fatalf("runBackfill() error: %v", err)
	}
	if !skipped {
		t.Fatal("expected skipped backfill")
	}
	if source != 0 || target != 0 {
		t.Errorf("skipped backfill should not count rows, got (%d, %d)", source, target)
	}
	for _, q := range db.execs {
		if strings.HasPrefix(q, "INSERT") || strings.Contains(q, "COUNT") {
			t.Errorf("skipped backfill should not copy or count, ran %q", q)
		}
	}
}

func TestRunBackfill_CopyError(t *testing.T) {
	cfg := backfillConfig()
	copyErr := errors.New("fdw unreachable")
	db := &fakePG{execErr: func(sql string) error {
		if strings.HasPrefix(sql, "INSERT") {
			return copyErr
		}
		return nil
	}}

	_, _, _, err := runBackfill(context.Background(), db, testTable(), cfg)
	if !errors.Is(err, copyErr) {
		t.Fatalf("expected wrapped copy error, got %v", err)
	}
}

func TestIsLockNotAvailable(t *testing.T) {
	if !isLockNotAvailable(&pgconn.PgError{Code: "55P03"}) {
		t.Error("55P03 should be detected as lock timeout")
	}
	if isLockNotAvailable(&pgconn.PgError{Code: "42P01"}) {
		t.Error("unrelated SQLSTATE should not be a lock timeout")
	}
	if isLockNotAvailable(errors.New("plain error")) {
		t.Error("plain error should not be a lock timeout")
	}
}
