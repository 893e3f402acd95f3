package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const fdwServerName = "scylla_server"

// ensureBridge installs the scylla_fdw extension, the FDW schema, the
// foreign server, and the user mapping. Touches catalog objects
// visible to every worker, so the coordinator calls it exactly once
// before the pool starts; it must not run concurrently with itself.
//
// The server is dropped and recreated instead of reused so a changed
// ScyllaDB address takes effect on rerun. Foreign tables hang off the
// server and are recreated per table anyway.
func ensureBridge(ctx context.Context, db pgExecutor, cfg *Config) error {
	if _, err := db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS scylla_fdw"); err != nil {
		return fmt.Errorf("create extension scylla_fdw: %w", err)
	}

	if _, err := db.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgIdent(cfg.Postgres.FDWSchema))); err != nil {
		return fmt.Errorf("create fdw schema: %w", err)
	}

	if _, err := db.Exec(ctx, fmt.Sprintf("DROP SERVER IF EXISTS %s CASCADE", fdwServerName)); err != nil {
		return fmt.Errorf("drop foreign server: %w", err)
	}

	createServer := fmt.Sprintf(
		"CREATE SERVER %s FOREIGN DATA WRAPPER scylla_fdw OPTIONS (host %s, port %s)",
		fdwServerName,
		pgLiteral(cfg.Scylla.FDWHost),
		pgLiteral(strconv.Itoa(cfg.Scylla.Port)),
	)
	if _, err := db.Exec(ctx, createServer); err != nil {
		return fmt.Errorf("create foreign server: %w", err)
	}

	mapping := generateUserMapping(cfg.Postgres.User, cfg.Scylla.User, cfg.Scylla.Password)
	if _, err := db.Exec(ctx, mapping); err != nil {
		return fmt.Errorf("create user mapping: %w", err)
	}

	return nil
}

// generateUserMapping builds the CREATE USER MAPPING statement for the
// PostgreSQL role driving the bridge. Credentials are attached only
// when ScyllaDB authentication is configured.
func generateUserMapping(pgUser, scyllaUser, scyllaPassword string) string {
	stmt := fmt.Sprintf("CREATE USER MAPPING IF NOT EXISTS FOR %s SERVER %s", pgIdent(pgUser), fdwServerName)
	if scyllaUser != "" {
		stmt += fmt.Sprintf(" OPTIONS (username %s, password %s)",
			pgLiteral(scyllaUser), pgLiteral(scyllaPassword))
	}
	return stmt
}

// foreignColumnType renders the PostgreSQL-side column type for a
// foreign table. character types keep their declared length; array
// columns are rendered from the element udt_name since
// information_schema reports their data_type as just "ARRAY".
func foreignColumnType(col Column) string {
	switch strings.ToLower(col.DataType) {
	case "character varying", "character":
		if col.CharMaxLen > 0 {
			return fmt.Sprintf("%s(%d)", strings.ToLower(col.DataType), col.CharMaxLen)
		}
	case "array":
		if col.UDTName != "" {
			return strings.TrimPrefix(col.UDTName, "_") + "[]"
		}
	}
	return col.DataType
}

// generateForeignTable produces the CREATE FOREIGN TABLE statement
// mapping a source table onto its ScyllaDB counterpart.
func generateForeignTable(t Table, fdwSchema, keyspace string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE FOREIGN TABLE %s (\n", pgQualified(fdwSchema, t.Name))

	for i, col := range t.Columns {
		fmt.Fprintf(&b, "  %s %s", pgIdent(col.Name), foreignColumnType(col))
		if i < len(t.Columns)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, ") SERVER %s\nOPTIONS (keyspace %s, table %s, primary_key %s)",
		fdwServerName,
		pgLiteral(keyspace),
		pgLiteral(t.Name),
		pgLiteral(strings.Join(t.PKColumns, ", ")),
	)
	return b.String()
}

// createForeignTable drops and recreates the foreign table for a
// source table. Drop-then-recreate rather than skip-if-exists: the
// foreign table carries no data of its own, and recreating picks up
// source schema changes on rerun.
func createForeignTable(ctx context.Context, db pgExecutor, t Table, fdwSchema, keyspace string) error {
	drop := fmt.Sprintf("DROP FOREIGN TABLE IF EXISTS %s CASCADE", pgQualified(fdwSchema, t.Name))
	if _, err := db.Exec(ctx, drop); err != nil {
		return &SchemaError{Table: t.Name, Err: fmt.Errorf("drop foreign table: %w", err)}
	}

	create := generateForeignTable(t, fdwSchema, keyspace)
	if _, err := db.Exec(ctx, create); err != nil {
		return &SchemaError{Table: t.Name, Err: fmt.Errorf("create foreign table: %w", err)}
	}
	return nil
}
