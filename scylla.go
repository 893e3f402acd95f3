package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gocql/gocql"
)

// cqlExecutor abstracts statement execution against ScyllaDB so DDL
// code is testable without a live cluster.
type cqlExecutor interface {
	Exec(ctx context.Context, stmt string) error
}

// scyllaSession wraps a gocql session as a cqlExecutor.
type scyllaSession struct {
	session *gocql.Session
}

func (s *scyllaSession) Exec(ctx context.Context, stmt string) error {
	return s.session.Query(stmt).WithContext(ctx).Exec()
}

func (s *scyllaSession) Close() {
	s.session.Close()
}

// connectScylla opens a CQL session against the ScyllaDB endpoint.
func connectScylla(cfg *Config) (*scyllaSession, error) {
	cluster := gocql.NewCluster(cfg.Scylla.Host)
	cluster.Port = cfg.Scylla.Port
	cluster.Timeout = cfg.connectTimeout
	cluster.ConnectTimeout = cfg.connectTimeout
	if cfg.Scylla.User != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Scylla.User,
			Password: cfg.Scylla.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, &ConnectivityError{Endpoint: "scylla", Err: err}
	}
	return &scyllaSession{session: session}, nil
}

// ensureKeyspace creates the target keyspace if it does not exist.
// Shared catalog state: called once by the coordinator before the
// worker pool starts.
func ensureKeyspace(ctx context.Context, exec cqlExecutor, keyspace string) error {
	stmt := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}",
		cqlIdent(keyspace),
	)
	if err := exec.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// generateTargetTable produces the CREATE TABLE statement for the
// ScyllaDB side of a source table. A single PK column becomes a plain
// partition key; multiple PK columns are folded into one composite
// partition key with no clustering columns. That sacrifices
// wide-column query efficiency for a direct structural mirror of the
// source PK; kept deliberately.
func generateTargetTable(t Table, keyspace string) (string, error) {
	if !t.HasPrimaryKey() {
		return "", &NoPrimaryKeyError{Table: t.Name}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s.%s (\n", cqlIdent(keyspace), cqlIdent(t.Name))

	for _, col := range t.Columns {
		// The type mapper is total, so only a malformed catalog entry
		// can leave a column unrepresentable.
		if col.Name == "" || col.DataType == "" {
			return "", &SchemaError{Table: t.Name, Err: fmt.Errorf("malformed catalog entry for column %q (type %q)", col.Name, col.DataType)}
		}
		fmt.Fprintf(&b, "  %s %s,\n", cqlIdent(col.Name), cqlColumnType(col))
	}

	pk := make([]string, len(t.PKColumns))
	for i, c := range t.PKColumns {
		pk[i] = cqlIdent(c)
	}
	if len(pk) == 1 {
		fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n", pk[0])
	} else {
		fmt.Fprintf(&b, "  PRIMARY KEY ((%s))\n", strings.Join(pk, ", "))
	}

	b.WriteString(")")
	return b.String(), nil
}

// ensureTargetTable creates the ScyllaDB table for a source table.
// Idempotent: rerunning on an unchanged descriptor is a no-op.
func ensureTargetTable(ctx context.Context, exec cqlExecutor, t Table, keyspace string) error {
	stmt, err := generateTargetTable(t, keyspace)
	if err != nil {
		return err
	}
	if err := exec.Exec(ctx, stmt); err != nil {
		return &SchemaError{Table: t.Name, Err: fmt.Errorf("create target table: %w", err)}
	}
	return nil
}
