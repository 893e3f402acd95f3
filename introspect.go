package main

import (
	"context"
	"fmt"
)

// introspectSchema reads all base tables of a source schema, with
// their columns in ordinal order and their primary-key columns in
// catalog order. An empty schema yields an empty table list, not an
// error.
func introspectSchema(ctx context.Context, db pgExecutor, schemaName string) (*Schema, error) {
	tables, err := introspectTables(ctx, db, schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	for i := range tables {
		t := &tables[i]

		cols, err := introspectColumns(ctx, db, schemaName, t.Name)
		if err != nil {
			return nil, fmt.Errorf("introspect columns for %s: %w", t.Name, err)
		}
		t.Columns = cols

		pk, err := introspectPrimaryKey(ctx, db, schemaName, t.Name)
		if err != nil {
			return nil, fmt.Errorf("introspect primary key for %s: %w", t.Name, err)
		}
		t.PKColumns = pk
	}

	return &Schema{Tables: tables}, nil
}

func introspectTables(ctx context.Context, db pgExecutor, schemaName string) ([]Table, error) {
	rows, err := db.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`,
		schemaName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, Table{SchemaName: schemaName, Name: name})
	}
	return tables, rows.Err()
}

func introspectColumns(ctx context.Context, db pgExecutor, schemaName, tableName string) ([]Column, error) {
	rows, err := db.Query(ctx,
		`SELECT column_name, data_type, udt_name,
		        COALESCE(character_maximum_length, 0),
		        is_nullable, ordinal_position
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schemaName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &c.UDTName, &c.CharMaxLen, &nullable, &c.OrdinalPos); err != nil {
			return nil, err
		}
		c.Nullable = nullable == "YES"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// introspectPrimaryKey returns the table's primary-key column names in
// index order. An empty result is not an error; the coordinator turns
// PK-less tables into Skipped outcomes.
func introspectPrimaryKey(ctx context.Context, db pgExecutor, schemaName, tableName string) ([]string, error) {
	rows, err := db.Query(ctx,
		`SELECT a.attname
		 FROM pg_index i
		 JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		 WHERE i.indrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass AND i.indisprimary
		 ORDER BY a.attnum`,
		schemaName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pk = append(pk, name)
	}
	return pk, rows.Err()
}
