package main

import "testing"

func TestCQLType(t *testing.T) {
	tests := []struct {
		dataType string
		udtName  string
		want     string
	}{
		{"smallint", "int2", "smallint"},
		{"integer", "int4", "int"},
		{"bigint", "int8", "bigint"},
		{"real", "float4", "float"},
		{"double precision", "float8", "double"},
		{"numeric", "numeric", "decimal"},
		{"boolean", "bool", "boolean"},
		{"character", "bpchar", "text"},
		{"character varying", "varchar", "text"},
		{"text", "text", "text"},
		{"bytea", "bytea", "blob"},
		{"date", "date", "date"},
		{"time without time zone", "time", "time"},
		{"timestamp without time zone", "timestamp", "timestamp"},
		{"timestamp with time zone", "timestamptz", "timestamp"},
		{"uuid", "uuid", "uuid"},
		{"inet", "inet", "inet"},
		{"json", "json", "text"},
		{"jsonb", "jsonb", "text"},
		// Arrays map to list<base> via the udt element name
		{"ARRAY", "_int4", "list<int>"},
		{"ARRAY", "_text", "list<text>"},
		{"ARRAY", "_timestamptz", "list<timestamp>"},
		// Unknown types degrade to text instead of failing
		{"tsvector", "tsvector", "text"},
		{"USER-DEFINED", "mood", "text"},
		{"ARRAY", "_mood", "list<text>"},
	}
	for _, tt := range tests {
		got := cqlType(tt.dataType, tt.udtName)
		if got != tt.want {
			t.Errorf("cqlType(%q, %q) = %q, want %q", tt.dataType, tt.udtName, got, tt.want)
		}
	}
}

func TestCQLType_Deterministic(t *testing.T) {
	inputs := []struct{ dataType, udtName string }{
		{"integer", "int4"},
		{"ARRAY", "_uuid"},
		{"some_exotic_type", "some_exotic_type"},
	}
	for _, in := range inputs {
		first := cqlType(in.dataType, in.udtName)
		second := cqlType(in.dataType, in.udtName)
		if first != second {
			t.Errorf("cqlType(%q, %q) not deterministic: %q != %q", in.dataType, in.udtName, first, second)
		}
	}
}

func TestCQLType_TotalOverKnownTypes(t *testing.T) {
	for dataType := range cqlTypes {
		if got := cqlType(dataType, ""); got == "" {
			t.Errorf("cqlType(%q) returned empty type", dataType)
		}
	}
}
