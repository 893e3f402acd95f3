package main

import "strings"

// cqlTypes maps PostgreSQL type names to CQL types. Anything absent
// falls back to text so exotic columns degrade instead of aborting the
// table's migration.
var cqlTypes = map[string]string{
	"smallint":                    "smallint",
	"int2":                        "smallint",
	"integer":                     "int",
	"int4":                        "int",
	"bigint":                      "bigint",
	"int8":                        "bigint",
	"real":                        "float",
	"float4":                      "float",
	"double precision":            "double",
	"float8":                      "double",
	"numeric":                     "decimal",
	"decimal":                     "decimal",
	"boolean":                     "boolean",
	"bool":                        "boolean",
	"character":                   "text",
	"bpchar":                      "text",
	"character varying":           "text",
	"varchar":                     "text",
	"text":                        "text",
	"bytea":                       "blob",
	"date":                        "date",
	"time":                        "time",
	"time without time zone":      "time",
	"timestamp":                   "timestamp",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamp",
	"timestamptz":                 "timestamp",
	"uuid":                        "uuid",
	"inet":                        "inet",
	"json":                        "text",
	"jsonb":                       "text",
}

// cqlType converts a PostgreSQL column type to its CQL equivalent.
// Array columns (data_type "ARRAY") map to list<base> using the
// udt_name with its leading underscore stripped. Deterministic and
// total: unknown types map to text.
func cqlType(dataType, udtName string) string {
	if strings.EqualFold(dataType, "ARRAY") && udtName != "" {
		base := strings.TrimPrefix(udtName, "_")
		return "list<" + cqlType(base, "") + ">"
	}
	if t, ok := cqlTypes[strings.ToLower(dataType)]; ok {
		return t
	}
	return "text"
}

// cqlColumnType maps a whole column, resolving array element types.
func cqlColumnType(col Column) string {
	return cqlType(col.DataType, col.UDTName)
}
