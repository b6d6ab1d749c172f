package etl

import (
	"slices"

	"ingest/internal/flatten"
)

// ── Record / Row ───────────────────────────────────────────
// Sources emit nested Records (one per API object). The flattening engine
// turns each Record into flat Rows, and destinations consume Rows.
// Inspired by the Airbyte record protocol / Singer record message.

// Record is one root object as returned by a source, still nested.
type Record struct {
	Data flatten.Record `json:"data"`
}

// Row is a flat table row ready for a destination.
type Row = flatten.Row

// Field describes a single column in a table.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"` // "text" | "number" | "boolean" | "datetime"
}

// TableSchema declares a destination table and its primary key. Columns are
// optional: destinations add missing columns as rows arrive.
type TableSchema struct {
	Table      string   `json:"table" yaml:"table"`
	PrimaryKey []string `json:"primaryKey" yaml:"primary_key"`
	Columns    []Field  `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// FieldNames returns an ordered list of column names.
func (s *TableSchema) FieldNames() []string {
	names := make([]string, len(s.Columns))
	for i, f := range s.Columns {
		names[i] = f.Name
	}
	return names
}

// KeyValues returns the primary-key values of row, or false when any of
// them is missing or null.
func (s *TableSchema) KeyValues(row map[string]any) (map[string]any, bool) {
	if len(s.PrimaryKey) == 0 {
		return nil, false
	}
	keys := make(map[string]any, len(s.PrimaryKey))
	for _, k := range s.PrimaryKey {
		v, ok := row[k]
		if !ok || v == nil {
			return nil, false
		}
		keys[k] = v
	}
	return keys, true
}

// Schemas indexes table schemas by name.
type Schemas map[string]*TableSchema

// NewSchemas builds the index, ignoring duplicate tables after the first.
func NewSchemas(tables []TableSchema) Schemas {
	out := make(Schemas, len(tables))
	for i := range tables {
		if _, ok := out[tables[i].Table]; !ok {
			t := tables[i]
			t.PrimaryKey = slices.Clone(t.PrimaryKey)
			out[t.Table] = &t
		}
	}
	return out
}

// inferType maps a row value to a column type hint.
func inferType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, uint, uint64:
		return "number"
	default:
		if _, ok := v.(interface{ Float64() (float64, error) }); ok {
			return "number"
		}
		return "text"
	}
}

// ColumnsOf lists the columns of row in sorted order with inferred types.
func ColumnsOf(row map[string]any) []Field {
	names := make([]string, 0, len(row))
	for k := range row {
		names = append(names, k)
	}
	slices.Sort(names)
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n, Type: inferType(row[n])}
	}
	return fields
}
