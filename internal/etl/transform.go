package etl

import (
	"fmt"
	"strconv"
	"strings"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify flat rows between the flattening engine and the
// destination. They are composable: each takes a row, returns a (possibly
// modified) row and a boolean indicating whether to keep it.
//
// Pattern: Benthos processor chain.

// Transformer processes a single row.
// Returns (transformed row, keep). If keep is false, the row is dropped.
type Transformer interface {
	Transform(Row) (Row, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Row) (Row, bool)

func (f TransformerFunc) Transform(r Row) (Row, bool) { return f(r) }

// scoped reports whether a transform bound to table applies to r.
// An empty table applies to every row.
func scoped(table string, r Row) bool {
	return table == "" || table == r.Table
}

// ── Built-in Transforms ────────────────────────────────────

// InjectTransform sets constant fields, e.g. the restaurant a page was
// fetched for. Existing values are overwritten.
type InjectTransform struct {
	Table  string
	Fields map[string]any
}

func (t *InjectTransform) Transform(r Row) (Row, bool) {
	if !scoped(t.Table, r) {
		return r, true
	}
	for k, v := range t.Fields {
		r.Data[k] = v
	}
	return r, true
}

// FilterTransform drops rows where the given field does not match the value.
// Rows of other tables pass through.
type FilterTransform struct {
	Table string
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains"
	Value any
}

func (t *FilterTransform) Transform(r Row) (Row, bool) {
	if !scoped(t.Table, r) {
		return r, true
	}
	v, ok := r.Data[t.Field]
	if !ok {
		return r, false
	}
	switch t.Op {
	case "eq":
		return r, fmt.Sprint(v) == fmt.Sprint(t.Value)
	case "neq":
		return r, fmt.Sprint(v) != fmt.Sprint(t.Value)
	case "contains":
		return r, strings.Contains(fmt.Sprint(v), fmt.Sprint(t.Value))
	case "gt":
		return r, toFloat(v) > toFloat(t.Value)
	case "lt":
		return r, toFloat(v) < toFloat(t.Value)
	default:
		return r, true
	}
}

// RenameTransform renames fields in a row.
type RenameTransform struct {
	Table   string
	Mapping map[string]string // oldName → newName
}

func (t *RenameTransform) Transform(r Row) (Row, bool) {
	if !scoped(t.Table, r) {
		return r, true
	}
	for old, new_ := range t.Mapping {
		if v, ok := r.Data[old]; ok {
			r.Data[new_] = v
			delete(r.Data, old)
		}
	}
	return r, true
}

// SelectTransform keeps only the specified fields.
type SelectTransform struct {
	Table  string
	Fields []string
}

func (t *SelectTransform) Transform(r Row) (Row, bool) {
	if !scoped(t.Table, r) {
		return r, true
	}
	filtered := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := r.Data[f]; ok {
			filtered[f] = v
		}
	}
	r.Data = filtered
	return r, true
}

// DedupeTransform drops rows whose primary key was already seen in this
// run. Tables without a declared key pass through.
type DedupeTransform struct {
	schemas Schemas
	seen    map[string]bool
}

func NewDedupeTransform(schemas Schemas) *DedupeTransform {
	return &DedupeTransform{schemas: schemas, seen: make(map[string]bool)}
}

func (t *DedupeTransform) Transform(r Row) (Row, bool) {
	s, ok := t.schemas[r.Table]
	if !ok {
		return r, true
	}
	keys, ok := s.KeyValues(r.Data)
	if !ok {
		return r, true
	}
	var b strings.Builder
	b.WriteString(r.Table)
	for _, k := range s.PrimaryKey {
		fmt.Fprintf(&b, "\x00%v", keys[k])
	}
	id := b.String()
	if t.seen[id] {
		return r, false
	}
	t.seen[id] = true
	return r, true
}

// TypeCastTransform converts a field's value to a target type.
type TypeCastTransform struct {
	Table    string
	Field    string
	CastType string // "number" | "string" | "bool"
}

func (t *TypeCastTransform) Transform(r Row) (Row, bool) {
	if !scoped(t.Table, r) {
		return r, true
	}
	v, ok := r.Data[t.Field]
	if !ok {
		return r, true
	}
	switch t.CastType {
	case "number":
		r.Data[t.Field] = toFloat(v)
	case "string":
		r.Data[t.Field] = fmt.Sprint(v)
	case "bool":
		r.Data[t.Field] = toBool(v)
	}
	return r, true
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

// ── Helpers ────────────────────────────────────────────────

// ApplyTransformers runs a chain of transformers on a row.
func ApplyTransformers(r Row, ts []Transformer) (Row, bool) {
	for _, t := range ts {
		var keep bool
		r, keep = t.Transform(r)
		if !keep {
			return r, false
		}
	}
	return r, true
}

// BuildTransformers converts declarative TransformConfig into Transformer
// instances. Unknown or incomplete entries are skipped. When dedupe is set,
// a DedupeTransform keyed on schemas is appended last.
func BuildTransformers(configs []TransformConfig, schemas Schemas, dedupe bool) []Transformer {
	var ts []Transformer

	for _, tc := range configs {
		switch tc.Type {
		case "inject":
			if fields, ok := tc.Config["fields"].(map[string]any); ok && len(fields) > 0 {
				ts = append(ts, &InjectTransform{Table: tc.Table, Fields: fields})
			}

		case "filter":
			field, _ := tc.Config["field"].(string)
			op, _ := tc.Config["op"].(string)
			value := tc.Config["value"]
			if field != "" && op != "" {
				ts = append(ts, &FilterTransform{Table: tc.Table, Field: field, Op: op, Value: value})
			}

		case "rename":
			if mapping, ok := tc.Config["mapping"].(map[string]any); ok {
				m := make(map[string]string)
				for k, v := range mapping {
					m[k] = fmt.Sprint(v)
				}
				ts = append(ts, &RenameTransform{Table: tc.Table, Mapping: m})
			}

		case "select":
			if fields, ok := tc.Config["fields"].([]any); ok {
				var ff []string
				for _, f := range fields {
					ff = append(ff, fmt.Sprint(f))
				}
				ts = append(ts, &SelectTransform{Table: tc.Table, Fields: ff})
			}

		case "type_cast":
			field, _ := tc.Config["field"].(string)
			castType, _ := tc.Config["castType"].(string)
			if field != "" && castType != "" {
				ts = append(ts, &TypeCastTransform{Table: tc.Table, Field: field, CastType: castType})
			}
		}
	}

	if dedupe {
		ts = append(ts, NewDedupeTransform(schemas))
	}
	return ts
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case interface{ Float64() (float64, error) }:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
