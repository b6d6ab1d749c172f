package etl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func row(table string, data map[string]any) Row {
	return Row{Table: table, Data: data}
}

func TestFilterTransform(t *testing.T) {
	f := &FilterTransform{Table: "orders", Field: "voided", Op: "eq", Value: false}

	_, keep := f.Transform(row("orders", map[string]any{"voided": false}))
	assert.True(t, keep)
	_, keep = f.Transform(row("orders", map[string]any{"voided": true}))
	assert.False(t, keep)
	_, keep = f.Transform(row("orders_check", map[string]any{"voided": true}))
	assert.True(t, keep, "other tables pass through")

	gt := &FilterTransform{Field: "amount", Op: "gt", Value: 10}
	_, keep = gt.Transform(row("x", map[string]any{"amount": json.Number("12.5")}))
	assert.True(t, keep)
}

func TestInjectRenameSelect(t *testing.T) {
	ts := []Transformer{
		&InjectTransform{Table: "orders", Fields: map[string]any{"restaurant_guid": "r1"}},
		&RenameTransform{Mapping: map[string]string{"displayNumber": "display_number"}},
		&SelectTransform{Table: "orders_check", Fields: []string{"guid"}},
	}

	out, keep := ApplyTransformers(row("orders", map[string]any{"guid": "o1", "displayNumber": "7"}), ts)
	assert.True(t, keep)
	assert.Equal(t, map[string]any{"guid": "o1", "display_number": "7", "restaurant_guid": "r1"}, out.Data)

	out, _ = ApplyTransformers(row("orders_check", map[string]any{"guid": "c1", "amount": 3}), ts)
	assert.Equal(t, map[string]any{"guid": "c1"}, out.Data)
}

func TestDedupeTransform(t *testing.T) {
	schemas := NewSchemas([]TableSchema{
		{Table: "orders_check_selection", PrimaryKey: []string{"guid", "orders_check_guid"}},
	})
	d := NewDedupeTransform(schemas)

	_, keep := d.Transform(row("orders_check_selection", map[string]any{"guid": "s1", "orders_check_guid": "c1"}))
	assert.True(t, keep)
	_, keep = d.Transform(row("orders_check_selection", map[string]any{"guid": "s1", "orders_check_guid": "c1"}))
	assert.False(t, keep)
	_, keep = d.Transform(row("orders_check_selection", map[string]any{"guid": "s1", "orders_check_guid": "c2"}))
	assert.True(t, keep)
	_, keep = d.Transform(row("undeclared", map[string]any{"guid": "s1"}))
	assert.True(t, keep)
	_, keep = d.Transform(row("undeclared", map[string]any{"guid": "s1"}))
	assert.True(t, keep)
}

func TestTypeCastTransform(t *testing.T) {
	tc := &TypeCastTransform{Field: "amount", CastType: "number"}
	out, _ := tc.Transform(row("x", map[string]any{"amount": "4.25"}))
	assert.Equal(t, 4.25, out.Data["amount"])

	tc = &TypeCastTransform{Field: "flag", CastType: "bool"}
	out, _ = tc.Transform(row("x", map[string]any{"flag": "yes"}))
	assert.Equal(t, true, out.Data["flag"])
}

func TestBuildTransformers(t *testing.T) {
	ts := BuildTransformers([]TransformConfig{
		{Type: "inject", Table: "orders", Config: map[string]any{"fields": map[string]any{"restaurant_guid": "r1"}}},
		{Type: "filter", Config: map[string]any{"field": "x", "op": "eq", "value": 1}},
		{Type: "filter", Config: map[string]any{"field": "x"}}, // incomplete, skipped
		{Type: "rename", Config: map[string]any{"mapping": map[string]any{"a": "b"}}},
		{Type: "select", Config: map[string]any{"fields": []any{"a"}}},
		{Type: "type_cast", Config: map[string]any{"field": "a", "castType": "string"}},
		{Type: "unknown"},
	}, nil, true)

	assert.Len(t, ts, 6)
	assert.IsType(t, &InjectTransform{}, ts[0])
	assert.IsType(t, &DedupeTransform{}, ts[5])
}

func TestTableSchemaKeyValues(t *testing.T) {
	s := &TableSchema{Table: "t", PrimaryKey: []string{"a", "b"}}

	keys, ok := s.KeyValues(map[string]any{"a": 1, "b": "x", "c": 2})
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, keys)

	_, ok = s.KeyValues(map[string]any{"a": 1, "b": nil})
	assert.False(t, ok)

	assert.Equal(t, []Field{{Name: "a", Type: "number"}, {Name: "b", Type: "text"}},
		ColumnsOf(map[string]any{"b": "x", "a": json.Number("1")}))
}
