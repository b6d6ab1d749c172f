package flatten

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// ── Record / Row ───────────────────────────────────────────
// A Record is one decoded JSON object exactly as the source returned it.
// A Row is the engine's output unit: a table name plus a flat, scalar-only
// column map that a destination can upsert by primary key.

// Record is a nested key-value structure decoded from a JSON payload.
// Values are scalars, nested objects (map[string]any) or lists ([]any).
type Record = map[string]any

// Row is a single flat table row produced by the engine.
type Row struct {
	Table string         `json:"table"`
	Data  map[string]any `json:"data"`
}

// Kind classifies a Record value.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindObject
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf reports which shape v has. Values built by encoding/json are
// matched directly; anything else falls back to reflection so Go-built
// records ([]string, map[string]string, ...) classify the same way.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return KindScalar
	case map[string]any:
		return KindObject
	case []any, []map[string]any:
		return KindList
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return KindNull
		}
		return KindOf(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return KindObject
		}
		return KindScalar
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return KindScalar // []byte
		}
		return KindList
	default:
		return KindScalar
	}
}

// asObject returns v as a string-keyed map if it is an object.
func asObject(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	if KindOf(v) != KindObject {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	m := make(map[string]any, rv.Len())
	it := rv.MapRange()
	for it.Next() {
		m[it.Key().String()] = it.Value().Interface()
	}
	return m, true
}

// asList returns v as a slice if it is a list.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	if KindOf(v) != KindList {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isNull(v any) bool { return KindOf(v) == KindNull }

// clone returns a shallow copy of rec. Nested values are shared and must
// only be read.
func clone(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// encodeValue renders a container value as compact JSON text.
func encodeValue(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// Decode reads one JSON value from r, keeping numbers as json.Number so
// identifiers and amounts survive without float rounding.
func Decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// Records converts a decoded JSON value into root records: an array yields
// its object elements, a single object yields itself.
func Records(v any) ([]Record, error) {
	switch KindOf(v) {
	case KindNull:
		return nil, nil
	case KindObject:
		m, _ := asObject(v)
		return []Record{m}, nil
	case KindList:
		items, _ := asList(v)
		out := make([]Record, 0, len(items))
		for i, item := range items {
			m, ok := asObject(item)
			if !ok {
				return nil, fmt.Errorf("item %d: %w", i, &ShapeError{Field: "[]", Want: "object", Got: KindOf(item)})
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, &ShapeError{Field: "$", Want: "object or list of objects", Got: KindScalar}
	}
}
