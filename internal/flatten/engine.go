package flatten

import (
	"fmt"
	"iter"
	"slices"
)

// ParentKey is a foreign-key column handed down from an ancestor row.
type ParentKey struct {
	Field string
	Value any
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeyGenerator overrides the synthetic key source (default UUIDKeys).
func WithKeyGenerator(g KeyGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.keys = g
		}
	}
}

// Engine decomposes nested records into flat rows according to a fixed
// Config. An Engine holds no per-call state and may be shared between
// goroutines as long as its KeyGenerator is.
type Engine struct {
	cfg       Config
	keys      KeyGenerator
	synthetic map[string]bool
}

// New validates cfg and returns an engine bound to a private copy of it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg.clone(),
		keys:      UUIDKeys,
		synthetic: make(map[string]bool, len(cfg.SyntheticKeys)),
	}
	for _, t := range e.cfg.SyntheticKeys {
		e.synthetic[t] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the engine's declarations.
func (e *Engine) Config() Config {
	return e.cfg.clone()
}

// Decompose turns one root record into its table rows. Rows are emitted in
// post-order: for every record, all rows of its declared children (in
// relationship declaration order) come before the record's own row.
//
// Every row carries the parents handed in plus, for descendants, the
// foreign key of each ancestor on the way down. The call is atomic: on
// error no rows are returned.
func (e *Engine) Decompose(table string, rec Record, parents ...ParentKey) ([]Row, error) {
	if table == "" {
		return nil, ErrUnknownTable
	}
	var rows []Row
	_, err := e.walk(table, rec, slices.Clone(parents), 0, func(r Row) bool {
		rows = append(rows, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Rows is the lazy form of Decompose. The record tree is shape-checked
// before the first row is yielded, so a malformed record yields a single
// error and no rows.
func (e *Engine) Rows(table string, rec Record, parents ...ParentKey) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if table == "" {
			yield(Row{}, ErrUnknownTable)
			return
		}
		if err := e.check(table, rec, 0); err != nil {
			yield(Row{}, err)
			return
		}
		_, err := e.walk(table, rec, slices.Clone(parents), 0, func(r Row) bool {
			return yield(r, nil)
		})
		if err != nil {
			yield(Row{}, err)
		}
	}
}

// DecomposeAll decomposes a page of root records. The first failing record
// aborts the page.
func (e *Engine) DecomposeAll(table string, recs []Record, parents ...ParentKey) ([]Row, error) {
	var rows []Row
	for i, rec := range recs {
		out, err := e.Decompose(table, rec, parents...)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rows = append(rows, out...)
	}
	return rows, nil
}

// ── Recursion ──────────────────────────────────────────────

// walk emits the rows of rec and its descendants. It returns false once
// emit asks to stop.
func (e *Engine) walk(table string, rec Record, parents []ParentKey, depth int, emit func(Row) bool) (bool, error) {
	if depth > e.cfg.MaxDepth {
		return false, &DepthError{Table: table, Depth: depth, Max: e.cfg.MaxDepth}
	}

	out := clone(rec)
	pk := e.cfg.PrimaryKey(table)
	if e.synthetic[table] && isNull(out[pk]) {
		out[pk] = e.keys.NewKey()
	}
	key := out[pk]

	for _, rel := range e.cfg.Relationships[table] {
		v := out[rel.Field]
		delete(out, rel.Field)
		children, err := e.children(table, rel, v, key)
		if err != nil {
			return false, err
		}
		if len(children) == 0 {
			continue
		}
		down := withParent(parents, ParentKey{Field: e.cfg.ForeignKey(table, rel), Value: key})
		for _, child := range children {
			more, err := e.walk(rel.ChildTable, child, down, depth+1, emit)
			if err != nil || !more {
				return more, err
			}
		}
	}

	for _, ref := range e.cfg.References[table] {
		out = ExtractReference(ref.Field, ref.SubField, ref.As, out)
	}
	out = FlattenFields(e.cfg.Flatten[table], out, e.cfg.NoPrefix)
	scalarize(out)

	for _, p := range parents {
		out[p.Field] = p.Value
	}
	// Children were handed key as their foreign key; a flattened or
	// referenced field must not replace it on the row itself.
	if KindOf(key) == KindScalar {
		out[pk] = key
	}
	return emit(Row{Table: table, Data: out}), nil
}

// check validates shapes and depth without generating keys or rows.
func (e *Engine) check(table string, rec Record, depth int) error {
	if depth > e.cfg.MaxDepth {
		return &DepthError{Table: table, Depth: depth, Max: e.cfg.MaxDepth}
	}
	key := rec[e.cfg.PrimaryKey(table)]
	for _, rel := range e.cfg.Relationships[table] {
		children, err := e.children(table, rel, rec[rel.Field], key)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := e.check(rel.ChildTable, child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// children resolves a relationship field into child records. Null, absent
// and empty lists produce none; null elements are skipped.
func (e *Engine) children(table string, rel Relationship, v any, key any) ([]Record, error) {
	kind := KindOf(v)
	switch kind {
	case KindNull:
		return nil, nil
	case KindList:
	default:
		return nil, &ShapeError{Table: table, Field: rel.Field, Key: key, Want: "list", Got: kind}
	}

	items, _ := asList(v)
	out := make([]Record, 0, len(items))
	for _, item := range items {
		switch k := KindOf(item); {
		case k == KindNull:
			continue
		case rel.ValueField != "":
			if k != KindScalar {
				return nil, &ShapeError{Table: table, Field: rel.Field, Key: key, Want: "list of scalars", Got: k}
			}
			out = append(out, Record{rel.ValueField: item})
		default:
			obj, ok := asObject(item)
			if !ok {
				return nil, &ShapeError{Table: table, Field: rel.Field, Key: key, Want: "list of objects", Got: k}
			}
			out = append(out, obj)
		}
	}
	return out, nil
}

// withParent returns parents plus p, replacing an earlier key of the same
// name so the nearest ancestor wins.
func withParent(parents []ParentKey, p ParentKey) []ParentKey {
	out := make([]ParentKey, 0, len(parents)+1)
	for _, q := range parents {
		if q.Field != p.Field {
			out = append(out, q)
		}
	}
	return append(out, p)
}
