package destinations

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"ingest/internal/etl"
)

// Memory is an in-process destination that records every call. It backs
// dry runs and tests. Upserts keyed by primary key replace earlier rows
// exactly like a real table would.
type Memory struct {
	mu       sync.Mutex
	declared []etl.TableSchema
	pks      map[string][]string
	tables   map[string]map[string]map[string]any
	order    map[string][]string
	calls    []Call
	states   map[string]etl.State
	closed   bool
	seq      int
}

// Call is one recorded destination operation.
type Call struct {
	Op    string         `json:"op"` // "declare" | "upsert" | "delete" | "checkpoint"
	Table string         `json:"table,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

func NewMemory() *Memory {
	return &Memory{
		pks:    map[string][]string{},
		tables: map[string]map[string]map[string]any{},
		order:  map[string][]string{},
		states: map[string]etl.State{},
	}
}

func (m *Memory) Declare(_ context.Context, tables []etl.TableSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tables {
		m.declared = append(m.declared, t)
		m.pks[t.Table] = slices.Clone(t.PrimaryKey)
		m.calls = append(m.calls, Call{Op: "declare", Table: t.Table})
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, table string, row map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		rows = map[string]map[string]any{}
		m.tables[table] = rows
	}
	key := keyString(m.pks[table], row)
	if len(m.pks[table]) == 0 {
		m.seq++
		key = fmt.Sprintf("#%d", m.seq)
	}
	if _, exists := rows[key]; !exists {
		m.order[table] = append(m.order[table], key)
	}
	rows[key] = maps.Clone(row)
	m.calls = append(m.calls, Call{Op: "upsert", Table: table, Data: maps.Clone(row)})
	return nil
}

func (m *Memory) Delete(_ context.Context, table string, keys map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyString(m.pks[table], keys)
	delete(m.tables[table], key)
	m.order[table] = slices.DeleteFunc(m.order[table], func(k string) bool { return k == key })
	m.calls = append(m.calls, Call{Op: "delete", Table: table, Data: maps.Clone(keys)})
	return nil
}

func (m *Memory) Checkpoint(_ context.Context, jobID string, state etl.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[jobID] = maps.Clone(state)
	m.calls = append(m.calls, Call{Op: "checkpoint", Table: jobID, Data: maps.Clone(state)})
	return nil
}

func (m *Memory) LoadState(_ context.Context, jobID string) (etl.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.states[jobID]), nil
}

func (m *Memory) ResetState(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, jobID)
	m.calls = append(m.calls, Call{Op: "reset_state", Table: jobID})
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Rows returns the current rows of table in first-insert order.
func (m *Memory) Rows(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.order[table]))
	for _, k := range m.order[table] {
		out = append(out, maps.Clone(m.tables[table][k]))
	}
	return out
}

// Tables returns the names of tables holding at least one row, sorted.
func (m *Memory) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for t, rows := range m.tables {
		if len(rows) > 0 {
			names = append(names, t)
		}
	}
	slices.Sort(names)
	return names
}

// Calls returns every recorded operation in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Declared returns the schemas passed to Declare.
func (m *Memory) Declared() []etl.TableSchema {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.declared)
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
