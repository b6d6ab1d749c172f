package etl

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source extracts nested root records from an external system.
// Implementations live in etl/sources/, one file per source type.
//
// Pattern: Airbyte connector protocol (spec → read).

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// String returns a string setting or "".
func (c SourceConfig) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Int returns a numeric setting, or def when absent or malformed.
func (c SourceConfig) Int(key string, def int) int {
	switch n := c[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		var v int
		if _, err := fmt.Sscan(n, &v); err == nil {
			return v
		}
	}
	return def
}

// Merge returns a copy of c with every key of over applied on top.
func (c SourceConfig) Merge(over SourceConfig) SourceConfig {
	out := make(SourceConfig, len(c)+len(over))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "string" | "select" | "textarea" | "secret" | "file" | "number"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"` // for "select" type
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec describes a source type: its label and config fields.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	Incremental  bool          `json:"incremental"`
	ConfigFields []ConfigField `json:"configFields"`
}

// Page is one batch of root records, typically one API response page.
type Page struct {
	Records []Record
	// Cursor is the continuation the source will request next; empty on
	// the last page.
	Cursor string
}

// Source is the interface every data source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Read streams pages of records into a channel. win is nil for full
	// reads; incremental sources restrict the request to [win.From, win.To).
	// The page channel is closed when all records have been read or ctx is
	// cancelled. Errors are sent on the error channel (buffered size 1).
	Read(ctx context.Context, cfg SourceConfig, win *Window) (<-chan Page, <-chan error)
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
// Called from init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	slices.SortFunc(specs, func(a, b SourceSpec) int { return strings.Compare(a.Type, b.Type) })
	return specs
}
