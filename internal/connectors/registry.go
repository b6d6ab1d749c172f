package connectors

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"ingest/internal/etl"
)

// ── Connector Registry ─────────────────────────────────────
// Built-in presets are registered at init; YAML presets are added at
// startup from the data directory.

var (
	registryMu sync.RWMutex
	registry   = map[string]func() *etl.Connector{}
)

func init() {
	builders := []func() *etl.Connector{
		Toast, ToastTimeEntries, ToastEmployees, ToastShifts, ToastJobs, ToastRestaurants,
	}
	for _, build := range builders {
		registry[build().Name] = build
	}
	for _, ep := range toastConfigEndpoints {
		registry[ep.name] = func() *etl.Connector { return toastConfigConnector(ep) }
	}
}

// Register adds or replaces a preset. Get hands out copies, so later edits
// to c by the caller are not seen by the registry.
func Register(c *etl.Connector) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("connector name is required")
	}
	if err := c.Flatten.Validate(); err != nil {
		return fmt.Errorf("connector %s: %w", c.Name, err)
	}
	snapshot := copyConnector(c)
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Name] = func() *etl.Connector { return copyConnector(snapshot) }
	return nil
}

// Get returns a fresh copy of the named preset.
func Get(name string) (*etl.Connector, error) {
	registryMu.RLock()
	build, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown connector: %q", name)
	}
	return build(), nil
}

// List returns every registered preset, sorted by name.
func List() []*etl.Connector {
	registryMu.RLock()
	out := make([]*etl.Connector, 0, len(registry))
	for _, build := range registry {
		out = append(out, build())
	}
	registryMu.RUnlock()
	slices.SortFunc(out, func(a, b *etl.Connector) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// copyConnector copies the slices and maps a caller might mutate. The
// flatten engine copies its own Config, so only the top level matters here.
func copyConnector(c *etl.Connector) *etl.Connector {
	out := *c
	out.Source = etl.SourceConfig{}.Merge(c.Source)
	out.Tables = slices.Clone(c.Tables)
	out.Transforms = slices.Clone(c.Transforms)
	return &out
}
