package connectors

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"ingest/internal/etl"
)

// LoadFile loads and parses a YAML connector preset from the given path.
func LoadFile(path string) (*etl.Connector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connector file %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse parses YAML data into a Connector, applies defaults and validates
// the flattening declarations.
func Parse(data []byte) (*etl.Connector, error) {
	var c etl.Connector
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse connector YAML: %w", err)
	}
	if c.Name == "" {
		return nil, fmt.Errorf("connector name is required")
	}
	if c.RootTable == "" {
		return nil, fmt.Errorf("connector %s: root_table is required", c.Name)
	}
	if err := c.Flatten.Validate(); err != nil {
		return nil, fmt.Errorf("connector %s: %w", c.Name, err)
	}

	applyDefaults(&c)
	return &c, nil
}

// applyDefaults declares a single-key schema for every table the flatten
// declarations reach but Tables leaves out.
func applyDefaults(c *etl.Connector) {
	declared := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		declared[t.Table] = true
	}
	tables := c.Flatten.Tables()
	if !slices.Contains(tables, c.RootTable) {
		tables = append(tables, c.RootTable)
	}
	for _, t := range tables {
		if declared[t] {
			continue
		}
		c.Tables = append(c.Tables, etl.TableSchema{
			Table:      t,
			PrimaryKey: []string{c.Flatten.PrimaryKey(t)},
		})
	}
}

// Marshal serializes a Connector to YAML.
func Marshal(c *etl.Connector) ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadDir registers every *.yaml and *.yml preset in dir. A missing
// directory is not an error.
func LoadDir(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	slices.Sort(paths)

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		c, err := LoadFile(p)
		if err != nil {
			return names, err
		}
		if err := Register(c); err != nil {
			return names, err
		}
		names = append(names, c.Name)
	}
	return names, nil
}
