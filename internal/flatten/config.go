package flatten

import (
	"fmt"
	"maps"
	"slices"
)

// ── Configuration ──────────────────────────────────────────
// Relationship and flatten declarations are injected per connector; the
// engine keeps its own copy so later edits by the caller have no effect.

const (
	// DefaultPrimaryKey is the identifying field used when a table has no
	// entry in Config.PrimaryKeys.
	DefaultPrimaryKey = "guid"

	// DefaultMaxDepth bounds relationship recursion.
	DefaultMaxDepth = 32
)

// DefaultNoPrefix lists object fields whose keys are merged unprefixed.
var DefaultNoPrefix = []string{"refundDetails"}

// Relationship declares that a list field of a table is split into rows of
// a child table.
type Relationship struct {
	Field      string `json:"field" yaml:"field"`
	ChildTable string `json:"childTable" yaml:"child_table"`
	// ForeignKey names the column injected into every child row. Defaults
	// to "{parent table}_guid".
	ForeignKey string `json:"foreignKey,omitempty" yaml:"foreign_key,omitempty"`
	// ValueField, when set, declares a list of scalars: each element
	// becomes a child row {ValueField: element}.
	ValueField string `json:"valueField,omitempty" yaml:"value_field,omitempty"`
}

// Reference declares an object field that only points at another entity.
// Only SubField is kept, stored under As.
type Reference struct {
	Field    string `json:"field" yaml:"field"`
	SubField string `json:"subField" yaml:"sub_field"`
	As       string `json:"as" yaml:"as"`
}

// Config is the static per-connector declaration set.
type Config struct {
	// Relationships maps a table to its child-producing list fields, in
	// emission order.
	Relationships map[string][]Relationship `json:"relationships" yaml:"relationships"`
	// Flatten maps a table to its object fields merged inline.
	Flatten map[string][]string `json:"flatten" yaml:"flatten"`
	// NoPrefix lists flattened fields whose keys are merged without prefix.
	// Nil means DefaultNoPrefix.
	NoPrefix []string `json:"noPrefix,omitempty" yaml:"no_prefix,omitempty"`
	// References maps a table to object fields collapsed to one sub-field.
	References map[string][]Reference `json:"references,omitempty" yaml:"references,omitempty"`
	// PrimaryKeys maps a table to its identifying field.
	PrimaryKeys map[string]string `json:"primaryKeys,omitempty" yaml:"primary_keys,omitempty"`
	// SyntheticKeys lists tables whose rows get a generated key when the
	// identifying field is null or absent.
	SyntheticKeys []string `json:"syntheticKeys,omitempty" yaml:"synthetic_keys,omitempty"`
	// MaxDepth bounds relationship recursion. Zero means DefaultMaxDepth.
	MaxDepth int `json:"maxDepth,omitempty" yaml:"max_depth,omitempty"`
}

// PrimaryKey returns the identifying field of table.
func (c Config) PrimaryKey(table string) string {
	if pk := c.PrimaryKeys[table]; pk != "" {
		return pk
	}
	return DefaultPrimaryKey
}

// ForeignKey returns the column a child row of rel receives.
func (c Config) ForeignKey(table string, rel Relationship) string {
	if rel.ForeignKey != "" {
		return rel.ForeignKey
	}
	return table + "_guid"
}

// Tables returns every table name reachable from the declarations, sorted.
func (c Config) Tables() []string {
	seen := make(map[string]bool)
	for parent, rels := range c.Relationships {
		seen[parent] = true
		for _, rel := range rels {
			seen[rel.ChildTable] = true
		}
	}
	for t := range c.Flatten {
		seen[t] = true
	}
	for t := range c.References {
		seen[t] = true
	}
	for t := range c.PrimaryKeys {
		seen[t] = true
	}
	for _, t := range c.SyntheticKeys {
		seen[t] = true
	}
	return slices.Sorted(maps.Keys(seen))
}

// Validate checks the declarations for missing names and duplicate fields.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: negative max depth %d", ErrInvalidConfig, c.MaxDepth)
	}
	for table, rels := range c.Relationships {
		if table == "" {
			return fmt.Errorf("%w: relationship with empty parent table", ErrInvalidConfig)
		}
		fields := make(map[string]bool, len(rels))
		for i, rel := range rels {
			if rel.Field == "" || rel.ChildTable == "" {
				return fmt.Errorf("%w: %s relationship %d needs field and child table", ErrInvalidConfig, table, i)
			}
			if fields[rel.Field] {
				return fmt.Errorf("%w: %s declares field %q twice", ErrInvalidConfig, table, rel.Field)
			}
			fields[rel.Field] = true
		}
	}
	for table, refs := range c.References {
		for i, ref := range refs {
			if ref.Field == "" || ref.SubField == "" || ref.As == "" {
				return fmt.Errorf("%w: %s reference %d needs field, sub field and target", ErrInvalidConfig, table, i)
			}
		}
	}
	return nil
}

// clone deep-copies the declaration maps.
func (c Config) clone() Config {
	out := Config{
		Relationships: make(map[string][]Relationship, len(c.Relationships)),
		Flatten:       make(map[string][]string, len(c.Flatten)),
		References:    make(map[string][]Reference, len(c.References)),
		PrimaryKeys:   maps.Clone(c.PrimaryKeys),
		SyntheticKeys: slices.Clone(c.SyntheticKeys),
		NoPrefix:      slices.Clone(c.NoPrefix),
		MaxDepth:      c.MaxDepth,
	}
	for k, v := range c.Relationships {
		out.Relationships[k] = slices.Clone(v)
	}
	for k, v := range c.Flatten {
		out.Flatten[k] = slices.Clone(v)
	}
	for k, v := range c.References {
		out.References[k] = slices.Clone(v)
	}
	if out.PrimaryKeys == nil {
		out.PrimaryKeys = map[string]string{}
	}
	if out.NoPrefix == nil {
		out.NoPrefix = slices.Clone(DefaultNoPrefix)
	}
	if out.MaxDepth == 0 {
		out.MaxDepth = DefaultMaxDepth
	}
	return out
}
