// Package schema maps site prefixes to their field-naming conventions.
//
// Every site stores the same logical sensor quantities under different raw
// field and tag names. The registry holds one FieldMapping per site prefix,
// seeded from the built-in tables in sites.go and optionally extended by
// YAML mapping files loaded at startup. New sites are data, not code.
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPrefix is returned when a site prefix has no registered mapping.
var ErrUnknownPrefix = errors.New("unknown site prefix")

// DefaultTagKey is the tag used to address a sensor channel inside a unit's
// measurement when an entry does not override it.
const DefaultTagKey = "unit"

// Entry binds one logical quantity to the raw store addressing for a site.
//
// The measurement queried is always the unit identifier; the entry supplies
// the tag filter and field key within it. TagKey defaults to "unit" and
// TagValue defaults to the quantity name, which covers the common case where
// the channel tag and display name coincide.
type Entry struct {
	// Quantity is the site-independent display name, unique within a site.
	Quantity string `yaml:"quantity"`

	// Field is the raw store field key holding the value.
	Field string `yaml:"field"`

	// TagKey and TagValue select the series within the unit's measurement.
	TagKey   string `yaml:"tag_key,omitempty"`
	TagValue string `yaml:"tag_value,omitempty"`

	// Unit restricts the entry to a single unit identifier. Empty means the
	// entry applies to every unit of the site.
	Unit string `yaml:"unit,omitempty"`
}

// EffectiveTagKey returns the tag key with the default applied.
func (e Entry) EffectiveTagKey() string {
	if e.TagKey == "" {
		return DefaultTagKey
	}
	return e.TagKey
}

// EffectiveTagValue returns the tag value with the default applied.
func (e Entry) EffectiveTagValue() string {
	if e.TagValue == "" {
		return e.Quantity
	}
	return e.TagValue
}

// FieldMapping is the fixed, ordered quantity table for one site prefix.
// It is read-only after registration; iteration order is entry order.
type FieldMapping struct {
	Prefix  string  `yaml:"prefix"`
	Entries []Entry `yaml:"entries"`
}

// EntriesFor returns the entries applicable to a unit, in mapping order.
// Entries restricted to a different unit are excluded.
func (m FieldMapping) EntriesFor(unitID string) []Entry {
	out := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if e.Unit == "" || e.Unit == unitID {
			out = append(out, e)
		}
	}
	return out
}

// Quantities returns the logical quantity names applicable to a unit,
// in mapping order.
func (m FieldMapping) Quantities(unitID string) []string {
	entries := m.EntriesFor(unitID)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Quantity
	}
	return out
}

// Mapping values end up interpolated into store query literals, so they are
// limited to the same charset as unit identifiers: letters, digits, dash,
// underscore, dot.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func (m FieldMapping) validate() error {
	if m.Prefix == "" {
		return errors.New("mapping has empty prefix")
	}
	if len(m.Entries) == 0 {
		return fmt.Errorf("mapping %s has no entries", m.Prefix)
	}
	seen := make(map[string]bool, len(m.Entries))
	for _, e := range m.Entries {
		if e.Quantity == "" {
			return fmt.Errorf("mapping %s has an entry with empty quantity", m.Prefix)
		}
		if e.Field == "" {
			return fmt.Errorf("mapping %s: quantity %s has empty field", m.Prefix, e.Quantity)
		}
		if seen[e.Quantity] {
			return fmt.Errorf("mapping %s: duplicate quantity %s", m.Prefix, e.Quantity)
		}
		seen[e.Quantity] = true

		if !validToken(e.Quantity) {
			return fmt.Errorf("mapping %s: quantity %q has invalid characters", m.Prefix, e.Quantity)
		}
		if !validToken(e.Field) {
			return fmt.Errorf("mapping %s: quantity %s: field %q has invalid characters", m.Prefix, e.Quantity, e.Field)
		}
		if e.TagKey != "" && !validToken(e.TagKey) {
			return fmt.Errorf("mapping %s: quantity %s: tag key %q has invalid characters", m.Prefix, e.Quantity, e.TagKey)
		}
		if e.TagValue != "" && !validToken(e.TagValue) {
			return fmt.Errorf("mapping %s: quantity %s: tag value %q has invalid characters", m.Prefix, e.Quantity, e.TagValue)
		}
		if e.Unit != "" && !validToken(e.Unit) {
			return fmt.Errorf("mapping %s: quantity %s: unit %q has invalid characters", m.Prefix, e.Quantity, e.Unit)
		}
	}
	return nil
}

// Registry resolves site prefixes to their field mappings. Mappings are
// registered once at startup and read-only thereafter.
type Registry struct {
	mappings map[string]FieldMapping
}

// NewRegistry returns a registry seeded with the built-in site mappings.
func NewRegistry() *Registry {
	r := &Registry{mappings: make(map[string]FieldMapping)}
	for _, m := range builtinMappings() {
		// Built-in tables are maintained alongside this package and must
		// always validate.
		if err := r.Register(m); err != nil {
			panic(fmt.Sprintf("schema: built-in mapping %s: %v", m.Prefix, err))
		}
	}
	return r
}

// Register validates and adds a mapping, replacing any previous mapping for
// the same prefix. It is not safe for concurrent use with Resolve; register
// everything before the pipeline starts.
func (r *Registry) Register(m FieldMapping) error {
	if err := m.validate(); err != nil {
		return err
	}
	r.mappings[m.Prefix] = m
	return nil
}

// Resolve returns the field mapping for a site prefix.
func (r *Registry) Resolve(prefix string) (FieldMapping, error) {
	m, ok := r.mappings[prefix]
	if !ok {
		return FieldMapping{}, fmt.Errorf("%w: %s", ErrUnknownPrefix, prefix)
	}
	return m, nil
}

// Prefixes returns the registered site prefixes in sorted order.
func (r *Registry) Prefixes() []string {
	out := make([]string, 0, len(r.mappings))
	for p := range r.mappings {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// LoadDir registers every .yaml/.yml mapping file found in dir. Files are
// loaded in lexical order so a later file can override an earlier prefix.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read mapping dir: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(de.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers the mapping contained in a single YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file: %w", err)
	}
	var m FieldMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	if err := r.Register(m); err != nil {
		return fmt.Errorf("invalid mapping file %s: %w", path, err)
	}
	return nil
}
