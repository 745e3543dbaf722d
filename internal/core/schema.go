package core

import (
	"fmt"
	"sort"
	"strings"
)

// MergeFieldPolicy decides which side's value wins for a field when a
// conflict is resolved as Merge.
type MergeFieldPolicy int

const (
	// PreferIncomingAlways takes the incoming value unconditionally.
	PreferIncomingAlways MergeFieldPolicy = iota
	// PreferExistingIfNonEmpty keeps the stored value unless it is blank.
	PreferExistingIfNonEmpty
	// PreferExistingCollectionIfNonEmpty keeps the stored list unless it is empty.
	PreferExistingCollectionIfNonEmpty
)

func (p MergeFieldPolicy) String() string {
	switch p {
	case PreferIncomingAlways:
		return "prefer_incoming"
	case PreferExistingIfNonEmpty:
		return "prefer_existing_if_non_empty"
	case PreferExistingCollectionIfNonEmpty:
		return "prefer_existing_collection_if_non_empty"
	default:
		return fmt.Sprintf("MergeFieldPolicy(%d)", int(p))
	}
}

// MergePolicy maps field names to their merge rule.
// Fields not listed take the incoming value.
type MergePolicy map[string]MergeFieldPolicy

// For returns the rule for a field.
func (m MergePolicy) For(field string) MergeFieldPolicy {
	if p, ok := m[field]; ok {
		return p
	}
	return PreferIncomingAlways
}

// RecordSchema declares everything the engine needs to import one record type.
// Schemas are immutable once registered.
type RecordSchema struct {
	Type       RecordType        // Registry key, e.g. "question"
	Label      string            // Display name, e.g. "Question"
	Table      string            // Storage table name
	Collection string            // Named collection property in structured payloads
	KeyField   string            // Field holding the natural key
	Fields     []FieldSpec       // Field rules in canonical order
	Aliases    map[string]string // Lowercased column synonym -> canonical field name
	Merge      MergePolicy       // Field-level merge rules

	// NormalizeKey turns a user-supplied key into its stored form.
	// Nil means keys are compared as given after trimming.
	NormalizeKey func(string) string

	// Assemble builds the typed record from normalized fields.
	// Struct-level rules are checked by the validator afterwards.
	Assemble func(Fields) (Record, error)

	// Check reports cross-field rule violations for an assembled record.
	Check func(Record) []string
}

// Field returns the FieldSpec for a field name.
func (s *RecordSchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldNames returns canonical field names in declaration order.
func (s *RecordSchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Key normalizes a natural key with the schema's rule.
func (s *RecordSchema) Key(raw string) string {
	raw = strings.TrimSpace(raw)
	if s.NormalizeKey != nil {
		return s.NormalizeKey(raw)
	}
	return raw
}

// Canonical maps a header or property name to its canonical field name.
// Unknown names are returned cleaned and lowercased.
func (s *RecordSchema) Canonical(name string) string {
	key := NormalizeHeader(name)
	if alias, ok := s.Aliases[key]; ok {
		return alias
	}
	return key
}

// Columns returns every accepted column name per field, canonical name first.
// Parts are listed under their owning list field.
func (s *RecordSchema) Columns() map[string][]string {
	cols := make(map[string][]string, len(s.Fields))
	for _, f := range s.Fields {
		cols[f.Name] = append(cols[f.Name], f.Name)
		cols[f.Name] = append(cols[f.Name], f.Parts...)
	}
	aliases := make([]string, 0, len(s.Aliases))
	for alias := range s.Aliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		target := s.Aliases[alias]
		owner := target
		for _, f := range s.Fields {
			for _, p := range f.Parts {
				if p == target {
					owner = f.Name
				}
			}
		}
		cols[owner] = append(cols[owner], alias)
	}
	return cols
}

func (s *RecordSchema) validate() error {
	if s.Type == "" {
		return fmt.Errorf("record schema has no type")
	}
	if s.Assemble == nil {
		return fmt.Errorf("record schema %s has no Assemble func", s.Type)
	}
	if _, ok := s.Field(s.KeyField); !ok {
		return fmt.Errorf("record schema %s: key field %q is not declared", s.Type, s.KeyField)
	}
	for name := range s.Merge {
		if _, ok := s.Field(name); !ok {
			return fmt.Errorf("record schema %s: merge policy names unknown field %q", s.Type, name)
		}
	}
	return nil
}
