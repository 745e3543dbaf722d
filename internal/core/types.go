package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// RecordType identifies a kind of importable record: "question", "glossary_term".
type RecordType string

// Format is the shape of an import payload.
type Format string

const (
	FormatDelimited  Format = "delimited"
	FormatStructured Format = "structured"
)

// FieldKind represents the expected shape of a record field.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldEnum
	FieldList
)

func (k FieldKind) String() string {
	switch k {
	case FieldText:
		return "text"
	case FieldEnum:
		return "enum"
	case FieldList:
		return "list"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// FieldSpec defines the rules for a single record field.
type FieldSpec struct {
	Name       string              // Canonical field name; also the storage column
	Kind       FieldKind           // Expected shape
	Required   bool                // Must be present and non-blank
	EnumValues []string            // Canonical values for FieldEnum (matched case-insensitively)
	Normalizer func(string) string // Optional transformation applied after trimming
	Parts      []string            // FieldList only: columns that compose the list when the field itself is absent
}

// Field is one named value in a record snapshot.
type Field struct {
	Name   string
	Text   string
	List   []string
	IsList bool
}

// Blank reports whether the field carries no value.
func (f Field) Blank() bool {
	if f.IsList {
		return len(f.List) == 0
	}
	return strings.TrimSpace(f.Text) == ""
}

// Equal reports whether two fields hold the same value.
func (f Field) Equal(o Field) bool {
	if f.IsList != o.IsList {
		return false
	}
	if f.IsList {
		return slices.Equal(f.List, o.List)
	}
	return f.Text == o.Text
}

// Value returns the field as a plain Go value for display.
func (f Field) Value() any {
	if f.IsList {
		if f.List == nil {
			return []string{}
		}
		return f.List
	}
	return f.Text
}

// TextField builds a scalar field.
func TextField(name, value string) Field {
	return Field{Name: name, Text: value}
}

// ListField builds a collection field. The slice is copied.
func ListField(name string, values []string) Field {
	return Field{Name: name, List: slices.Clone(values), IsList: true}
}

// Fields is an ordered record snapshot.
type Fields []Field

// Get returns the named field.
func (fs Fields) Get(name string) (Field, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Text returns the named scalar value, or "" if absent.
func (fs Fields) Text(name string) string {
	f, _ := fs.Get(name)
	return f.Text
}

// List returns the named collection value, or nil if absent.
func (fs Fields) List(name string) []string {
	f, _ := fs.Get(name)
	return f.List
}

// Map returns the snapshot as a name -> value map for JSON rendering.
func (fs Fields) Map() map[string]any {
	m := make(map[string]any, len(fs))
	for _, f := range fs {
		m[f.Name] = f.Value()
	}
	return m
}

// Record is a validated, typed record of one RecordType.
// Implementations are immutable after construction.
type Record interface {
	RecordType() RecordType
	NaturalKey() string
	Fields() Fields
}

// RawRow is one untyped row produced by the parser.
type RawRow struct {
	Position int        // 1-based source position (line for delimited, element for structured)
	Values   []RawValue // In source column order
}

// RawValue is a single named value of a RawRow. Value holds a string for
// delimited input, or the decoded JSON primitive/array for structured input.
type RawValue struct {
	Name  string
	Value any
}

// Lookup returns the value stored under name.
func (r RawRow) Lookup(name string) (any, bool) {
	for _, v := range r.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	return nil, false
}

// ParseError describes a row the parser could not turn into a RawRow.
type ParseError struct {
	Position int    `json:"position"`
	Message  string `json:"message"`
}

func (e ParseError) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("row %d: %s", e.Position, e.Message)
	}
	return e.Message
}

// ValidationError lists every rule a row violated.
type ValidationError struct {
	Position   int      `json:"position"`
	Key        string   `json:"key,omitempty"`
	Violations []string `json:"violations"`
}

func (e ValidationError) Error() string {
	prefix := fmt.Sprintf("row %d", e.Position)
	if e.Key != "" {
		prefix += " (" + e.Key + ")"
	}
	return prefix + ": " + strings.Join(e.Violations, "; ")
}

// ConflictItem pairs an incoming record with the stored record of the same key.
type ConflictItem struct {
	Key        string
	Existing   Record
	Incoming   Record
	Resolution Resolution
	Unchanged  bool // Existing and Incoming are field-for-field identical
}

// Failure records a work item that could not be written.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ImportOutcome is the terminal result of applying an import.
type ImportOutcome struct {
	Inserted int           `json:"insertedCount"`
	Updated  int           `json:"updatedCount"`
	Kept     int           `json:"keptCount"`
	Failed   int           `json:"failedCount"`
	Failures []Failure     `json:"failures"`
	Stopped  bool          `json:"stopped,omitempty"` // Context ended between batches
	Duration time.Duration `json:"-"`
	Millis   int64         `json:"durationMs"`
}

// Progress is emitted by the applier after each batch.
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// ProgressFunc receives applier progress. It is called synchronously.
type ProgressFunc func(Progress)

// Lookup reads stored records by natural key.
type Lookup interface {
	FetchExisting(ctx context.Context, schema *RecordSchema, keys []string) (map[string]Record, error)
}

// Writer persists single records keyed by natural key.
// Insert returns an error wrapping ErrKeyExists when nothing was written
// because the key is already stored.
type Writer interface {
	Insert(ctx context.Context, schema *RecordSchema, rec Record) error
	Upsert(ctx context.Context, schema *RecordSchema, rec Record) error
}

// Store is the persisted store collaborator.
type Store interface {
	Lookup
	Writer
}
