package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// note is a minimal record type for engine tests that should not depend on
// the production schemas.
type note struct {
	Title  string   `json:"title" validate:"required,max=40"`
	Body   string   `json:"body"`
	Status string   `json:"status"`
	Tags   []string `json:"tags" validate:"max=3"`
}

func (n note) RecordType() RecordType { return "note" }

func (n note) NaturalKey() string { return strings.ToLower(n.Title) }

func (n note) Fields() Fields {
	return Fields{
		TextField("title", n.Title),
		TextField("body", n.Body),
		TextField("status", n.Status),
		ListField("tags", n.Tags),
	}
}

func newNote(title, body, status string, tags ...string) note {
	return note{Title: title, Body: body, Status: status, Tags: tags}
}

func noteSchema() *RecordSchema {
	return &RecordSchema{
		Type:       "note",
		Label:      "Note",
		Table:      "notes",
		Collection: "notes",
		KeyField:   "title",
		Fields: []FieldSpec{
			{Name: "title", Kind: FieldText, Required: true},
			{Name: "body", Kind: FieldText},
			{Name: "status", Kind: FieldEnum, Required: true, EnumValues: []string{"draft", "published"}},
			{Name: "tags", Kind: FieldList},
		},
		Aliases: map[string]string{
			"name":   "title",
			"labels": "tags",
		},
		Merge: MergePolicy{
			"body": PreferExistingIfNonEmpty,
			"tags": PreferExistingCollectionIfNonEmpty,
		},
		NormalizeKey: strings.ToLower,
		Assemble: func(f Fields) (Record, error) {
			return note{
				Title:  f.Text("title"),
				Body:   f.Text("body"),
				Status: f.Text("status"),
				Tags:   f.List("tags"),
			}, nil
		},
		Check: func(rec Record) []string {
			n := rec.(note)
			if n.Status == "published" && n.Body == "" {
				return []string{"body: is required when published"}
			}
			return nil
		},
	}
}

// MemStore is an in-memory Store. Insert refuses an existing key with
// ErrKeyExists and Upsert overwrites it, like the SQL backends.
type MemStore struct {
	mu      sync.Mutex
	records map[RecordType]map[string]Record

	// FailKeys makes writes of the listed keys fail with the given error.
	FailKeys map[string]error
	// LookupErr makes FetchExisting fail.
	LookupErr error
	// Gate, when set, holds every write until it is closed.
	Gate chan struct{}

	Lookups int
	Inserts int
	Upserts int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[RecordType]map[string]Record),
		FailKeys: make(map[string]error),
	}
}

// Put stores records directly, bypassing the write counters.
func (m *MemStore) Put(recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.table(rec.RecordType())[rec.NaturalKey()] = rec
	}
}

// Stored returns the stored record for key.
func (m *MemStore) Stored(t RecordType, key string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[t][key]
	return rec, ok
}

// Len returns the number of stored records of a type.
func (m *MemStore) Len(t RecordType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[t])
}

func (m *MemStore) table(t RecordType) map[string]Record {
	tbl, ok := m.records[t]
	if !ok {
		tbl = make(map[string]Record)
		m.records[t] = tbl
	}
	return tbl
}

func (m *MemStore) FetchExisting(_ context.Context, schema *RecordSchema, keys []string) (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Lookups++
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	out := make(map[string]Record)
	for _, k := range keys {
		if rec, ok := m.records[schema.Type][k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func (m *MemStore) Insert(ctx context.Context, schema *RecordSchema, rec Record) error {
	return m.write(ctx, schema, rec, false)
}

func (m *MemStore) Upsert(ctx context.Context, schema *RecordSchema, rec Record) error {
	return m.write(ctx, schema, rec, true)
}

func (m *MemStore) write(ctx context.Context, schema *RecordSchema, rec Record, update bool) error {
	m.mu.Lock()
	gate := m.Gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailKeys[rec.NaturalKey()]; ok {
		return err
	}
	if rec.RecordType() != schema.Type {
		return fmt.Errorf("record type %s does not match %s", rec.RecordType(), schema.Type)
	}

	tbl := m.table(schema.Type)
	if update {
		m.Upserts++
		tbl[rec.NaturalKey()] = rec
		return nil
	}
	m.Inserts++
	if _, exists := tbl[rec.NaturalKey()]; exists {
		return fmt.Errorf("insert %s: %w", rec.NaturalKey(), ErrKeyExists)
	}
	tbl[rec.NaturalKey()] = rec
	return nil
}
