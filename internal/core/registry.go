package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registry   = make(map[RecordType]*RecordSchema)
	registryMu sync.RWMutex
)

// Register adds a record schema to the registry.
// Panics if the schema is incomplete or its type is already registered.
func Register(schema *RecordSchema) {
	if err := schema.validate(); err != nil {
		panic(err.Error())
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[schema.Type]; exists {
		panic(fmt.Sprintf("record type already registered: %s", schema.Type))
	}

	if schema.Label == "" {
		schema.Label = string(schema.Type)
	}
	if schema.Table == "" {
		schema.Table = string(schema.Type) + "s"
	}

	registry[schema.Type] = schema
}

// Get returns a schema by type or label, case-insensitively.
// Returns false if not found.
func Get(name string) (*RecordSchema, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if schema, ok := registry[RecordType(name)]; ok {
		return schema, true
	}
	for _, schema := range registry {
		if strings.EqualFold(string(schema.Type), name) || strings.EqualFold(schema.Label, name) {
			return schema, true
		}
	}
	return nil, false
}

// MustGet returns a schema by name or an error wrapping ErrUnknownRecordType.
func MustGet(name string) (*RecordSchema, error) {
	schema, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecordType, name)
	}
	return schema, nil
}

// All returns all registered schemas sorted by type.
func All() []*RecordSchema {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*RecordSchema, 0, len(registry))
	for _, schema := range registry {
		result = append(result, schema)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})

	return result
}

// Clear removes all registered schemas.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[RecordType]*RecordSchema)
}
