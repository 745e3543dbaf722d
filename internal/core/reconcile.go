package core

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ReconcileResult partitions validated records by whether their natural key
// is already stored. Every input record lands in exactly one of the two.
type ReconcileResult struct {
	New       []Record
	Conflicts []ConflictItem
}

// Unchanged counts conflicts whose incoming record matches the stored one.
func (r ReconcileResult) Unchanged() int {
	n := 0
	for _, c := range r.Conflicts {
		if c.Unchanged {
			n++
		}
	}
	return n
}

// FetchExisting reads every stored record whose key appears in valid, in a
// single batched call. Any error is fatal to the import.
func FetchExisting(ctx context.Context, lookup Lookup, schema *RecordSchema, valid []Record) (map[string]Record, error) {
	keys := make([]string, 0, len(valid))
	seen := make(map[string]bool, len(valid))
	for _, rec := range valid {
		key := rec.NaturalKey()
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return map[string]Record{}, nil
	}

	existing, err := lookup.FetchExisting(ctx, schema, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if existing == nil {
		existing = map[string]Record{}
	}
	return existing, nil
}

// Reconcile partitions valid records into new records and conflicts in a
// single pass. Conflicts start with the Keep resolution. It performs no I/O.
func Reconcile(valid []Record, existing map[string]Record) ReconcileResult {
	var result ReconcileResult

	for _, rec := range valid {
		stored, ok := existing[rec.NaturalKey()]
		if !ok {
			result.New = append(result.New, rec)
			continue
		}
		result.Conflicts = append(result.Conflicts, ConflictItem{
			Key:        rec.NaturalKey(),
			Existing:   stored,
			Incoming:   rec,
			Resolution: ResolutionKeep,
			Unchanged:  Fingerprint(stored) == Fingerprint(rec),
		})
	}

	return result
}

// Fingerprint hashes a record's field snapshot. Equal snapshots hash equal.
func Fingerprint(rec Record) uint64 {
	d := xxhash.New()
	for _, f := range rec.Fields() {
		_, _ = d.WriteString(f.Name)
		_, _ = d.Write([]byte{0})
		if f.IsList {
			for _, item := range f.List {
				_, _ = d.WriteString(item)
				_, _ = d.Write([]byte{1})
			}
		} else {
			_, _ = d.WriteString(f.Text)
		}
		_, _ = d.Write([]byte{2})
	}
	return d.Sum64()
}
