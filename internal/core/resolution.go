package core

import (
	"fmt"
	"strings"
)

// Resolution is the operator's choice for a conflicting record.
// The zero value is ResolutionKeep.
type Resolution int

const (
	ResolutionKeep Resolution = iota
	ResolutionReplace
	ResolutionMerge
)

// AllKeys addresses every conflict in SetResolution.
const AllKeys = "*"

func (r Resolution) String() string {
	switch r {
	case ResolutionKeep:
		return "keep"
	case ResolutionReplace:
		return "replace"
	case ResolutionMerge:
		return "merge"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// Valid reports whether r is one of the three resolutions.
func (r Resolution) Valid() bool {
	return r >= ResolutionKeep && r <= ResolutionMerge
}

// Writes reports whether applying r issues a storage write.
func (r Resolution) Writes() bool {
	return r == ResolutionReplace || r == ResolutionMerge
}

// ParseResolution parses "keep", "replace", or "merge", case-insensitively.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep":
		return ResolutionKeep, nil
	case "replace":
		return ResolutionReplace, nil
	case "merge":
		return ResolutionMerge, nil
	default:
		return ResolutionKeep, fmt.Errorf("%w: %q (use keep, replace, or merge)", ErrInvalidResolution, s)
	}
}

func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// SetResolution sets the resolution of the conflict with the given key, or of
// every conflict when key is AllKeys. A bulk set overwrites earlier individual
// choices. It returns the number of conflicts changed.
func SetResolution(conflicts []ConflictItem, key string, action Resolution) (int, error) {
	if !action.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidResolution, int(action))
	}

	if key == AllKeys {
		for i := range conflicts {
			conflicts[i].Resolution = action
		}
		return len(conflicts), nil
	}

	for i := range conflicts {
		if conflicts[i].Key == key {
			conflicts[i].Resolution = action
			return 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrConflictNotFound, key)
}

// ApplyResolution computes the record a conflict materializes to.
// Keep yields the stored record and Replace the incoming one. Merge combines
// them field by field using the schema's MergePolicy. The result depends only
// on the conflict, so repeated calls return identical records.
func ApplyResolution(schema *RecordSchema, conflict ConflictItem) (Record, error) {
	switch conflict.Resolution {
	case ResolutionKeep:
		return conflict.Existing, nil
	case ResolutionReplace:
		return conflict.Incoming, nil
	case ResolutionMerge:
		return schema.Assemble(MergeFields(schema, conflict.Existing.Fields(), conflict.Incoming.Fields()))
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, int(conflict.Resolution))
	}
}

// MergeFields combines two snapshots per the schema's MergePolicy. The output
// follows the incoming field order and keeps the incoming natural key.
func MergeFields(schema *RecordSchema, existing, incoming Fields) Fields {
	merged := make(Fields, 0, len(incoming))
	for _, in := range incoming {
		out := in
		if in.Name != schema.KeyField {
			if ex, ok := existing.Get(in.Name); ok {
				out = mergeField(schema.Merge.For(in.Name), ex, in)
			}
		}
		if out.IsList {
			out = ListField(out.Name, out.List)
		}
		merged = append(merged, out)
	}
	return merged
}

func mergeField(policy MergeFieldPolicy, existing, incoming Field) Field {
	switch policy {
	case PreferExistingIfNonEmpty:
		if !existing.Blank() {
			return existing
		}
	case PreferExistingCollectionIfNonEmpty:
		if len(existing.List) > 0 {
			return existing
		}
	}
	return incoming
}

// ChangedFields lists the fields whose values differ between two snapshots.
func ChangedFields(a, b Fields) []string {
	var changed []string
	for _, fa := range a {
		fb, ok := b.Get(fa.Name)
		if !ok || !fa.Equal(fb) {
			changed = append(changed, fa.Name)
		}
	}
	return changed
}
