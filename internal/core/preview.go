package core

// PreviewCounts summarizes an analyzed import.
type PreviewCounts struct {
	Rows        int `json:"rows"`
	ParseErrors int `json:"parseErrors"`
	Valid       int `json:"valid"`
	Invalid     int `json:"invalid"`
	New         int `json:"new"`
	Conflicts   int `json:"conflicts"`
	Unchanged   int `json:"unchanged"`
}

// RecordPreview is a new record as shown before apply.
type RecordPreview struct {
	Position int            `json:"position"`
	Key      string         `json:"key"`
	Values   map[string]any `json:"values"`
}

// ConflictSummary is one conflict as listed in a preview.
type ConflictSummary struct {
	Key        string     `json:"key"`
	Position   int        `json:"position"`
	Resolution Resolution `json:"resolution"`
	Unchanged  bool       `json:"unchanged"`
	Changed    []string   `json:"changed"` // Fields where incoming differs from existing
}

// Preview is everything an operator needs to decide whether to apply.
type Preview struct {
	SessionID        string            `json:"sessionId,omitempty"`
	RecordType       RecordType        `json:"recordType"`
	FileName         string            `json:"fileName,omitempty"`
	Format           Format            `json:"format"`
	Counts           PreviewCounts     `json:"counts"`
	ParseErrors      []ParseError      `json:"parseErrors"`
	ValidationErrors []ValidationError `json:"validationErrors"`
	NewRecords       []RecordPreview   `json:"newRecords"`
	Conflicts        []ConflictSummary `json:"conflicts"`
}

// ConflictDiff shows a conflict field by field, including what the current
// resolution would write.
type ConflictDiff struct {
	Key          string         `json:"key"`
	Position     int            `json:"position"`
	Resolution   Resolution     `json:"resolution"`
	Unchanged    bool           `json:"unchanged"`
	Existing     map[string]any `json:"existing"`
	Incoming     map[string]any `json:"incoming"`
	Materialized map[string]any `json:"materialized,omitempty"`
	Changed      []string       `json:"changed"` // Fields the resolution would change in storage
	Error        string         `json:"error,omitempty"`
}

func buildPreview(session *Session) *Preview {
	conflicts := session.Conflicts()

	p := &Preview{
		SessionID:        session.ID,
		RecordType:       session.Schema.Type,
		FileName:         session.FileName,
		Format:           session.Format,
		ParseErrors:      nonNil(session.parsed.Errors),
		ValidationErrors: nonNil(session.validated.Errors),
		NewRecords:       make([]RecordPreview, 0, len(session.newRecs)),
		Conflicts:        make([]ConflictSummary, 0, len(conflicts)),
	}

	for _, rec := range session.newRecs {
		p.NewRecords = append(p.NewRecords, RecordPreview{
			Position: session.validated.Positions[rec.NaturalKey()],
			Key:      rec.NaturalKey(),
			Values:   rec.Fields().Map(),
		})
	}

	unchanged := 0
	for _, c := range conflicts {
		if c.Unchanged {
			unchanged++
		}
		p.Conflicts = append(p.Conflicts, ConflictSummary{
			Key:        c.Key,
			Position:   session.validated.Positions[c.Key],
			Resolution: c.Resolution,
			Unchanged:  c.Unchanged,
			Changed:    nonNil(ChangedFields(c.Existing.Fields(), c.Incoming.Fields())),
		})
	}

	p.Counts = PreviewCounts{
		Rows:        len(session.parsed.Rows),
		ParseErrors: len(session.parsed.Errors),
		Valid:       len(session.validated.Valid),
		Invalid:     len(session.validated.Errors),
		New:         len(session.newRecs),
		Conflicts:   len(conflicts),
		Unchanged:   unchanged,
	}

	return p
}

func buildConflictDiff(session *Session, c ConflictItem) ConflictDiff {
	d := ConflictDiff{
		Key:        c.Key,
		Position:   session.validated.Positions[c.Key],
		Resolution: c.Resolution,
		Unchanged:  c.Unchanged,
		Existing:   c.Existing.Fields().Map(),
		Incoming:   c.Incoming.Fields().Map(),
		Changed:    []string{},
	}

	rec, err := ApplyResolution(session.Schema, c)
	if err != nil {
		d.Error = FormatUserError(err)
		return d
	}
	d.Materialized = rec.Fields().Map()
	d.Changed = nonNil(ChangedFields(c.Existing.Fields(), rec.Fields()))
	return d
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
