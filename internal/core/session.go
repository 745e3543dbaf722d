package core

import (
	"slices"
	"sync"
	"time"
)

// Session is an analyzed import awaiting review and apply.
// Conflict resolutions may change until an apply starts; the analyzed
// records themselves never change.
type Session struct {
	ID        string
	Schema    *RecordSchema
	FileName  string
	Format    Format
	CreatedAt time.Time

	parsed    ParseResult
	validated ValidateResult
	newRecs   []Record

	mu          sync.Mutex
	conflicts   []ConflictItem
	lastTouched time.Time
	applying    bool
	progress    Progress
	outcome     *ImportOutcome
	done        chan struct{}
	listeners   []chan Progress
}

func newSession(id string, schema *RecordSchema, fileName string, format Format, parsed ParseResult, validated ValidateResult, reconciled ReconcileResult) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		Schema:      schema,
		FileName:    fileName,
		Format:      format,
		CreatedAt:   now,
		parsed:      parsed,
		validated:   validated,
		newRecs:     reconciled.New,
		conflicts:   reconciled.Conflicts,
		lastTouched: now,
	}
}

// Conflicts returns a copy of the current conflict list.
func (s *Session) Conflicts() []ConflictItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conflicts)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastTouched = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastTouched), s.applying
}

// beginApply marks the session as applying and returns a snapshot of the
// conflicts for the applier.
func (s *Session) beginApply() ([]ConflictItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applying {
		return nil, ErrApplyInProgress
	}
	s.applying = true
	s.progress = Progress{}
	s.outcome = nil
	s.done = make(chan struct{})
	s.listeners = nil
	s.lastTouched = time.Now()
	return slices.Clone(s.conflicts), nil
}

func (s *Session) publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = p
	for _, ch := range s.listeners {
		select {
		case ch <- p:
		default:
			// Slow listener: drop its oldest update so the latest still
			// arrives. Only publish sends, under mu, so a slot is free after
			// the receive.
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
	}
}

func (s *Session) finishApply(outcome ImportOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcome = &outcome
	s.applying = false
	s.lastTouched = time.Now()
	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	close(s.done)
}

// subscribe returns a channel of progress updates for the running apply.
// The channel receives the current progress first and is closed when the
// apply finishes. A listener that falls behind loses its oldest updates,
// never the latest. When nothing is running it is closed at once.
func (s *Session) subscribe() <-chan Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Progress, 16)
	if s.progress.Total > 0 {
		ch <- s.progress
	}
	if !s.applying {
		close(ch)
		return ch
	}
	s.listeners = append(s.listeners, ch)
	return ch
}

func (s *Session) state() (applying bool, done chan struct{}, outcome *ImportOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applying, s.done, s.outcome
}
