package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/quizimport/internal/logging"
)

// Defaults for ServiceConfig fields left at zero.
const (
	DefaultApplyTimeout = 10 * time.Minute
	DefaultSessionTTL   = 30 * time.Minute
)

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	BatchSize    int           // Applier batch size (default DefaultBatchSize)
	MaxFileSize  int64         // Largest accepted payload in bytes; 0 disables the check
	ApplyTimeout time.Duration // Upper bound for one background apply
	SessionTTL   time.Duration // Idle time after which the janitor drops a session
}

// Service runs the import pipeline and keeps analyzed imports as sessions.
type Service struct {
	store   Store
	limiter *ApplyLimiter
	cfg     ServiceConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a Service over store. A nil limiter gets the defaults.
func NewService(store Store, limiter *ApplyLimiter, cfg ServiceConfig) *Service {
	if limiter == nil {
		limiter = NewApplyLimiter(DefaultMaxConcurrentApplies, DefaultMaxWaitTime)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Service{
		store:    store,
		limiter:  limiter,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Limiter returns the apply limiter, for status and shutdown draining.
func (s *Service) Limiter() *ApplyLimiter {
	return s.limiter
}

// Schemas lists the registered record schemas.
func (s *Service) Schemas() []*RecordSchema {
	return All()
}

// AnalyzeRequest describes an uploaded payload.
type AnalyzeRequest struct {
	RecordType  string
	FileName    string
	ContentType string
	Format      Format // Empty means detect from FileName and ContentType
	Payload     []byte
}

type analysis struct {
	schema     *RecordSchema
	format     Format
	parsed     ParseResult
	validated  ValidateResult
	reconciled ReconcileResult
}

// analyze runs parse, validate, the batched lookup, and reconcile.
// Only an unknown type, an oversized payload, or a lookup failure is an error.
func (s *Service) analyze(ctx context.Context, req AnalyzeRequest) (*analysis, error) {
	schema, err := MustGet(req.RecordType)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxFileSize > 0 && int64(len(req.Payload)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, len(req.Payload), s.cfg.MaxFileSize)
	}

	format := req.Format
	if format == "" {
		format = DetectFormat(req.FileName, req.ContentType)
	}

	a := &analysis{schema: schema, format: format}
	a.parsed = Parse(req.Payload, format, schema)
	a.validated = Validate(a.parsed.Rows, schema)

	existing, err := FetchExisting(ctx, s.store, schema, a.validated.Valid)
	if err != nil {
		return nil, err
	}
	a.reconciled = Reconcile(a.validated.Valid, existing)

	return a, nil
}

// Analyze runs the pipeline up to reconciliation and stores the result as a
// session for review. Nothing is written.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*Preview, error) {
	a, err := s.analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	session := newSession(uuid.New().String(), a.schema, req.FileName, a.format, a.parsed, a.validated, a.reconciled)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	preview := buildPreview(session)
	logging.WithFields(ctx,
		"session_id", session.ID,
		"record_type", a.schema.Type,
	).Info("import analyzed",
		"file", req.FileName,
		"rows", preview.Counts.Rows,
		"invalid", preview.Counts.Invalid,
		"new", preview.Counts.New,
		"conflicts", preview.Counts.Conflicts,
	)
	return preview, nil
}

func (s *Service) session(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	session.touch()
	return session, nil
}

// Preview returns the current preview of a session.
func (s *Service) Preview(sessionID string) (*Preview, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return buildPreview(session), nil
}

// SetResolution sets the resolution for one conflict, or all with AllKeys.
// Keys are normalized with the session schema's key rule.
func (s *Service) SetResolution(sessionID, key string, action Resolution) (int, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return 0, err
	}
	if key != AllKeys {
		key = session.Schema.Key(key)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.applying {
		return 0, ErrApplyInProgress
	}
	return SetResolution(session.conflicts, key, action)
}

// ConflictDiffs returns the field-level view of every conflict in a session.
func (s *Service) ConflictDiffs(sessionID string) ([]ConflictDiff, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	conflicts := session.Conflicts()

	diffs := make([]ConflictDiff, 0, len(conflicts))
	for _, c := range conflicts {
		diffs = append(diffs, buildConflictDiff(session, c))
	}
	return diffs, nil
}

// Errors returns the parse and validation errors of a session.
func (s *Service) Errors(sessionID string) ([]ParseError, []ValidationError, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session.parsed.Errors, session.validated.Errors, nil
}

// StartApply runs the batch applier for a session in the background.
// It waits for an apply slot first. A finished session may be applied
// again; writes are keyed by natural key so a rerun is safe.
func (s *Service) StartApply(ctx context.Context, sessionID string) error {
	session, err := s.session(sessionID)
	if err != nil {
		return err
	}

	if applying, _, _ := session.state(); applying {
		return ErrApplyInProgress
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}

	conflicts, err := session.beginApply()
	if err != nil {
		s.limiter.Release()
		return err
	}

	logger := logging.WithFields(ctx,
		"session_id", session.ID,
		"record_type", session.Schema.Type,
	)
	base := logging.NewContext(context.Background(), logger)

	go func() {
		defer s.limiter.Release()

		applyCtx, cancel := context.WithTimeout(base, s.cfg.ApplyTimeout)
		defer cancel()

		var outcome ImportOutcome
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in apply", "panic", r)
				outcome.Failures = append(outcome.Failures, Failure{Reason: FormatUserError(fmt.Errorf("%v", r))})
				outcome.Failed++
			}
			session.finishApply(outcome)
		}()

		logger.Info("import apply started")
		applier := NewApplier(s.store, WithBatchSize(s.cfg.BatchSize), WithLogger(logger))
		outcome = applier.Apply(applyCtx, session.Schema, session.newRecs, conflicts, session.publish)
		logger.Info("import apply completed",
			"inserted", outcome.Inserted,
			"updated", outcome.Updated,
			"kept", outcome.Kept,
			"failed", outcome.Failed,
			"stopped", outcome.Stopped,
			"duration_ms", outcome.Duration.Milliseconds(),
		)
	}()

	return nil
}

// SubscribeProgress returns a channel of progress events for a session's
// running apply. The channel is closed when the apply finishes. A slow
// reader may miss intermediate events but always receives the last one.
func (s *Service) SubscribeProgress(sessionID string) (<-chan Progress, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return session.subscribe(), nil
}

// Result returns the outcome of a session's latest apply.
// Blocks until a running apply completes or ctx ends.
func (s *Service) Result(ctx context.Context, sessionID string) (*ImportOutcome, error) {
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	applying, done, outcome := session.state()
	if applying {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		_, _, outcome = session.state()
	}
	if outcome == nil {
		return nil, ErrNotApplied
	}
	return outcome, nil
}

// Discard removes a session. A session cannot be discarded while applying.
func (s *Service) Discard(sessionID string) error {
	session, err := s.session(sessionID)
	if err != nil {
		return err
	}
	if applying, _, _ := session.state(); applying {
		return ErrApplyInProgress
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartJanitor removes idle sessions every interval until ctx ends.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("import session janitor started", "interval", interval, "ttl", s.cfg.SessionTTL)
		for {
			select {
			case <-ctx.Done():
				slog.Info("import session janitor stopped")
				return
			case now := <-ticker.C:
				if n := s.expireSessions(now); n > 0 {
					slog.Info("expired import sessions", "count", n)
				}
			}
		}
	}()
}

func (s *Service) expireSessions(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		idle, applying := session.idleSince(now)
		if !applying && idle > s.cfg.SessionTTL {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// ImportReport is the result of a one-shot Import.
type ImportReport struct {
	Preview *Preview       `json:"preview"`
	Outcome *ImportOutcome `json:"outcome,omitempty"` // Nil for a dry run
}

// ImportOptions controls a one-shot Import.
type ImportOptions struct {
	Bulk      *Resolution    // Resolution for every conflict; nil keeps all
	DryRun    bool           // Stop after the preview
	OnPreview func(*Preview) // Called with the preview before anything is written
	Progress  ProgressFunc
}

// Import runs the whole pipeline synchronously without keeping a session.
func (s *Service) Import(ctx context.Context, req AnalyzeRequest, opts ImportOptions) (*ImportReport, error) {
	a, err := s.analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	if opts.Bulk != nil {
		if _, err := SetResolution(a.reconciled.Conflicts, AllKeys, *opts.Bulk); err != nil {
			return nil, err
		}
	}

	session := newSession("", a.schema, req.FileName, a.format, a.parsed, a.validated, a.reconciled)
	report := &ImportReport{Preview: buildPreview(session)}
	if opts.OnPreview != nil {
		opts.OnPreview(report.Preview)
	}
	if opts.DryRun {
		return report, nil
	}

	logger := logging.WithFields(ctx, "record_type", a.schema.Type)
	applier := NewApplier(s.store, WithBatchSize(s.cfg.BatchSize), WithLogger(logger))
	outcome := applier.Apply(ctx, a.schema, a.reconciled.New, a.reconciled.Conflicts, opts.Progress)
	report.Outcome = &outcome

	return report, nil
}
