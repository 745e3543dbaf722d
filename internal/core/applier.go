package core

// applier.go writes the resolved import to the store.
//
// The work list is every new record (as an insert) followed by every
// conflict resolved as Replace or Merge (as an upsert of the materialized
// record). Keep conflicts never reach the store; they are only counted.
//
// Items are written one at a time in fixed-size batches. A failed item is
// recorded and skipped. A new record whose key was stored after the lookup
// is upserted instead and counted as updated, so the last writer wins. Progress is reported after each batch and the
// context is only consulted between batches, so a batch always finishes.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultBatchSize is the number of work items written per batch.
const DefaultBatchSize = 10

type opKind int

const (
	opInsert opKind = iota
	opUpsert
)

type workItem struct {
	op       opKind
	key      string
	record   Record
	conflict *ConflictItem // Set for upserts; materialized when written
}

// Applier executes inserts and upserts against a Writer.
type Applier struct {
	writer    Writer
	batchSize int
	logger    *slog.Logger
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithBatchSize sets the batch size. Values below 1 keep the default.
func WithBatchSize(n int) ApplierOption {
	return func(a *Applier) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithLogger sets the logger used for item failures and batch completion.
func WithLogger(logger *slog.Logger) ApplierOption {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewApplier creates an applier writing through w.
func NewApplier(w Writer, opts ...ApplierOption) *Applier {
	a := &Applier{
		writer:    w,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BatchSize returns the configured batch size.
func (a *Applier) BatchSize() int {
	return a.batchSize
}

// Apply writes newRecords and the writing conflicts and returns the outcome.
// It never returns an error: item failures are collected in the outcome.
// An empty work list returns at once without calling progress.
// Neither the records nor the conflicts are modified.
func (a *Applier) Apply(ctx context.Context, schema *RecordSchema, newRecords []Record, conflicts []ConflictItem, progress ProgressFunc) ImportOutcome {
	start := time.Now()
	outcome := ImportOutcome{Failures: []Failure{}}

	work := make([]workItem, 0, len(newRecords)+len(conflicts))
	for _, rec := range newRecords {
		work = append(work, workItem{op: opInsert, key: rec.NaturalKey(), record: rec})
	}
	for i := range conflicts {
		c := &conflicts[i]
		if !c.Resolution.Writes() {
			outcome.Kept++
			continue
		}
		work = append(work, workItem{op: opUpsert, key: c.Key, conflict: c})
	}

	total := len(work)
	if total == 0 {
		outcome.finish(start)
		return outcome
	}

	for begin := 0; begin < total; begin += a.batchSize {
		if ctx.Err() != nil {
			outcome.Stopped = true
			a.logger.Info("apply stopped between batches",
				"processed", begin,
				"total", total,
				"error", ctx.Err(),
			)
			break
		}

		end := min(begin+a.batchSize, total)
		for _, item := range work[begin:end] {
			a.writeItem(ctx, schema, item, &outcome)
		}

		a.logger.Debug("batch applied",
			"processed", end,
			"total", total,
			"inserted", outcome.Inserted,
			"updated", outcome.Updated,
			"failed", outcome.Failed,
		)

		if progress != nil {
			progress(newProgress(end, total))
		}
	}

	outcome.finish(start)
	return outcome
}

func (o *ImportOutcome) finish(start time.Time) {
	o.Duration = time.Since(start)
	o.Millis = o.Duration.Milliseconds()
}

func (a *Applier) writeItem(ctx context.Context, schema *RecordSchema, item workItem, outcome *ImportOutcome) {
	op := item.op
	var err error
	switch item.op {
	case opInsert:
		err = a.writer.Insert(ctx, schema, item.record)
		if errors.Is(err, ErrKeyExists) {
			a.logger.Debug("key stored since lookup, replacing", "key", item.key)
			op = opUpsert
			err = a.writer.Upsert(ctx, schema, item.record)
		}
	case opUpsert:
		var rec Record
		rec, err = ApplyResolution(schema, *item.conflict)
		if err == nil {
			err = a.writer.Upsert(ctx, schema, rec)
		}
	}

	if err != nil {
		outcome.Failed++
		outcome.Failures = append(outcome.Failures, Failure{
			Key:    item.key,
			Reason: FormatUserError(err),
		})
		a.logger.Warn("import item failed",
			"key", item.key,
			"error", err,
		)
		return
	}

	if op == opInsert {
		outcome.Inserted++
	} else {
		outcome.Updated++
	}
}

func newProgress(processed, total int) Progress {
	p := Progress{Processed: processed, Total: total}
	if total > 0 {
		p.Percent = float64(processed) * 100 / float64(total)
	}
	if processed == total {
		p.Percent = 100
	}
	return p
}
