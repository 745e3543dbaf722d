package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/quizimport/internal/core"
	"github.com/JonMunkholm/quizimport/internal/core/schemas"
)

const questionHeader = "id,question,option_a,option_b,option_c,option_d,correct_answer,subelement,question_group,explanation\n"

func questionCSV(rows ...string) []byte {
	return []byte(questionHeader + strings.Join(rows, "\n") + "\n")
}

func storedQuestion(id, explanation string, links ...string) schemas.Question {
	return schemas.Question{
		ID:            id,
		Question:      "Stored " + id + "?",
		Options:       []string{"A", "B", "C", "D"},
		CorrectAnswer: 0,
		Subelement:    id[:2],
		Group:         id[:3],
		Explanation:   explanation,
		Links:         links,
	}
}

func newService(t *testing.T, store *core.MemStore) *core.Service {
	t.Helper()
	return core.NewService(store, core.NewApplyLimiter(2, time.Second), core.ServiceConfig{BatchSize: 2})
}

func analyzeRequest(payload []byte) core.AnalyzeRequest {
	return core.AnalyzeRequest{
		RecordType: "question",
		FileName:   "pool.csv",
		Payload:    payload,
	}
}

func TestImport_SingleNewQuestion(t *testing.T) {
	payload := "id,question,option_a,option_b,option_c,option_d,correct_answer,subelement,question_group\n" +
		`T1A99,"Test?",A,B,C,D,A,T1,T1A` + "\n"

	schema := schemas.QuestionSchema()
	parsed := core.Parse([]byte(payload), core.FormatDelimited, schema)
	require.Empty(t, parsed.Errors)
	require.Len(t, parsed.Rows, 1)

	validated := core.Validate(parsed.Rows, schema)
	require.Empty(t, validated.Errors)
	require.Len(t, validated.Valid, 1)
	assert.Equal(t, "0", validated.Valid[0].Fields().Text("correct_answer"))

	store := core.NewMemStore()
	report, err := newService(t, store).Import(context.Background(), analyzeRequest([]byte(payload)), core.ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Preview.Counts.New)
	assert.Equal(t, 0, report.Preview.Counts.Conflicts)
	assert.Equal(t, 1, report.Outcome.Inserted)
	assert.Equal(t, 0, report.Outcome.Updated)
	assert.Equal(t, 0, report.Outcome.Kept)
	assert.Equal(t, 0, report.Outcome.Failed)

	rec, ok := store.Stored(schemas.TypeQuestion, "T1A99")
	require.True(t, ok)
	assert.Equal(t, 0, rec.(schemas.Question).CorrectAnswer)
}

func TestImport_BulkResolution(t *testing.T) {
	store := core.NewMemStore()
	store.Put(storedQuestion("T1A01", "Stored explanation"))

	replace := core.ResolutionReplace
	var events []core.Progress
	report, err := newService(t, store).Import(context.Background(),
		analyzeRequest(questionCSV(
			"T1A01,Updated?,A,B,C,D,b,T1,T1A,",
			"T1A02,Second?,A,B,C,D,C,T1,T1A,Because",
		)),
		core.ImportOptions{
			Bulk:     &replace,
			Progress: func(p core.Progress) { events = append(events, p) },
		},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Outcome.Inserted)
	assert.Equal(t, 1, report.Outcome.Updated)
	assert.Equal(t, core.ResolutionReplace, report.Preview.Conflicts[0].Resolution)
	require.NotEmpty(t, events)
	assert.Equal(t, 100.0, events[len(events)-1].Percent)

	rec, _ := store.Stored(schemas.TypeQuestion, "T1A01")
	q := rec.(schemas.Question)
	assert.Equal(t, "Updated?", q.Question)
	assert.Equal(t, 1, q.CorrectAnswer)
	assert.Empty(t, q.Explanation)
}

func TestImport_DryRun(t *testing.T) {
	store := core.NewMemStore()
	store.Put(storedQuestion("T1A01", ""))

	var seen *core.Preview
	report, err := newService(t, store).Import(context.Background(),
		analyzeRequest(questionCSV(
			"T1A01,Updated?,A,B,C,D,b,T1,T1A,",
			"T1A02,Second?,A,B,C,D,C,T1,T1A,",
		)),
		core.ImportOptions{
			DryRun:    true,
			OnPreview: func(p *core.Preview) { seen = p },
		},
	)
	require.NoError(t, err)

	assert.Same(t, report.Preview, seen)
	assert.Nil(t, report.Outcome)
	assert.Equal(t, 1, seen.Counts.New)
	assert.Equal(t, 1, seen.Counts.Conflicts)
	assert.Zero(t, store.Inserts)
	assert.Zero(t, store.Upserts)
	assert.Equal(t, 1, store.Len(schemas.TypeQuestion))
}

func TestAnalyze_Preview(t *testing.T) {
	store := core.NewMemStore()
	store.Put(
		storedQuestion("T1A01", "Stored explanation", "https://example.com/t1a01"),
		storedQuestion("T1A04", ""),
	)
	svc := newService(t, store)

	preview, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV(
		"T1A01,Stored T1A01?,A,B,C,D,a,T1,T1A,",
		"T1A02,Second?,A,B,C,D,C,T1,T1A,Because",
		"T1A03,Bad?,A,B,,D,E,T1,T1A,",
		"T1A04,Stored T1A04?,A,B,C,D,A,T1,T1A,",
		"too,few,columns",
	)))
	require.NoError(t, err)

	assert.NotEmpty(t, preview.SessionID)
	assert.Equal(t, core.FormatDelimited, preview.Format)
	assert.Equal(t, core.PreviewCounts{
		Rows: 4, ParseErrors: 1, Valid: 3, Invalid: 1, New: 1, Conflicts: 2, Unchanged: 1,
	}, preview.Counts)

	require.Len(t, preview.ValidationErrors, 1)
	invalid := preview.ValidationErrors[0]
	assert.Equal(t, 4, invalid.Position)
	assert.Equal(t, "T1A03", invalid.Key)
	assert.Equal(t, []string{
		"correct_answer: must be one of: 0, 1, 2, 3",
		"options[2]: is required",
	}, invalid.Violations)

	require.Len(t, preview.ParseErrors, 1)
	assert.Equal(t, 6, preview.ParseErrors[0].Position)

	require.Len(t, preview.NewRecords, 1)
	assert.Equal(t, "T1A02", preview.NewRecords[0].Key)
	assert.Equal(t, 3, preview.NewRecords[0].Position)

	require.Len(t, preview.Conflicts, 2)
	assert.Equal(t, "T1A01", preview.Conflicts[0].Key)
	assert.Equal(t, []string{"explanation", "links"}, preview.Conflicts[0].Changed)
	assert.True(t, preview.Conflicts[1].Unchanged)

	again, err := svc.Preview(preview.SessionID)
	require.NoError(t, err)
	assert.Equal(t, preview.Counts, again.Counts)
}

func TestAnalyze_Errors(t *testing.T) {
	t.Run("unknown record type", func(t *testing.T) {
		svc := newService(t, core.NewMemStore())
		_, err := svc.Analyze(context.Background(), core.AnalyzeRequest{RecordType: "flashcard", Payload: []byte("x")})
		assert.ErrorIs(t, err, core.ErrUnknownRecordType)
	})

	t.Run("payload too large", func(t *testing.T) {
		svc := core.NewService(core.NewMemStore(), nil, core.ServiceConfig{MaxFileSize: 10})
		_, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV("T1A01,Q?,A,B,C,D,A,T1,T1A,")))
		assert.ErrorIs(t, err, core.ErrFileTooLarge)
		assert.Equal(t, 0, svc.SessionCount())
	})

	t.Run("lookup failure aborts", func(t *testing.T) {
		store := core.NewMemStore()
		store.LookupErr = errors.New("connection reset by peer")
		svc := newService(t, store)

		_, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV("T1A01,Q?,A,B,C,D,A,T1,T1A,")))

		assert.ErrorIs(t, err, core.ErrLookupFailed)
		assert.Equal(t, 0, svc.SessionCount())
		assert.Zero(t, store.Inserts+store.Upserts)
	})

	t.Run("unknown session", func(t *testing.T) {
		svc := newService(t, core.NewMemStore())
		_, err := svc.Preview("missing")
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
		_, err = svc.Result(context.Background(), "missing")
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})
}

func TestAnalyze_StructuredPayload(t *testing.T) {
	svc := newService(t, core.NewMemStore())

	preview, err := svc.Analyze(context.Background(), core.AnalyzeRequest{
		RecordType: "glossary_term",
		FileName:   "glossary.json",
		Payload: []byte(`{"terms": [
			{"word": "Ohm", "meaning": "Unit of resistance", "links": ["https://example.com/ohm"]},
			{"word": "  OHM ", "meaning": "Again"}
		]}`),
	})
	require.NoError(t, err)

	assert.Equal(t, core.FormatStructured, preview.Format)
	assert.Equal(t, 1, preview.Counts.New)
	require.Len(t, preview.ValidationErrors, 1)
	assert.Contains(t, preview.ValidationErrors[0].Violations[0], "duplicate key")
}

func TestSessionResolutionsAndDiffs(t *testing.T) {
	store := core.NewMemStore()
	store.Put(
		storedQuestion("T1A01", "Stored explanation", "https://example.com/a"),
		storedQuestion("T1A02", ""),
	)
	svc := newService(t, store)

	preview, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV(
		"T1A01,New wording?,A,B,C,D,D,T1,T1A,",
		"T1A02,New wording?,A,B,C,D,D,T1,T1A,Fresh explanation",
	)))
	require.NoError(t, err)
	id := preview.SessionID

	n, err := svc.SetResolution(id, "t1a01", core.ResolutionMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.SetResolution(id, "T9Z99", core.ResolutionMerge)
	assert.ErrorIs(t, err, core.ErrConflictNotFound)

	diffs, err := svc.ConflictDiffs(id)
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	merged := diffs[0]
	assert.Equal(t, core.ResolutionMerge, merged.Resolution)
	assert.Equal(t, "Stored explanation", merged.Materialized["explanation"])
	assert.Equal(t, []string{"https://example.com/a"}, merged.Materialized["links"])
	assert.Equal(t, "New wording?", merged.Materialized["question"])
	assert.ElementsMatch(t, []string{"question", "correct_answer"}, merged.Changed)

	kept := diffs[1]
	assert.Equal(t, core.ResolutionKeep, kept.Resolution)
	assert.Empty(t, kept.Changed)

	n, err = svc.SetResolution(id, core.AllKeys, core.ResolutionReplace)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	current, err := svc.Preview(id)
	require.NoError(t, err)
	for _, c := range current.Conflicts {
		assert.Equal(t, core.ResolutionReplace, c.Resolution)
	}
}

func TestStartApply_ProgressAndResult(t *testing.T) {
	store := core.NewMemStore()
	store.Put(storedQuestion("T1A01", ""))
	store.Gate = make(chan struct{})
	svc := newService(t, store)

	preview, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV(
		"T1A01,Changed?,A,B,C,D,A,T1,T1A,",
		"T1A02,Second?,A,B,C,D,A,T1,T1A,",
		"T1A03,Third?,A,B,C,D,A,T1,T1A,",
	)))
	require.NoError(t, err)
	id := preview.SessionID

	_, err = svc.Result(context.Background(), id)
	assert.ErrorIs(t, err, core.ErrNotApplied)

	_, err = svc.SetResolution(id, "T1A01", core.ResolutionReplace)
	require.NoError(t, err)

	require.NoError(t, svc.StartApply(context.Background(), id))
	events, err := svc.SubscribeProgress(id)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.StartApply(context.Background(), id), core.ErrApplyInProgress)
	_, err = svc.SetResolution(id, "T1A01", core.ResolutionKeep)
	assert.ErrorIs(t, err, core.ErrApplyInProgress)
	assert.ErrorIs(t, svc.Discard(id), core.ErrApplyInProgress)

	close(store.Gate)

	var got []core.Progress
	for p := range events {
		got = append(got, p)
	}
	require.Len(t, got, 2)
	assert.Equal(t, core.Progress{Processed: 2, Total: 3, Percent: 200.0 / 3}, got[0])
	assert.Equal(t, core.Progress{Processed: 3, Total: 3, Percent: 100}, got[1])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := svc.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Inserted)
	assert.Equal(t, 1, outcome.Updated)
	assert.Empty(t, outcome.Failures)

	rec, _ := store.Stored(schemas.TypeQuestion, "T1A01")
	assert.Equal(t, "Changed?", rec.(schemas.Question).Question)

	// A finished session can be applied again.
	require.NoError(t, svc.StartApply(context.Background(), id))
	outcome, err = svc.Result(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, outcome.Inserted, "records stored by the first run are not counted as inserted")
	assert.Equal(t, 3, outcome.Updated)
	assert.Zero(t, outcome.Failed)

	require.NoError(t, svc.Discard(id))
	_, err = svc.Preview(id)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStartApply_KeyStoredAfterAnalyze(t *testing.T) {
	store := core.NewMemStore()
	svc := newService(t, store)

	preview, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV(
		"T1A99,From the file?,A,B,C,D,A,T1,T1A,",
	)))
	require.NoError(t, err)
	require.Equal(t, 1, preview.Counts.New)

	other := storedQuestion("T1A99", "")
	other.Question = "Other writer?"
	store.Put(other)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, svc.StartApply(ctx, preview.SessionID))
	outcome, err := svc.Result(ctx, preview.SessionID)
	require.NoError(t, err)
	assert.Zero(t, outcome.Inserted)
	assert.Equal(t, 1, outcome.Updated)
	assert.Zero(t, outcome.Failed)

	rec, _ := store.Stored(schemas.TypeQuestion, "T1A99")
	assert.Equal(t, "From the file?", rec.(schemas.Question).Question)
	assert.Equal(t, 1, store.Len(schemas.TypeQuestion))
}

func TestStartApply_Limited(t *testing.T) {
	store := core.NewMemStore()
	store.Gate = make(chan struct{})
	svc := core.NewService(store, core.NewApplyLimiter(1, 50*time.Millisecond), core.ServiceConfig{})

	first, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV("T1A01,Q?,A,B,C,D,A,T1,T1A,")))
	require.NoError(t, err)
	second, err := svc.Analyze(context.Background(), analyzeRequest(questionCSV("T1A02,Q?,A,B,C,D,A,T1,T1A,")))
	require.NoError(t, err)

	require.NoError(t, svc.StartApply(context.Background(), first.SessionID))
	err = svc.StartApply(context.Background(), second.SessionID)
	assert.ErrorIs(t, err, core.ErrTooManyApplies)

	close(store.Gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = svc.Result(ctx, first.SessionID)
	require.NoError(t, err)
	require.NoError(t, svc.Limiter().WaitForDrain(ctx))
}
