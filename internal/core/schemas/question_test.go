package schemas

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/quizimport/internal/core"
)

func parseQuestions(t *testing.T, payload string, format core.Format) core.ValidateResult {
	t.Helper()
	parsed := core.Parse([]byte(payload), format, QuestionSchema())
	require.Empty(t, parsed.Errors)
	return core.Validate(parsed.Rows, QuestionSchema())
}

func TestQuestion_Registered(t *testing.T) {
	schema, err := core.MustGet("Question")
	require.NoError(t, err)
	assert.Same(t, QuestionSchema(), schema)
	assert.Equal(t, "questions", schema.Table)
}

func TestQuestion_AnswerNormalization(t *testing.T) {
	tests := []struct {
		answer string
		want   int
	}{
		{"A", 0},
		{"b", 1},
		{" C ", 2},
		{"3", 3},
		{`="D"`, 3},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			payload := "id,question,option_a,option_b,option_c,option_d,correct_answer,subelement,question_group\n" +
				"t1a01,Q?,A,B,C,D," + `"` + strings.ReplaceAll(tt.answer, `"`, `""`) + `"` + ",t1,t1a\n"
			result := parseQuestions(t, payload, core.FormatDelimited)

			require.Empty(t, result.Errors)
			require.Len(t, result.Valid, 1)
			q := result.Valid[0].(Question)
			assert.Equal(t, tt.want, q.CorrectAnswer)
			assert.Equal(t, "T1A01", q.ID)
			assert.Equal(t, "T1", q.Subelement)
			assert.Equal(t, "T1A", q.Group)
		})
	}
}

func TestQuestion_Aliases(t *testing.T) {
	payload := "QID,Question Text,A,B,C,D,Answer,Sub-Element,Group,Image,References\n" +
		"G2B03,Which band?,20m,40m,80m,160m,B,G2,G2B,fig1.png,https://example.com/a | https://example.com/b\n"

	result := parseQuestions(t, payload, core.FormatDelimited)

	require.Empty(t, result.Errors)
	require.Len(t, result.Valid, 1)
	q := result.Valid[0].(Question)
	assert.Equal(t, "Which band?", q.Question)
	assert.Equal(t, []string{"20m", "40m", "80m", "160m"}, q.Options)
	assert.Equal(t, 1, q.CorrectAnswer)
	assert.Equal(t, "fig1.png", q.Figure)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, q.Links)
}

func TestQuestion_PackedOptions(t *testing.T) {
	payload := "id,question,options,correct_answer,subelement,question_group\n" +
		"T5A01,Which units?,Volts; amperes | Ohms | Watts | Farads,A,T5,T5A\n"

	result := parseQuestions(t, payload, core.FormatDelimited)

	require.Empty(t, result.Errors)
	require.Len(t, result.Valid, 1)
	assert.Equal(t, []string{"Volts; amperes", "Ohms", "Watts", "Farads"}, result.Valid[0].(Question).Options)
}

func TestQuestion_StructuredOptions(t *testing.T) {
	payload := `{"questions": [
		{"id": "E9B12", "question": "Q?", "options": ["a", "b", "c", "d"], "correct_answer": 2, "subelement": "E9", "question_group": "E9B"},
		{"id": "E9B13", "question": "Q?", "choices": ["a", "b", "c"], "correct_answer": "A", "subelement": "E9", "group": "E9B"}
	]}`

	result := parseQuestions(t, payload, core.FormatStructured)

	require.Len(t, result.Valid, 1)
	assert.Equal(t, 2, result.Valid[0].(Question).CorrectAnswer)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Position)
	assert.Equal(t, []string{"options: must have exactly 4 items"}, result.Errors[0].Violations)
}

func TestQuestion_Rules(t *testing.T) {
	header := "id,question,option_a,option_b,option_c,option_d,correct_answer,subelement,question_group,links\n"

	tests := []struct {
		name string
		row  string
		want []string
	}{
		{
			name: "malformed id",
			row:  "T1A1,Q?,A,B,C,D,A,T1,T1A,",
			want: []string{
				`id: "T1A1" must look like T1A01 (element, subelement, group, number)`,
			},
		},
		{
			name: "id outside its group",
			row:  "T1B01,Q?,A,B,C,D,A,T1,T1A,",
			want: []string{`id: "T1B01" must start with its question_group "T1A"`},
		},
		{
			name: "group outside its subelement",
			row:  "T1A01,Q?,A,B,C,D,A,T2,T1A,",
			want: []string{`question_group: "T1A" must start with its subelement "T2"`},
		},
		{
			name: "answer out of range",
			row:  "T1A01,Q?,A,B,C,D,4,T1,T1A,",
			want: []string{"correct_answer: must be one of: 0, 1, 2, 3"},
		},
		{
			name: "bad link",
			row:  "T1A01,Q?,A,B,C,D,A,T1,T1A,not a url",
			want: []string{"links[0]: must be a valid URL"},
		},
		{
			name: "missing everything",
			row:  ",,,,,,,,,",
			want: []string{
				"id: is required",
				"question: is required",
				"options: is required",
				"correct_answer: is required",
				"subelement: is required",
				"question_group: is required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseQuestions(t, header+tt.row+"\n", core.FormatDelimited)
			require.Empty(t, result.Valid)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tt.want, result.Errors[0].Violations)
		})
	}
}

func TestQuestion_MergePolicy(t *testing.T) {
	existing := Question{
		ID: "T1A01", Question: "Old?", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 0,
		Subelement: "T1", Group: "T1A", Explanation: "Kept", Figure: "",
		Links: []string{"https://example.com/old"},
	}
	incoming := Question{
		ID: "T1A01", Question: "New?", Options: []string{"e", "f", "g", "h"}, CorrectAnswer: 2,
		Subelement: "T1", Group: "T1A", Explanation: "Dropped", Figure: "fig.png",
		Links: []string{"https://example.com/new"},
	}

	rec, err := core.ApplyResolution(QuestionSchema(), core.ConflictItem{
		Key: "T1A01", Existing: existing, Incoming: incoming, Resolution: core.ResolutionMerge,
	})
	require.NoError(t, err)

	merged := rec.(Question)
	assert.Equal(t, "New?", merged.Question)
	assert.Equal(t, []string{"e", "f", "g", "h"}, merged.Options)
	assert.Equal(t, 2, merged.CorrectAnswer)
	assert.Equal(t, "Kept", merged.Explanation)
	assert.Equal(t, "fig.png", merged.Figure)
	assert.Equal(t, []string{"https://example.com/old"}, merged.Links)
}

func TestQuestion_AssembleRoundTrip(t *testing.T) {
	q := Question{
		ID: "T1A01", Question: "Q?", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 3,
		Subelement: "T1", Group: "T1A",
	}

	rec, err := QuestionSchema().Assemble(q.Fields())
	require.NoError(t, err)
	assert.Equal(t, q, rec)
	assert.Equal(t, core.Fingerprint(q), core.Fingerprint(rec))
}
