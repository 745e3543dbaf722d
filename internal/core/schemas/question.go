package schemas

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/quizimport/internal/core"
)

// TypeQuestion is the record type of exam pool questions.
const TypeQuestion core.RecordType = "question"

// questionIDPattern matches pool question IDs such as T1A01 or E9B12:
// element letter, subelement digit, group letter, two-digit number.
var questionIDPattern = regexp.MustCompile(`^[TGE][0-9][A-Z][0-9]{2}$`)

// answerLetters maps letter answers to their 0-based index.
var answerLetters = map[string]string{"A": "0", "B": "1", "C": "2", "D": "3"}

// Question is a validated exam pool question.
type Question struct {
	ID            string   `json:"id" validate:"required"`
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"len=4,dive,required"`
	CorrectAnswer int      `json:"correct_answer" validate:"gte=0,lte=3"`
	Subelement    string   `json:"subelement" validate:"required"`
	Group         string   `json:"question_group" validate:"required"`
	Explanation   string   `json:"explanation"`
	Figure        string   `json:"figure"`
	Links         []string `json:"links" validate:"dive,url"`
}

func (q Question) RecordType() core.RecordType { return TypeQuestion }

func (q Question) NaturalKey() string { return q.ID }

func (q Question) Fields() core.Fields {
	return core.Fields{
		core.TextField("id", q.ID),
		core.TextField("question", q.Question),
		core.ListField("options", q.Options),
		core.TextField("correct_answer", strconv.Itoa(q.CorrectAnswer)),
		core.TextField("subelement", q.Subelement),
		core.TextField("question_group", q.Group),
		core.TextField("explanation", q.Explanation),
		core.TextField("figure", q.Figure),
		core.ListField("links", q.Links),
	}
}

// normalizeAnswer accepts a letter A-D or a 0-based numeral.
func normalizeAnswer(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if idx, ok := answerLetters[s]; ok {
		return idx
	}
	return s
}

func assembleQuestion(f core.Fields) (core.Record, error) {
	q := Question{
		ID:          f.Text("id"),
		Question:    f.Text("question"),
		Options:     f.List("options"),
		Subelement:  f.Text("subelement"),
		Group:       f.Text("question_group"),
		Explanation: f.Text("explanation"),
		Figure:      f.Text("figure"),
		Links:       compact(f.List("links")),
	}

	// Blank or non-numeric answers become -1 and fail the range rule.
	q.CorrectAnswer = -1
	if n, err := strconv.Atoi(f.Text("correct_answer")); err == nil {
		q.CorrectAnswer = n
	}

	return q, nil
}

func checkQuestion(rec core.Record) []string {
	q, ok := rec.(Question)
	if !ok {
		return []string{fmt.Sprintf("unexpected record type %T", rec)}
	}

	var violations []string
	if q.ID != "" && !questionIDPattern.MatchString(q.ID) {
		violations = append(violations, fmt.Sprintf("id: %q must look like T1A01 (element, subelement, group, number)", q.ID))
	}
	if q.ID != "" && q.Group != "" && !strings.HasPrefix(q.ID, q.Group) {
		violations = append(violations, fmt.Sprintf("id: %q must start with its question_group %q", q.ID, q.Group))
	}
	if q.Group != "" && q.Subelement != "" && !strings.HasPrefix(q.Group, q.Subelement) {
		violations = append(violations, fmt.Sprintf("question_group: %q must start with its subelement %q", q.Group, q.Subelement))
	}
	return violations
}

// Question is keyed by its pool ID, upper-cased.
var questionSchema = &core.RecordSchema{
	Type:       TypeQuestion,
	Label:      "Question",
	Table:      "questions",
	Collection: "questions",
	KeyField:   "id",
	Fields: []core.FieldSpec{
		{Name: "id", Kind: core.FieldText, Required: true, Normalizer: strings.ToUpper},
		{Name: "question", Kind: core.FieldText, Required: true},
		{Name: "options", Kind: core.FieldList, Required: true, Parts: []string{"option_a", "option_b", "option_c", "option_d"}},
		{Name: "correct_answer", Kind: core.FieldEnum, Required: true, EnumValues: []string{"0", "1", "2", "3"}, Normalizer: normalizeAnswer},
		{Name: "subelement", Kind: core.FieldText, Required: true, Normalizer: strings.ToUpper},
		{Name: "question_group", Kind: core.FieldText, Required: true, Normalizer: strings.ToUpper},
		{Name: "explanation", Kind: core.FieldText},
		{Name: "figure", Kind: core.FieldText},
		{Name: "links", Kind: core.FieldList},
	},
	Aliases: map[string]string{
		"question_id":   "id",
		"qid":           "id",
		"text":          "question",
		"question_text": "question",
		"stem":          "question",
		"answers":       "options",
		"choices":       "options",
		"a":             "option_a",
		"b":             "option_b",
		"c":             "option_c",
		"d":             "option_d",
		"answer_a":      "option_a",
		"answer_b":      "option_b",
		"answer_c":      "option_c",
		"answer_d":      "option_d",
		"correct":       "correct_answer",
		"answer":        "correct_answer",
		"correct_index": "correct_answer",
		"sub_element":   "subelement",
		"group":         "question_group",
		"figure_url":    "figure",
		"image":         "figure",
		"link":          "links",
		"resources":     "links",
		"references":    "links",
	},
	Merge: core.MergePolicy{
		"question":       core.PreferIncomingAlways,
		"options":        core.PreferIncomingAlways,
		"correct_answer": core.PreferIncomingAlways,
		"subelement":     core.PreferIncomingAlways,
		"question_group": core.PreferIncomingAlways,
		"explanation":    core.PreferExistingIfNonEmpty,
		"figure":         core.PreferExistingIfNonEmpty,
		"links":          core.PreferExistingCollectionIfNonEmpty,
	},
	NormalizeKey: strings.ToUpper,
	Assemble:     assembleQuestion,
	Check:        checkQuestion,
}

// compact drops blank list items.
func compact(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
