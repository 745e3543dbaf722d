package schemas

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/JonMunkholm/quizimport/internal/core"
)

// TypeGlossaryTerm is the record type of glossary entries.
const TypeGlossaryTerm core.RecordType = "glossary_term"

// GlossaryTerm is a validated glossary entry. Terms are matched
// case-insensitively; the display spelling is kept as given.
type GlossaryTerm struct {
	Term       string   `json:"term" validate:"required,max=200"`
	Definition string   `json:"definition" validate:"required"`
	Category   string   `json:"category" validate:"max=100"`
	Links      []string `json:"links" validate:"dive,url"`
}

func (g GlossaryTerm) RecordType() core.RecordType { return TypeGlossaryTerm }

func (g GlossaryTerm) NaturalKey() string { return glossaryKey(g.Term) }

func (g GlossaryTerm) Fields() core.Fields {
	return core.Fields{
		core.TextField("term", g.Term),
		core.TextField("definition", g.Definition),
		core.TextField("category", g.Category),
		core.ListField("links", g.Links),
	}
}

// collapseSpace trims and reduces inner whitespace runs to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// glossaryKey folds a term for caseless matching. A new Caser is used per
// call since Casers keep state.
func glossaryKey(term string) string {
	return cases.Fold().String(collapseSpace(term))
}

func assembleGlossaryTerm(f core.Fields) (core.Record, error) {
	return GlossaryTerm{
		Term:       f.Text("term"),
		Definition: f.Text("definition"),
		Category:   f.Text("category"),
		Links:      compact(f.List("links")),
	}, nil
}

func checkGlossaryTerm(rec core.Record) []string {
	if _, ok := rec.(GlossaryTerm); !ok {
		return []string{fmt.Sprintf("unexpected record type %T", rec)}
	}
	return nil
}

var glossarySchema = &core.RecordSchema{
	Type:       TypeGlossaryTerm,
	Label:      "GlossaryTerm",
	Table:      "glossary_terms",
	Collection: "terms",
	KeyField:   "term",
	Fields: []core.FieldSpec{
		{Name: "term", Kind: core.FieldText, Required: true, Normalizer: collapseSpace},
		{Name: "definition", Kind: core.FieldText, Required: true},
		{Name: "category", Kind: core.FieldText},
		{Name: "links", Kind: core.FieldList},
	},
	Aliases: map[string]string{
		"name":        "term",
		"word":        "term",
		"title":       "term",
		"meaning":     "definition",
		"description": "definition",
		"topic":       "category",
		"section":     "category",
		"link":        "links",
		"resources":   "links",
		"references":  "links",
	},
	Merge: core.MergePolicy{
		"term":       core.PreferIncomingAlways,
		"definition": core.PreferIncomingAlways,
		"category":   core.PreferExistingIfNonEmpty,
		"links":      core.PreferExistingCollectionIfNonEmpty,
	},
	NormalizeKey: glossaryKey,
	Assemble:     assembleGlossaryTerm,
	Check:        checkGlossaryTerm,
}
