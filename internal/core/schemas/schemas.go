// Package schemas registers the importable record types.
//
// Import this package for its side effects:
//
//	import _ "github.com/JonMunkholm/quizimport/internal/core/schemas"
package schemas

import "github.com/JonMunkholm/quizimport/internal/core"

func init() {
	Register()
}

// Register adds every schema to the core registry.
// Tests that call core.Clear use it to restore the registry.
func Register() {
	for _, schema := range []*core.RecordSchema{questionSchema, glossarySchema} {
		if _, ok := core.Get(string(schema.Type)); !ok {
			core.Register(schema)
		}
	}
}

// QuestionSchema returns the question schema.
func QuestionSchema() *core.RecordSchema { return questionSchema }

// GlossarySchema returns the glossary term schema.
func GlossarySchema() *core.RecordSchema { return glossarySchema }
