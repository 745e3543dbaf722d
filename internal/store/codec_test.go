package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/quizimport/internal/core/schemas"
)

func TestEncodeDecodeRecord(t *testing.T) {
	schema := schemas.QuestionSchema()
	q := schemas.Question{
		ID: "T1A01", Question: "Q?", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 2,
		Subelement: "T1", Group: "T1A", Links: []string{"https://example.com"},
	}

	key, values, err := EncodeRecord(schema, q)
	require.NoError(t, err)

	assert.Equal(t, "T1A01", key)
	require.Len(t, values, len(schema.Fields))
	assert.Equal(t, `["a","b","c","d"]`, values[2])
	assert.Equal(t, "2", values[3])
	assert.Equal(t, "[]", func() string {
		_, v, _ := EncodeRecord(schema, schemas.Question{ID: "T1A02"})
		return v[8]
	}())

	rec, err := DecodeRecord(schema, values)
	require.NoError(t, err)
	assert.Equal(t, q, rec)
}

func TestEncodeRecord_WrongType(t *testing.T) {
	_, _, err := EncodeRecord(schemas.GlossarySchema(), schemas.Question{ID: "T1A01"})
	assert.Error(t, err)
}

func TestDecodeRecord_Errors(t *testing.T) {
	schema := schemas.GlossarySchema()

	_, err := DecodeRecord(schema, []string{"only one"})
	assert.Error(t, err)

	_, err = DecodeRecord(schema, []string{"Ohm", "Unit", "", "not json"})
	assert.Error(t, err)

	rec, err := DecodeRecord(schema, []string{"Ohm", "Unit", "", ""})
	require.NoError(t, err)
	assert.Empty(t, rec.(schemas.GlossaryTerm).Links)
}

func TestChunk(t *testing.T) {
	keys := make([]string, 1201)
	for i := range keys {
		keys[i] = fmt.Sprint(i)
	}

	chunks := Chunk(keys, 500)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Len(t, chunks[2], 201)
	assert.Nil(t, Chunk(nil, 500))
	assert.Len(t, Chunk(keys[:3], 0), 1)
}

func TestWriteSQL(t *testing.T) {
	schema := schemas.GlossarySchema()
	dollar := func(n int) string { return fmt.Sprintf("$%d", n) }

	insert := WriteSQL(schema, dollar, "now()", false)
	assert.Equal(t,
		`INSERT INTO "glossary_terms" (natural_key, "term", "definition", "category", "links", updated_at) `+
			`VALUES ($1, $2, $3, $4, $5, now()) ON CONFLICT (natural_key) DO NOTHING`,
		insert)

	upsert := WriteSQL(schema, func(int) string { return "?" }, "CURRENT_TIMESTAMP", true)
	assert.True(t, strings.HasSuffix(upsert,
		`DO UPDATE SET "term" = excluded."term", "definition" = excluded."definition", `+
			`"category" = excluded."category", "links" = excluded."links", updated_at = CURRENT_TIMESTAMP`))
}

func TestTableDDL(t *testing.T) {
	ddl := TableDDL(schemas.GlossarySchema(), "TIMESTAMPTZ", "now()")

	assert.True(t, strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "glossary_terms" (`))
	assert.Contains(t, ddl, "natural_key TEXT PRIMARY KEY")
	assert.Contains(t, ddl, `"definition" TEXT NOT NULL DEFAULT ''`)
	assert.Contains(t, ddl, "updated_at TIMESTAMPTZ NOT NULL DEFAULT now()")
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"questions"`, QuoteIdent("questions"))
	assert.Equal(t, `"odd""name"`, QuoteIdent(`odd"name`))
}
