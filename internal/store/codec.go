// Package store holds the table layout and row codec shared by the
// persisted store backends.
//
// Each record schema is stored in its own table:
//
//	natural_key TEXT PRIMARY KEY
//	<field>     TEXT NOT NULL DEFAULT ''   -- one per schema field, lists as JSON arrays
//	updated_at  timestamp of the last write
package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JonMunkholm/quizimport/internal/core"
)

// LookupChunkSize bounds the number of keys per existing-record query.
const LookupChunkSize = 500

// KeyColumn is the primary key column of every record table.
const KeyColumn = "natural_key"

// Columns returns the field columns of a schema in declaration order.
func Columns(schema *core.RecordSchema) []string {
	return schema.FieldNames()
}

// QuoteIdent quotes an identifier for both PostgreSQL and SQLite.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EncodeRecord returns the natural key and one column value per field.
func EncodeRecord(schema *core.RecordSchema, rec core.Record) (string, []string, error) {
	if rec.RecordType() != schema.Type {
		return "", nil, fmt.Errorf("record type %s does not match table %s", rec.RecordType(), schema.Table)
	}

	fields := rec.Fields()
	values := make([]string, len(schema.Fields))
	for i, spec := range schema.Fields {
		f, _ := fields.Get(spec.Name)
		if spec.Kind != core.FieldList {
			values[i] = f.Text
			continue
		}
		list := f.List
		if list == nil {
			list = []string{}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return "", nil, fmt.Errorf("encode %s: %w", spec.Name, err)
		}
		values[i] = string(b)
	}
	return rec.NaturalKey(), values, nil
}

// DecodeRecord rebuilds a record from stored column values.
func DecodeRecord(schema *core.RecordSchema, values []string) (core.Record, error) {
	if len(values) != len(schema.Fields) {
		return nil, fmt.Errorf("decode %s: got %d columns, want %d", schema.Table, len(values), len(schema.Fields))
	}

	fields := make(core.Fields, len(schema.Fields))
	for i, spec := range schema.Fields {
		if spec.Kind != core.FieldList {
			fields[i] = core.TextField(spec.Name, values[i])
			continue
		}
		var list []string
		if values[i] != "" {
			if err := json.Unmarshal([]byte(values[i]), &list); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", schema.Table, spec.Name, err)
			}
		}
		fields[i] = core.ListField(spec.Name, list)
	}
	return schema.Assemble(fields)
}

// Chunk splits keys into slices of at most size elements.
func Chunk(keys []string, size int) [][]string {
	if size <= 0 {
		size = LookupChunkSize
	}
	var chunks [][]string
	for len(keys) > size {
		chunks = append(chunks, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		chunks = append(chunks, keys)
	}
	return chunks
}

// TableDDL builds the CREATE TABLE statement for a schema.
// timestampType is the dialect's column type for updated_at.
func TableDDL(schema *core.RecordSchema, timestampType, timestampDefault string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", QuoteIdent(schema.Table))
	fmt.Fprintf(&b, "\t%s TEXT PRIMARY KEY,\n", KeyColumn)
	for _, col := range Columns(schema) {
		fmt.Fprintf(&b, "\t%s TEXT NOT NULL DEFAULT '',\n", QuoteIdent(col))
	}
	fmt.Fprintf(&b, "\tupdated_at %s NOT NULL DEFAULT %s\n)", timestampType, timestampDefault)
	return b.String()
}

// SelectColumns returns the quoted field column list for SELECT.
func SelectColumns(schema *core.RecordSchema) string {
	cols := Columns(schema)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// WriteSQL builds an INSERT for a schema with numbered or positional
// placeholders. With update set, an existing key is overwritten; otherwise
// it is left alone, which keeps re-running an import safe.
func WriteSQL(schema *core.RecordSchema, placeholder func(n int) string, now string, update bool) string {
	cols := Columns(schema)

	names := []string{KeyColumn}
	params := []string{placeholder(1)}
	sets := make([]string, 0, len(cols)+1)
	for i, c := range cols {
		q := QuoteIdent(c)
		names = append(names, q)
		params = append(params, placeholder(i+2))
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", q, q))
	}
	names = append(names, "updated_at")
	params = append(params, now)
	sets = append(sets, "updated_at = "+now)

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		QuoteIdent(schema.Table),
		strings.Join(names, ", "),
		strings.Join(params, ", "),
		KeyColumn,
	)
	if update {
		return stmt + "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return stmt + "DO NOTHING"
}

// Args returns the key and values as query arguments.
func Args(key string, values []string) []any {
	args := make([]any, 0, len(values)+1)
	args = append(args, key)
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
