package core

// parser.go turns an uploaded payload into untyped rows.
//
// Parsing never fails as a whole. Structural problems are reported per row
// as ParseError values and the offending row is skipped:
//   - Delimited rows with the wrong column count or broken quoting
//   - Structured elements that are not objects
//   - A document that cannot be read at all (position 0, no rows)
//
// Column and property names are mapped to canonical field names through the
// schema's alias table, so downstream stages only see canonical names.

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// collectionNames are accepted as the collection property of a structured
// document in addition to the schema's own Collection.
var collectionNames = []string{"items", "records", "data"}

// ParseResult holds the rows and row-level errors from Parse.
type ParseResult struct {
	Columns []string     // Canonical column names in source order
	Rows    []RawRow     // Well-formed rows in source order
	Errors  []ParseError // Malformed rows, in source order
}

// ParseFormat resolves a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delimited", "csv", "tsv":
		return FormatDelimited, nil
	case "structured", "json":
		return FormatStructured, nil
	default:
		return "", fmt.Errorf("unsupported format %q (use delimited or structured)", s)
	}
}

// DetectFormat chooses a format from a file name and content type.
// JSON content is structured; everything else is treated as delimited.
func DetectFormat(fileName, contentType string) Format {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
			return FormatStructured
		}
	}
	if strings.EqualFold(filepath.Ext(fileName), ".json") {
		return FormatStructured
	}
	return FormatDelimited
}

// Parse converts a payload into raw rows for the given schema.
func Parse(payload []byte, format Format, schema *RecordSchema) ParseResult {
	data := cleanPayload(payload)
	if len(bytes.TrimSpace(data)) == 0 {
		return ParseResult{Errors: []ParseError{{Position: 0, Message: ErrEmptyPayload.Error()}}}
	}

	switch format {
	case FormatStructured:
		return parseStructured(data, schema)
	default:
		return parseDelimited(data, schema)
	}
}

// detectDelimiter returns a tab when the header line has tabs and no commas.
func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.IndexByte(line, '\t') >= 0 && bytes.IndexByte(line, ',') < 0 {
		return '\t'
	}
	return ','
}

func parseDelimited(data []byte, schema *RecordSchema) ParseResult {
	var result ParseResult

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(data)
	r.FieldsPerRecord = -1

	var header []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				result.Errors = append(result.Errors, ParseError{Message: err.Error()})
				break
			}
			result.Errors = append(result.Errors, ParseError{
				Position: perr.StartLine,
				Message:  perr.Err.Error(),
			})
			continue
		}

		line, _ := r.FieldPos(0)

		if header == nil {
			header = canonicalHeader(record, schema)
			result.Columns = header
			continue
		}

		if len(record) != len(header) {
			result.Errors = append(result.Errors, ParseError{
				Position: line,
				Message:  fmt.Sprintf("expected %d columns, got %d", len(header), len(record)),
			})
			continue
		}

		row := RawRow{Position: line, Values: make([]RawValue, 0, len(header))}
		for i, name := range header {
			if name == "" {
				continue
			}
			row.Values = append(row.Values, RawValue{Name: name, Value: record[i]})
		}
		result.Rows = append(result.Rows, row)
	}

	if header == nil && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, ParseError{Message: "no header row"})
	}

	return result
}

// canonicalHeader maps header cells to canonical names. Blank and repeated
// names map to "" and are dropped from rows; the first occurrence wins.
func canonicalHeader(record []string, schema *RecordSchema) []string {
	header := make([]string, len(record))
	seen := make(map[string]bool, len(record))
	for i, cell := range record {
		name := schema.Canonical(cell)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		header[i] = name
	}
	return header
}

func parseStructured(data []byte, schema *RecordSchema) ParseResult {
	var result ParseResult

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	elements, err := openCollection(dec, schema)
	if err != nil {
		result.Errors = append(result.Errors, ParseError{Message: err.Error()})
		return result
	}
	if !elements {
		return result
	}

	seenColumns := make(map[string]bool)
	for pos := 1; dec.More(); pos++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// The stream cannot be resynchronized after a syntax error.
			result.Errors = append(result.Errors, ParseError{Position: pos, Message: err.Error()})
			return result
		}

		row, err := decodeObject(raw, schema)
		if err != nil {
			result.Errors = append(result.Errors, ParseError{Position: pos, Message: err.Error()})
			continue
		}
		row.Position = pos
		for _, v := range row.Values {
			if !seenColumns[v.Name] {
				seenColumns[v.Name] = true
				result.Columns = append(result.Columns, v.Name)
			}
		}
		result.Rows = append(result.Rows, row)
	}

	return result
}

// openCollection advances the decoder to the first element of the record
// collection. It returns false when the document holds no collection.
func openCollection(dec *json.Decoder, schema *RecordSchema) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, fmt.Errorf("invalid document: %w", err)
	}

	switch tok {
	case json.Delim('['):
		return true, nil
	case json.Delim('{'):
	default:
		return false, fmt.Errorf("invalid document: expected an array or object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, fmt.Errorf("invalid document: %w", err)
		}
		key, _ := keyTok.(string)

		if isCollectionName(key, schema) {
			tok, err := dec.Token()
			if err != nil {
				return false, fmt.Errorf("invalid document: %w", err)
			}
			if tok != json.Delim('[') {
				return false, fmt.Errorf("invalid document: %q is not an array", key)
			}
			return true, nil
		}

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return false, fmt.Errorf("invalid document: %w", err)
		}
	}

	names := append([]string{schema.Collection}, collectionNames...)
	return false, fmt.Errorf("invalid document: no collection property (expected one of %s)", strings.Join(names, ", "))
}

func isCollectionName(key string, schema *RecordSchema) bool {
	key = NormalizeHeader(key)
	if schema.Collection != "" && key == schema.Collection {
		return true
	}
	for _, name := range collectionNames {
		if key == name {
			return true
		}
	}
	return false
}

// decodeObject decodes one collection element, preserving property order.
func decodeObject(raw json.RawMessage, schema *RecordSchema) (RawRow, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return RawRow{}, err
	}
	if tok != json.Delim('{') {
		return RawRow{}, fmt.Errorf("element is not an object")
	}

	var row RawRow
	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return RawRow{}, err
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return RawRow{}, err
		}

		name := schema.Canonical(keyTok.(string))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		row.Values = append(row.Values, RawValue{Name: name, Value: value})
	}

	return row, nil
}
