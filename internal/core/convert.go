package core

// convert.go provides cleanup helpers for user-provided import data.
//
// These functions handle the messy reality of spreadsheet exports:
//   - Byte order marks and invalid UTF-8 from Windows tools
//   - Excel formula prefixes (="value")
//   - Header names with odd casing, spacing, and punctuation
//   - Lists packed into a single cell

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") && len(s) > 1 {
		s = s[1:]
	}

	// Remove any surrounding quotes
	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}

// NormalizeHeader turns a header cell or property name into lookup form:
// cleaned, lowercased, with spaces and hyphens folded to underscores.
func NormalizeHeader(s string) string {
	s = strings.ToLower(CleanCell(s))
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
	return s
}

// stripBOM removes a leading UTF-8 byte order mark.
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

// cleanPayload prepares a raw upload for parsing.
func cleanPayload(data []byte) []byte {
	return sanitizeUTF8(stripBOM(data))
}

// SplitList splits a packed cell ("a | b") into trimmed, non-blank items.
// Pipes and newlines separate items. Semicolons are ordinary text.
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == '\n' || r == '\r'
	})
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stringify renders a raw value as text. Structured payloads keep JSON
// primitives, which are converted here rather than in the parser.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// listify converts a raw value to a list of strings. Arrays are taken
// element by element; a scalar is split with SplitList.
func listify(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, strings.TrimSpace(stringify(item)))
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = strings.TrimSpace(item)
		}
		return out
	default:
		return SplitList(stringify(t))
	}
}
