package core

// validation.go converts raw rows into typed records.
//
// Validation happens at three levels, and every violation of every level is
// collected for the row:
//  1. Field rules from the schema's FieldSpecs (required, enum, list shape)
//  2. Struct rules declared as validate tags on the typed record
//  3. Cross-field rules from the schema's Check func
//
// Values are normalized along the way (trimmed, enum values canonicalized,
// keys normalized) so later stages never see raw input.

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidateResult holds the outcome of Validate.
type ValidateResult struct {
	Valid     []Record          // Records that passed every rule, in input order
	Positions map[string]int    // Natural key -> source position of each valid record
	Errors    []ValidationError // One entry per rejected row, in input order
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()

	// Use JSON tag names in messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return v
}

// Validate checks each row against the schema independently.
// A row with any violation is reported once and excluded from Valid.
// Later rows repeating an accepted natural key are rejected as duplicates.
func Validate(rows []RawRow, schema *RecordSchema) ValidateResult {
	result := ValidateResult{Positions: make(map[string]int, len(rows))}

	for _, row := range rows {
		rec, key, violations := validateRow(row, schema)

		if len(violations) == 0 {
			if first, dup := result.Positions[key]; dup {
				violations = append(violations, fmt.Sprintf("duplicate key %q, first seen at row %d", key, first))
			}
		}

		if len(violations) > 0 {
			result.Errors = append(result.Errors, ValidationError{
				Position:   row.Position,
				Key:        key,
				Violations: violations,
			})
			continue
		}

		result.Positions[key] = row.Position
		result.Valid = append(result.Valid, rec)
	}

	return result
}

func validateRow(row RawRow, schema *RecordSchema) (Record, string, []string) {
	var violations []string
	badFields := make(map[string]bool)

	fields := make(Fields, 0, len(schema.Fields))
	for _, spec := range schema.Fields {
		field, msgs := normalizeField(row, spec)
		if len(msgs) > 0 {
			badFields[spec.Name] = true
			for _, m := range msgs {
				violations = append(violations, spec.Name+": "+m)
			}
		}
		fields = append(fields, field)
	}

	key := schema.Key(fields.Text(schema.KeyField))

	rec, err := schema.Assemble(fields)
	if err != nil {
		if len(violations) == 0 {
			violations = append(violations, err.Error())
		}
		return nil, key, violations
	}

	for _, v := range structViolations(rec) {
		if !badFields[violationField(v)] {
			violations = appendUnique(violations, v)
		}
	}

	if schema.Check != nil {
		for _, v := range schema.Check(rec) {
			if !badFields[violationField(v)] {
				violations = appendUnique(violations, v)
			}
		}
	}

	if len(violations) > 0 {
		return nil, key, violations
	}
	return rec, rec.NaturalKey(), nil
}

// normalizeField extracts and normalizes one field from a raw row.
func normalizeField(row RawRow, spec FieldSpec) (Field, []string) {
	if spec.Kind == FieldList {
		return normalizeList(row, spec)
	}

	raw, _ := row.Lookup(spec.Name)
	value := strings.TrimSpace(stringify(raw))
	if spec.Kind == FieldEnum {
		value = CleanCell(value)
	}
	if spec.Normalizer != nil && value != "" {
		value = spec.Normalizer(value)
	}

	if value == "" {
		if spec.Required {
			return TextField(spec.Name, ""), []string{"is required"}
		}
		return TextField(spec.Name, ""), nil
	}

	if spec.Kind == FieldEnum && len(spec.EnumValues) > 0 {
		canonical, ok := matchEnum(value, spec.EnumValues)
		if !ok {
			return TextField(spec.Name, value), []string{"must be one of: " + strings.Join(spec.EnumValues, ", ")}
		}
		value = canonical
	}

	return TextField(spec.Name, value), nil
}

// normalizeList reads a list field directly, or composes it from its part
// columns. Composed lists keep blank positions so shape rules can see them.
func normalizeList(row RawRow, spec FieldSpec) (Field, []string) {
	var items []string

	raw, _ := row.Lookup(spec.Name)
	if isArray(raw) || strings.TrimSpace(stringify(raw)) != "" {
		items = listify(raw)
	} else if len(spec.Parts) > 0 {
		present := false
		for _, part := range spec.Parts {
			raw, ok := row.Lookup(part)
			present = present || ok
			items = append(items, strings.TrimSpace(stringify(raw)))
		}
		if !present {
			items = nil
		}
	}

	if spec.Normalizer != nil {
		for i, item := range items {
			if item != "" {
				items[i] = spec.Normalizer(item)
			}
		}
	}

	if spec.Required && !hasNonBlank(items) {
		return ListField(spec.Name, items), []string{"is required"}
	}
	return ListField(spec.Name, items), nil
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

func hasNonBlank(items []string) bool {
	for _, item := range items {
		if item != "" {
			return true
		}
	}
	return false
}

func matchEnum(value string, allowed []string) (string, bool) {
	for _, ev := range allowed {
		if strings.EqualFold(ev, value) {
			return ev, true
		}
	}
	return "", false
}

// structViolations runs validate tags on a typed record.
func structViolations(rec Record) []string {
	err := structValidator.Struct(rec)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		out = append(out, e.Field()+": "+friendlyMessage(e))
	}
	return out
}

func friendlyMessage(e validator.FieldError) string {
	isCollection := e.Kind() == reflect.Slice || e.Kind() == reflect.Array
	switch e.Tag() {
	case "required":
		return "is required"
	case "url", "http_url":
		return "must be a valid URL"
	case "len":
		if isCollection {
			return fmt.Sprintf("must have exactly %s items", e.Param())
		}
		return fmt.Sprintf("must be exactly %s characters", e.Param())
	case "min":
		if isCollection {
			return fmt.Sprintf("must have at least %s items", e.Param())
		}
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		if isCollection {
			return fmt.Sprintf("must not exceed %s items", e.Param())
		}
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "unique":
		return "must not contain duplicates"
	default:
		return "is invalid"
	}
}

// violationField returns the field a "field: message" violation refers to,
// with any element index removed.
func violationField(v string) string {
	name, _, _ := strings.Cut(v, ":")
	name, _, _ = strings.Cut(name, "[")
	return name
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
