// Package contract validates success outcomes against a declared
// deliverable shape. Key-presence checks are tolerant of representation
// variants (snake_case, camelCase, case differences) naming the same
// field.
package contract

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/deepnoodle-ai/forge/schema"
)

// MismatchKind classifies a contract violation.
type MismatchKind string

const (
	MismatchMissingRequiredKey MismatchKind = "missing_required_key"
	MismatchTypeMismatch       MismatchKind = "type_mismatch"
	MismatchMinItems           MismatchKind = "min_items_violation"
	MismatchNilRequiredInput   MismatchKind = "nil_required_input"
)

// Mismatch describes one contract violation with enough detail to repair
// the generating program.
type Mismatch struct {
	Kind         MismatchKind `json:"kind"`
	Path         string       `json:"path,omitempty"`
	ExpectedType string       `json:"expected_type,omitempty"`
	ActualType   string       `json:"actual_type,omitempty"`
	ExpectedKeys []string     `json:"expected_keys,omitempty"`
	ActualKeys   []string     `json:"actual_keys,omitempty"`
	Detail       string       `json:"detail,omitempty"`
}

func (m *Mismatch) Error() string {
	if m.Path != "" {
		return fmt.Sprintf("contract violation at %s: %s", m.Path, m.describe())
	}
	return "contract violation: " + m.describe()
}

func (m *Mismatch) describe() string {
	switch m.Kind {
	case MismatchMissingRequiredKey:
		return fmt.Sprintf("missing required keys %v (got %v)", m.ExpectedKeys, m.ActualKeys)
	case MismatchTypeMismatch:
		return fmt.Sprintf("expected %s, got %s", m.ExpectedType, m.ActualType)
	case MismatchMinItems:
		return m.Detail
	case MismatchNilRequiredInput:
		return m.Detail
	default:
		return m.Detail
	}
}

// Metadata renders the mismatch as outcome metadata.
func (m *Mismatch) Metadata() map[string]any {
	metadata := map[string]any{"mismatch": string(m.Kind)}
	if m.Path != "" {
		metadata["path"] = m.Path
	}
	if m.ExpectedType != "" {
		metadata["expected_type"] = m.ExpectedType
		metadata["actual_type"] = m.ActualType
	}
	if len(m.ExpectedKeys) > 0 {
		metadata["expected_keys"] = m.ExpectedKeys
	}
	if len(m.ActualKeys) > 0 {
		metadata["actual_keys"] = m.ActualKeys
	}
	return metadata
}

// Validate checks a success value against the declared shape. A nil schema
// accepts everything. requiredInputs names kwargs that must be non-empty:
// a nil or empty required input paired with an empty "successful" result
// is itself a violation.
func Validate(declared *schema.Schema, value any, kwargs map[string]any, requiredInputs []string) *Mismatch {
	if mismatch := checkRequiredInputs(value, kwargs, requiredInputs); mismatch != nil {
		return mismatch
	}
	if declared == nil {
		return nil
	}
	return validateValue("$", schemaAsProperty(declared), value)
}

func schemaAsProperty(declared *schema.Schema) *schema.Property {
	return &schema.Property{
		Type:       declared.Type,
		Properties: declared.Properties,
		Required:   declared.Required,
	}
}

func checkRequiredInputs(value any, kwargs map[string]any, requiredInputs []string) *Mismatch {
	for _, name := range requiredInputs {
		input, ok := lookupVariant(kwargs, name)
		if ok && !isEmpty(input) {
			continue
		}
		if isEmpty(value) {
			return &Mismatch{
				Kind:   MismatchNilRequiredInput,
				Detail: fmt.Sprintf("required input %q is nil or empty and the result is empty", name),
			}
		}
	}
	return nil
}

func validateValue(path string, property *schema.Property, value any) *Mismatch {
	switch property.Type {
	case "object":
		m, ok := value.(map[string]any)
		if !ok {
			return &Mismatch{
				Kind:         MismatchTypeMismatch,
				Path:         path,
				ExpectedType: "object",
				ActualType:   typeName(value),
			}
		}
		if len(property.Required) > 0 {
			var missing []string
			for _, key := range property.Required {
				if _, ok := lookupVariant(m, key); !ok {
					missing = append(missing, key)
				}
			}
			if len(missing) > 0 {
				return &Mismatch{
					Kind:         MismatchMissingRequiredKey,
					Path:         path,
					ExpectedKeys: missing,
					ActualKeys:   sortedKeys(m),
				}
			}
		}
		for name, child := range property.Properties {
			childValue, ok := lookupVariant(m, name)
			if !ok {
				continue
			}
			if mismatch := validateValue(path+"."+name, child, childValue); mismatch != nil {
				return mismatch
			}
		}
		return nil
	case "array":
		items, ok := value.([]any)
		if !ok {
			return &Mismatch{
				Kind:         MismatchTypeMismatch,
				Path:         path,
				ExpectedType: "array",
				ActualType:   typeName(value),
			}
		}
		if property.MinItems > 0 && len(items) < property.MinItems {
			return &Mismatch{
				Kind:   MismatchMinItems,
				Path:   path,
				Detail: fmt.Sprintf("expected at least %d items, got %d", property.MinItems, len(items)),
			}
		}
		if property.Items != nil {
			for i, item := range items {
				if mismatch := validateValue(fmt.Sprintf("%s[%d]", path, i), property.Items, item); mismatch != nil {
					return mismatch
				}
			}
		}
		return nil
	case "string", "number", "integer", "boolean":
		if actual := typeName(value); actual != property.Type && !numericMatch(property.Type, actual) {
			return &Mismatch{
				Kind:         MismatchTypeMismatch,
				Path:         path,
				ExpectedType: property.Type,
				ActualType:   actual,
			}
		}
		return nil
	default:
		return nil
	}
}

// lookupVariant finds a key under its exact spelling or a representation
// variant of the same field name.
func lookupVariant(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	wanted := canonicalKey(key)
	for k, v := range m {
		if canonicalKey(k) == wanted {
			return v, true
		}
	}
	return nil, false
}

// canonicalKey collapses snake_case, kebab-case and camelCase spellings of
// a field name into one comparable form.
func canonicalKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r == '_' || r == '-' || r == ' ':
		case unicode.IsUpper(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64:
		return "integer"
	case float32, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// numericMatch accepts integers where numbers are expected, and whole
// floats where integers are expected (JSON decoding yields float64).
func numericMatch(expected, actual string) bool {
	if expected == "number" && actual == "integer" {
		return true
	}
	if expected == "integer" && actual == "number" {
		return true
	}
	return false
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
