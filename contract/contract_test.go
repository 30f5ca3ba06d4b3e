package contract

import (
	"testing"

	"github.com/deepnoodle-ai/forge/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingRequiredKey(t *testing.T) {
	declared := &schema.Schema{Type: "object", Required: []string{"body"}}
	mismatch := Validate(declared, map[string]any{"status": 200}, nil, nil)
	require.NotNil(t, mismatch)
	assert.Equal(t, MismatchMissingRequiredKey, mismatch.Kind)
	assert.Equal(t, []string{"body"}, mismatch.ExpectedKeys)
	assert.Equal(t, []string{"status"}, mismatch.ActualKeys)
}

func TestTolerantKeyVariants(t *testing.T) {
	declared := &schema.Schema{Type: "object", Required: []string{"page_count"}}
	tests := []struct {
		name  string
		value map[string]any
		pass  bool
	}{
		{"exact", map[string]any{"page_count": 3}, true},
		{"camel case", map[string]any{"pageCount": 3}, true},
		{"kebab case", map[string]any{"page-count": 3}, true},
		{"upper camel", map[string]any{"PageCount": 3}, true},
		{"absent under all variants", map[string]any{"pages": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mismatch := Validate(declared, tt.value, nil, nil)
			if tt.pass {
				assert.Nil(t, mismatch)
			} else {
				require.NotNil(t, mismatch)
				assert.Equal(t, MismatchMissingRequiredKey, mismatch.Kind)
			}
		})
	}
}

func TestTypeMismatch(t *testing.T) {
	declared := &schema.Schema{
		Type: "object",
		Properties: map[string]*schema.Property{
			"title": {Type: "string"},
		},
	}
	mismatch := Validate(declared, map[string]any{"title": 7}, nil, nil)
	require.NotNil(t, mismatch)
	assert.Equal(t, MismatchTypeMismatch, mismatch.Kind)
	assert.Equal(t, "string", mismatch.ExpectedType)
	assert.Equal(t, "integer", mismatch.ActualType)
}

func TestMinItems(t *testing.T) {
	declared := &schema.Schema{
		Type: "object",
		Properties: map[string]*schema.Property{
			"results": {Type: "array", MinItems: 2},
		},
	}
	mismatch := Validate(declared, map[string]any{"results": []any{"one"}}, nil, nil)
	require.NotNil(t, mismatch)
	assert.Equal(t, MismatchMinItems, mismatch.Kind)

	assert.Nil(t, Validate(declared, map[string]any{"results": []any{"one", "two"}}, nil, nil))
}

func TestNilRequiredInput(t *testing.T) {
	// An empty required input paired with an artificially successful
	// empty result is itself a violation.
	mismatch := Validate(nil, map[string]any{}, map[string]any{"document": ""}, []string{"document"})
	require.NotNil(t, mismatch)
	assert.Equal(t, MismatchNilRequiredInput, mismatch.Kind)

	// A real result from an empty input is allowed through.
	assert.Nil(t, Validate(nil, map[string]any{"summary": "n/a"}, map[string]any{"document": ""}, []string{"document"}))

	// A present input never triggers the check.
	assert.Nil(t, Validate(nil, map[string]any{}, map[string]any{"document": "text"}, []string{"document"}))
}

func TestNestedValidation(t *testing.T) {
	declared := &schema.Schema{
		Type:     "object",
		Required: []string{"report"},
		Properties: map[string]*schema.Property{
			"report": {
				Type:     "object",
				Required: []string{"sections"},
				Properties: map[string]*schema.Property{
					"sections": {Type: "array", MinItems: 1, Items: &schema.Property{Type: "string"}},
				},
			},
		},
	}
	value := map[string]any{
		"report": map[string]any{"sections": []any{"intro"}},
	}
	assert.Nil(t, Validate(declared, value, nil, nil))

	bad := map[string]any{
		"report": map[string]any{"sections": []any{}},
	}
	mismatch := Validate(declared, bad, nil, nil)
	require.NotNil(t, mismatch)
	assert.Equal(t, MismatchMinItems, mismatch.Kind)
	assert.Equal(t, "$.report.sections", mismatch.Path)
}
