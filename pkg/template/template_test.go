package template_test

import (
	"testing"

	"github.com/dukex/flowbase/pkg/template"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"formData": map[string]any{"email": "a@x.com", "age": float64(31)},
		"items":    []any{map[string]any{"sku": "X-1"}},
		"step1":    map[string]any{"id": 7},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "nested value", input: "{{formData.email}}", expected: "a@x.com"},
		{name: "missing path", input: "{{formData.missing}}", expected: ""},
		{name: "missing root", input: "{{nothing.here}}", expected: ""},
		{name: "mixed text", input: "Hi {{ formData.email }}, you are {{formData.age}}", expected: "Hi a@x.com, you are 31"},
		{name: "slice index", input: "sku={{items.0.sku}}", expected: "sku=X-1"},
		{name: "out of range", input: "{{items.4.sku}}", expected: ""},
		{name: "int output", input: "row {{step1.id}}", expected: "row 7"},
		{name: "object output", input: "{{formData}}!", expected: `{"age":31,"email":"a@x.com"}!`},
		{name: "no placeholder", input: "plain", expected: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, template.Render(tt.input, data))
		})
	}
}

func TestConfig_KeepsTypesForWholePlaceholders(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"formData": map[string]any{"name": "A", "tags": []any{"x"}},
	}

	config := map[string]any{
		"fields":  map[string]any{"name": "{{formData.name}}", "tags": "{{formData.tags}}"},
		"list":    []any{"{{formData.name}}-1", 3},
		"missing": "{{formData.nope}}",
	}

	out := template.Config(config, data)

	assert.Equal(t, map[string]any{"name": "A", "tags": []any{"x"}}, out["fields"])
	assert.Equal(t, []any{"A-1", 3}, out["list"])
	assert.Equal(t, "", out["missing"])
	assert.Equal(t, "{{formData.name}}", config["fields"].(map[string]any)["name"])
}

func TestHasPlaceholder(t *testing.T) {
	t.Parallel()

	assert.True(t, template.HasPlaceholder("to {{a.b}}"))
	assert.False(t, template.HasPlaceholder("to a.b"))
}
