// Package template resolves {{path.to.value}} placeholders against an
// execution context. Resolution is lenient: a path that does not resolve
// renders as the empty string.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Lookup walks a dotted path through nested maps and slices.
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// Render replaces every placeholder in input.
func Render(input string, data map[string]any) string {
	return placeholder.ReplaceAllStringFunc(input, func(token string) string {
		path := placeholder.FindStringSubmatch(token)[1]

		value, ok := Lookup(data, path)
		if !ok {
			return ""
		}

		return stringify(value)
	})
}

// Value renders strings recursively through maps and slices. A string made
// of exactly one placeholder keeps the resolved value's type.
func Value(v any, data map[string]any) any {
	switch value := v.(type) {
	case string:
		return renderString(value, data)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = Value(item, data)
		}

		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = Value(item, data)
		}

		return out
	default:
		return value
	}
}

// Config interpolates a step configuration without mutating it.
func Config(config map[string]any, data map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	out, _ := Value(config, data).(map[string]any)

	return out
}

// HasPlaceholder reports whether s contains a {{...}} token.
func HasPlaceholder(s string) bool {
	return placeholder.MatchString(s)
}

func renderString(s string, data map[string]any) any {
	match := placeholder.FindStringSubmatchIndex(s)
	if match != nil && match[0] == 0 && match[1] == len(s) {
		value, ok := Lookup(data, s[match[2]:match[3]])
		if !ok || value == nil {
			return ""
		}

		return value
	}

	return Render(s, data)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}

		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}
