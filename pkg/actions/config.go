// Package actions holds helpers shared by the built-in action packages.
package actions

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode converts a JSON-like step config into its typed form and runs the
// struct's validate tags.
func Decode(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// Normalize converts a value to its plain JSON form (maps, slices, float64,
// string, bool, nil) so it can be stored and queried uniformly.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}
