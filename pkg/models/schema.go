package models

// JSONSchema describes the typed input of an action. It is served to
// authoring tools and checked against step configs at activation time.
type JSONSchema struct {
	Type                 string               `json:"type"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	Title                string               `json:"title,omitempty"`
	Description          string               `json:"description,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

type Property struct {
	Type        any                  `json:"type,omitempty"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Format      string               `json:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	Pattern     string               `json:"pattern,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// ObjectSchema builds an object schema from its properties and required names.
func ObjectSchema(title, description string, properties map[string]*Property, required ...string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Title:       title,
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

func StringProperty(description string) *Property {
	return &Property{Type: "string", Description: description}
}

// StringOrNumberProperty accepts numbers or strings, so a field may hold a
// literal or a "{{path}}" placeholder.
func StringOrNumberProperty(description string) *Property {
	return &Property{Type: []string{"string", "number"}, Description: description}
}

func ObjectProperty(description string) *Property {
	return &Property{Type: "object", Description: description}
}

func StringListProperty(description string) *Property {
	return &Property{Type: "array", Description: description, Items: &Property{Type: "string"}}
}

// RegisteredAction is the catalog view of a dispatchable action.
type RegisteredAction struct {
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Integration string      `json:"integration,omitempty"`
	External    bool        `json:"external"`
	Schema      *JSONSchema `json:"schema"`
}
