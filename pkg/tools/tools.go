// Package tools defines the tool-calling contract exposed to language models:
// tool definitions with JSON schemas, argument validation, and a sealable
// registry of executable tools.
package tools

import (
	"context"
	"fmt"
)

// Property describes one field of a tool's input schema.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
}

// InputSchema is the JSON schema for a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Tool is an executable capability offered to the model. Exec receives
// decoded JSON arguments and returns a JSON-serialisable result.
type Tool interface {
	Definition() Definition
	Exec(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ValidateArgs checks args against the schema: every required field must be
// present and every present field must match its declared type. Unknown
// fields pass through untouched.
func ValidateArgs(schema InputSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		if err := checkType(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, prop Property, value any) error {
	if value == nil {
		return nil
	}
	switch prop.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %q: expected string, got %T", name, value)
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("argument %q: expected number, got %T", name, value)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("argument %q: expected integer, got %v", name, v)
			}
		default:
			return fmt.Errorf("argument %q: expected integer, got %T", name, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q: expected boolean, got %T", name, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("argument %q: expected array, got %T", name, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("argument %q: expected object, got %T", name, value)
		}
	case "":
		// No declared type accepts anything.
	default:
		return fmt.Errorf("argument %q: unknown schema type %q", name, prop.Type)
	}
	return nil
}
