package protocol

import (
	"fmt"
	"strings"
)

// Schema is a minimal object schema for tool payloads: a set of named
// properties with optional JSON type constraints and a required list. It
// deliberately mirrors the shape LLM providers accept as tool parameters, so
// the same value is used both for the wire tool definition and for local
// validation of what the model sends back.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Property constrains one payload field. Type is a JSON type name (string,
// number, integer, boolean, object, array); empty means any.
type Property struct {
	Type        string
	Description string
}

// Definition renders the schema as the provider-facing parameters object.
func (s Schema) Definition() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
	}

	def := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		def["required"] = s.Required
	}
	return def
}

// Validate checks a decoded payload against the schema. Returns a single
// error summarizing every violation.
func (s Schema) Validate(payload map[string]any) error {
	var errs []string

	for _, req := range s.Required {
		if _, ok := payload[req]; !ok {
			errs = append(errs, fmt.Sprintf("missing required field %q", req))
		}
	}

	for name, p := range s.Properties {
		v, ok := payload[name]
		if !ok || p.Type == "" {
			continue
		}
		if !typeMatches(v, p.Type) {
			errs = append(errs, fmt.Sprintf("field %q: expected %s, got %T", name, p.Type, v))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("payload validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func typeMatches(v any, jsonType string) bool {
	if v == nil {
		return true // null is accepted for any declared type
	}
	switch jsonType {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		return isNumber(v)
	case "integer":
		switch n := v.(type) {
		case float64:
			return n == float64(int64(n))
		case int, int32, int64:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}
