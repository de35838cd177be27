package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

var toolSchemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// ObjectSchema is the subset of JSON Schema that tool parameters use.
type ObjectSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// NewToolSpecFromStruct creates a ToolSpec whose schema is reflected from a Go struct.
func NewToolSpecFromStruct(name, description string, schemaStruct any) (ToolSpec, error) {
	schema, err := SchemaFromStruct(schemaStruct)
	if err != nil {
		return ToolSpec{}, err
	}
	return ToolSpec{Name: name, Description: description, Schema: schema}, nil
}

// MustToolSpecFromStruct is NewToolSpecFromStruct for package-level tool tables.
func MustToolSpecFromStruct(name, description string, schemaStruct any) ToolSpec {
	spec, err := NewToolSpecFromStruct(name, description, schemaStruct)
	if err != nil {
		panic(fmt.Sprintf("tool %s: %v", name, err))
	}
	return spec
}

// SchemaFromStruct reflects schemaStruct and re-encodes it as an ObjectSchema,
// dropping the $schema and additionalProperties noise the reflector adds.
func SchemaFromStruct(schemaStruct any) (json.RawMessage, error) {
	t := reflect.TypeOf(schemaStruct)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: tool schema source must be a struct, got %T", ErrInvalidRequest, schemaStruct)
	}

	raw, err := json.Marshal(toolSchemaReflector.Reflect(reflect.New(t).Interface()))
	if err != nil {
		return nil, fmt.Errorf("marshal reflected tool schema: %w", err)
	}
	schema, err := ParseToolSchema(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(schema)
}

// ParseToolSchema decodes a tool's parameter schema. The schema must be a
// JSON object of type "object"; properties may be omitted.
func ParseToolSchema(raw json.RawMessage) (ObjectSchema, error) {
	var schema ObjectSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return ObjectSchema{}, fmt.Errorf("%w: tool schema: %v", ErrInvalidRequest, err)
	}
	if schema.Type != "object" {
		return ObjectSchema{}, fmt.Errorf("%w: tool schema type is %q, want object", ErrInvalidRequest, schema.Type)
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}
	return schema, nil
}

// DecodeJSONObject decodes tool call arguments. Blank input is an empty object
// since argument-less tools are called with nothing.
func DecodeJSONObject(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	obj := map[string]any{}
	if len(trimmed) == 0 {
		return obj, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid tool input json", ErrInvalidRequest)
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("decode tool input: %w", err)
	}
	return obj, nil
}
