package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// toolDefinitionSchema is the shape every published tool definition must have.
const toolDefinitionSchema = `{
  "type": "object",
  "required": ["name", "inputSchema"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "inputSchema": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["object"]},
        "properties": {"type": "object"},
        "required": {"type": "array", "items": {"type": "string"}}
      }
    },
    "outputSchema": {"type": "object"}
  }
}`

var (
	toolDefinitionValidator = mustCompileSchema([]byte(toolDefinitionSchema))

	emptyObject = json.RawMessage(`{}`)
)

// ReflectSchema derives the JSON Schema published for v's Go type. Struct fields are
// required unless tagged omitempty; descriptions come from jsonschema struct tags. The
// "$schema" and "$id" meta-properties are stripped.
func ReflectSchema(v any) (schema json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			schema, err = nil, fmt.Errorf("failed to reflect schema of %T: %v", v, r)
		}
	}()

	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	bs, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema: %w", err)
	}
	return stripSchemaMeta(bs)
}

// stripSchemaMeta removes the top-level "$schema" and "$id" keys from a schema document.
func stripSchemaMeta(schema json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	return json.Marshal(doc)
}

// schemaValidator is a compiled JSON Schema.
type schemaValidator struct {
	schema *gojsonschema.Schema
}

func compileSchema(schema json.RawMessage) (*schemaValidator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &schemaValidator{schema: s}, nil
}

func mustCompileSchema(schema json.RawMessage) *schemaValidator {
	v, err := compileSchema(schema)
	if err != nil {
		panic(err)
	}
	return v
}

// validateArguments is validate for tool arguments, where absent or null arguments
// stand for an empty object.
func (v *schemaValidator) validateArguments(args json.RawMessage) ([]string, error) {
	if len(args) == 0 || string(args) == "null" {
		args = emptyObject
	}
	return v.validate(args)
}

// validate checks doc against the schema. The returned slice holds one
// "path: description" entry per violation and is empty when doc is valid.
func (v *schemaValidator) validate(doc json.RawMessage) ([]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to validate document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	var violations []string
	for _, e := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", fieldPath(e), e.Description()))
	}
	return violations, nil
}

// fieldPath names the location of a violation. Missing properties are reported at the
// property itself rather than at the object that lacks it.
func fieldPath(e gojsonschema.ResultError) string {
	field := e.Field()
	if e.Type() != "required" {
		return field
	}
	prop, ok := e.Details()["property"].(string)
	if !ok || prop == "" {
		return field
	}
	if field == "" || field == gojsonschema.STRING_CONTEXT_ROOT {
		return prop
	}
	return field + "." + prop
}

// validateDefinition reports why def is not a publishable tool definition.
func validateDefinition(def ToolDefinition) error {
	bs, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal tool definition %q: %w", def.Name, err)
	}
	violations, err := toolDefinitionValidator.validate(bs)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("invalid tool definition %q: %s", def.Name, strings.Join(violations, ", "))
	}
	return nil
}
