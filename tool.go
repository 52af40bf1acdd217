package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Tool is a named computation published to clients together with the schemas of its
// input and output.
type Tool interface {
	// Definition returns the published description of the tool.
	Definition() ToolDefinition

	// Invoke runs the tool with the raw arguments sent by the client. Argument and output
	// validation failures are reported as a CallToolResult with IsError set; errors
	// returned by the tool's own handler are returned unchanged.
	Invoke(ctx context.Context, args json.RawMessage) (CallToolResult, error)
}

// ToolOption configures a Tool built by NewTool, NewContextTool or NewRawTool.
type ToolOption func(*schemaTool)

type schemaTool struct {
	def ToolDefinition

	input  *schemaValidator
	output *schemaValidator
	err    error

	handle func(ctx context.Context, args json.RawMessage) (any, error)
}

// WithOutputSchema declares the JSON Schema the tool's return value must satisfy. When set,
// the tool may return any JSON-encodable value.
func WithOutputSchema(schema json.RawMessage) ToolOption {
	return func(t *schemaTool) {
		stripped, err := stripSchemaMeta(schema)
		if err != nil {
			t.err = fmt.Errorf("invalid output schema: %w", err)
			return
		}
		t.def.OutputSchema = stripped
	}
}

// WithOutputType declares the output schema reflected from Out.
func WithOutputType[Out any]() ToolOption {
	return func(t *schemaTool) {
		schema, err := ReflectSchema(new(Out))
		if err != nil {
			t.err = fmt.Errorf("invalid output schema: %w", err)
			return
		}
		t.def.OutputSchema = schema
	}
}

// NewTool builds a Tool whose input schema is reflected from In. Arguments are validated
// against that schema and decoded into In before fn is called.
//
// Without an output schema fn must return a string (or nil). With one, the returned value
// is validated against it and published as indented JSON text.
func NewTool[In any](
	name, description string,
	fn func(ctx context.Context, in In) (any, error),
	options ...ToolOption,
) Tool {
	handle := func(ctx context.Context, args json.RawMessage) (any, error) {
		var in In
		if err := decodeArguments(args, &in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
	return newReflectedTool[In](name, description, handle, options...)
}

// NewContextTool is NewTool for handlers that also need the Invocation of the request
// that asked for the call, for example to read its headers.
func NewContextTool[In any](
	name, description string,
	fn func(ctx context.Context, in In, inv Invocation) (any, error),
	options ...ToolOption,
) Tool {
	handle := func(ctx context.Context, args json.RawMessage) (any, error) {
		var in In
		if err := decodeArguments(args, &in); err != nil {
			return nil, err
		}
		return fn(ctx, in, InvocationFromContext(ctx))
	}
	return newReflectedTool[In](name, description, handle, options...)
}

// newReflectedTool builds a tool whose input schema is reflected from In. A type that
// cannot be reflected yields a tool that fails validation, so registration skips it.
func newReflectedTool[In any](
	name, description string,
	handle func(ctx context.Context, args json.RawMessage) (any, error),
	options ...ToolOption,
) Tool {
	schema, err := ReflectSchema(new(In))
	if err != nil {
		return &schemaTool{
			def:    ToolDefinition{Name: name, Description: description},
			err:    fmt.Errorf("invalid input schema: %w", err),
			handle: handle,
		}
	}
	return newSchemaTool(name, description, schema, handle, options...)
}

// NewRawTool builds a Tool from an already-written input schema. The handler receives the
// validated arguments undecoded.
func NewRawTool(
	name, description string,
	inputSchema json.RawMessage,
	fn func(ctx context.Context, args json.RawMessage) (any, error),
	options ...ToolOption,
) Tool {
	stripped, err := stripSchemaMeta(inputSchema)
	if err != nil {
		return &schemaTool{
			def: ToolDefinition{
				Name:        name,
				Description: description,
				InputSchema: inputSchema,
			},
			err:    fmt.Errorf("invalid input schema: %w", err),
			handle: fn,
		}
	}
	return newSchemaTool(name, description, stripped, fn, options...)
}

func newSchemaTool(
	name, description string,
	inputSchema json.RawMessage,
	handle func(ctx context.Context, args json.RawMessage) (any, error),
	options ...ToolOption,
) Tool {
	t := &schemaTool{
		def: ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		handle: handle,
	}
	for _, opt := range options {
		opt(t)
	}
	if t.err != nil {
		return t
	}

	if t.input, t.err = compileSchema(t.def.InputSchema); t.err != nil {
		return t
	}
	if len(t.def.OutputSchema) > 0 {
		t.output, t.err = compileSchema(t.def.OutputSchema)
	}
	return t
}

func (t *schemaTool) Definition() ToolDefinition { return t.def }

// Validate reports whether the tool's schemas could be compiled.
func (t *schemaTool) Validate() error { return t.err }

func (t *schemaTool) Invoke(ctx context.Context, args json.RawMessage) (CallToolResult, error) {
	if t.err != nil {
		return errorResult(fmt.Sprintf("tool %s is misconfigured: %s", t.def.Name, t.err)), nil
	}

	violations, err := t.input.validateArguments(args)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid arguments for tool %s: %s", t.def.Name, err)), nil
	}
	if len(violations) > 0 {
		return errorResult(fmt.Sprintf("invalid arguments for tool %s: %s",
			t.def.Name, strings.Join(violations, ", "))), nil
	}

	out, err := t.handle(ctx, args)
	if err != nil {
		return CallToolResult{}, err
	}

	switch res := out.(type) {
	case CallToolResult:
		return res, nil
	case *CallToolResult:
		if res != nil {
			return *res, nil
		}
	}
	if isNil(out) {
		out = nil
	}

	if t.output == nil {
		if _, ok := out.(string); !ok && out != nil {
			return errorResult(fmt.Sprintf("invalid output from tool %s: returned %T without an output schema, "+
				"want string", t.def.Name, out)), nil
		}
		return formatOutput(out)
	}

	bs, err := json.Marshal(out)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid output from tool %s: %s", t.def.Name, err)), nil
	}
	violations, err = t.output.validate(bs)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid output from tool %s: %s", t.def.Name, err)), nil
	}
	if len(violations) > 0 {
		return errorResult(fmt.Sprintf("invalid output from tool %s: %s",
			t.def.Name, strings.Join(violations, ", "))), nil
	}
	return formatOutput(out)
}

func decodeArguments(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &ToolError{Kind: ErrorKindValidation, Err: fmt.Errorf("failed to decode arguments: %w", err)}
	}
	return nil
}

// formatOutput turns a tool's return value into protocol content: strings are published
// as-is, structured values as indented JSON and other scalars in their default format.
func formatOutput(v any) (CallToolResult, error) {
	var text string

	switch val := v.(type) {
	case nil:
	case string:
		text = val
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Indent(&buf, val, "", "  "); err != nil {
			return CallToolResult{}, fmt.Errorf("failed to format output: %w", err)
		}
		text = buf.String()
	default:
		if !isStructured(val) {
			text = fmt.Sprint(val)
			break
		}
		bs, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return CallToolResult{}, fmt.Errorf("failed to format output: %w", err)
		}
		text = string(bs)
	}

	return CallToolResult{Content: []Content{TextContent(text)}}, nil
}

// isNil reports whether v is nil or a nil pointer, map or slice, all of which encode
// as JSON null.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func isStructured(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	default:
		return false
	}
}

func errorResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{TextContent(text)},
		IsError: true,
	}
}
