package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler is the signature of a function-backed tool implementation.
type Handler func(ctx context.Context, args map[string]any, tc *Context) (any, error)

// Func adapts a plain Go function into a Tool. Arguments are validated
// against the declared JSON schema before the handler runs.
type Func struct {
	name        string
	description string
	inputSchema map[string]any
	compiled    *jsonschema.Schema
	handler     Handler
}

// NewFunc builds a function-backed tool. The input schema may be nil, in
// which case arguments are passed to the handler unvalidated. An invalid
// schema is rejected at construction time.
func NewFunc(name, description string, inputSchema map[string]any, handler Handler) (*Func, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %q: handler is required", name)
	}

	f := &Func{
		name:        name,
		description: description,
		inputSchema: inputSchema,
		handler:     handler,
	}

	if inputSchema != nil {
		sch, err := compileSchema(inputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		f.compiled = sch
	}
	return f, nil
}

// MustFunc is NewFunc that panics on error, for static tool tables.
func MustFunc(name, description string, inputSchema map[string]any, handler Handler) *Func {
	f, err := NewFunc(name, description, inputSchema, handler)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Func) Name() string { return f.name }

func (f *Func) Descriptor(registeredName string) *mcp.Tool {
	schema := f.inputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return &mcp.Tool{
		Name:        registeredName,
		Description: f.description,
		InputSchema: schema,
	}
}

func (f *Func) Run(ctx context.Context, args map[string]any, tc *Context) (any, error) {
	if f.compiled != nil {
		if err := f.validate(args); err != nil {
			return nil, err
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return f.handler(ctx, args, tc)
}

// validate round-trips the arguments through JSON so that typed Go values
// (int, struct-ish maps) are checked exactly as a wire payload would be.
func (f *Func) validate(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: arguments are not JSON-encodable: %v", ErrInvalidArguments, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := f.compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("schema marshal error: %w", err)
	}
	var schemaObj any
	if err := json.Unmarshal(raw, &schemaObj); err != nil {
		return nil, fmt.Errorf("schema unmarshal error: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	return sch, nil
}
