package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/powerapps-dev/dataverse-mcp/mcp"
)

var (
	// ErrToolNotFound is returned (wrapped with the tool name) when a call names
	// a tool that was never registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool is returned by NewToolsContainer when two tools share a name.
	ErrDuplicateTool = errors.New("duplicate tool name")
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input and request metadata.
// It is generic over the typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
	now                       func() time.Time
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// WithToolClock sets the time source used to stamp argument failures.
// Defaults to time.Now.
func WithToolClock(now func() time.Time) ToolOption {
	return func(c *toolConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTool constructs a writer-based tool with typed input A. It:
//   - reflects a JSON Schema from A using invopop/jsonschema
//   - down-converts it to the simplified mcp.ToolInputSchema
//   - wraps fn with runtime decoding that enforces the schema's required keys
//     and, unless additional properties are allowed, rejects unknown fields
//
// Argument problems are reported to the caller as a FailureResult rather than
// a Go error, so they surface as tool failures with the usual JSON payload.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	input := reflectToMCPInputSchema[A](cfg.allowAdditionalProperties)
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: input,
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		a, err := decodeArguments[A](req.Arguments, input.Required, cfg.allowAdditionalProperties)
		if err != nil {
			return FailureResult(&ArgumentsError{Err: err}, cfg.now()), nil
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// ArgumentsError reports tool arguments that do not match the tool's input
// schema.
type ArgumentsError struct {
	Err error
}

func (e *ArgumentsError) Error() string     { return "invalid arguments: " + e.Err.Error() }
func (e *ArgumentsError) Unwrap() error     { return e.Err }
func (e *ArgumentsError) ErrorType() string { return "ArgumentsError" }

func decodeArguments[A any](raw json.RawMessage, required []string, allowAdditional bool) (A, error) {
	var a A
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if len(required) > 0 {
			return a, fmt.Errorf("missing required argument %q", required[0])
		}
		return a, nil
	}
	if len(required) > 0 {
		var present map[string]json.RawMessage
		if err := json.Unmarshal(raw, &present); err != nil {
			return a, err
		}
		for _, key := range required {
			if _, ok := present[key]; !ok {
				return a, fmt.Errorf("missing required argument %q", key)
			}
		}
	}
	if allowAdditional {
		if err := json.Unmarshal(raw, &a); err != nil {
			return a, err
		}
		return a, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return a, err
	}
	return a, nil
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	// Reflect from a zero value pointer to capture struct tags consistently
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to MCP ToolInputSchema. If not an object,
	// expose an empty object with the configured additionalProperties policy.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	// Arrays
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	// Objects
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns an immutable, ordered set of tool descriptors and
// handlers. It is built once at startup and satisfies ToolsCapability.
// Reads take no locks because nothing mutates the container after
// construction.
type ToolsContainer struct {
	tools    []mcp.Tool             // descriptors for listing, registration order
	handlers map[string]ToolHandler // name -> handler
}

var _ ToolsCapability = (*ToolsContainer)(nil)

// NewToolsContainer constructs a ToolsContainer with the given tool
// definitions. Empty names, missing handlers and duplicate names are rejected.
func NewToolsContainer(defs ...StaticTool) (*ToolsContainer, error) {
	st := &ToolsContainer{
		tools:    make([]mcp.Tool, 0, len(defs)),
		handlers: make(map[string]ToolHandler, len(defs)),
	}
	for _, d := range defs {
		name := d.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("tool at index %d: missing name", len(st.tools))
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("tool %q: missing handler", name)
		}
		if _, exists := st.handlers[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		st.tools = append(st.tools, d.Descriptor)
		st.handlers[name] = d.Handler
	}
	return st, nil
}

// Snapshot returns a copy of the tool descriptors in registration order.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// Len reports the number of registered tools.
func (st *ToolsContainer) Len() int { return len(st.tools) }

// ListTools implements ToolsCapability.
func (st *ToolsContainer) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return st.Snapshot(), nil
}

// CallTool implements ToolsCapability. Unknown names yield an error wrapping
// ErrToolNotFound; every other error comes from the tool itself.
func (st *ToolsContainer) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrToolNotFound)
	}
	h, ok := st.handlers[req.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, req)
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
