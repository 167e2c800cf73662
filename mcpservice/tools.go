package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/invopop/jsonschema"
)

// ToolRequest carries a decoded tool call. It is generic over the typed
// argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	allowAdditionalProperties bool
}

// WithToolTitle sets the human-readable title shown by clients.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
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

// NewTool builds a StaticTool from a typed argument struct A:
//   - the input schema is reflected from A with invopop/jsonschema, honouring
//     `json` and `jsonschema` struct tags;
//   - each call decodes the arguments into A, rejecting unknown fields unless
//     allowed, and checks that required members are present;
//   - fn composes its result through a ToolResponseWriter.
//
// Decode failures surface as *InvalidArgumentsError. An error returned by fn
// is reported by the adapter as a handler failure; to hand the model a
// tool-level error instead, call w.SetError(true) and return nil.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	input := reflectToMCPInputSchema[A](cfg.allowAdditionalProperties)
	desc := mcp.Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: input,
	}

	handler := ToolHandlerFunc(func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
		a, err := decodeArguments[A](raw, input.Required, cfg.allowAdditionalProperties)
		if err != nil {
			return nil, err
		}
		w := newToolResponseWriter(ctx)
		if err := fn(ctx, w, &ToolRequest[A]{name: name, raw: raw, args: a}); err != nil {
			return nil, err
		}
		return w.Result(), nil
	})

	return StaticTool{Descriptor: desc, Handler: handler}
}

func decodeArguments[A any](raw json.RawMessage, required []string, allowAdditional bool) (A, error) {
	var a A
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return a, &InvalidArgumentsError{Err: fmt.Errorf("arguments must be a JSON object")}
	}

	if len(required) > 0 {
		var present map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &present); err != nil {
			return a, &InvalidArgumentsError{Err: err}
		}
		for _, k := range required {
			if _, ok := present[k]; !ok {
				return a, &InvalidArgumentsError{Err: fmt.Errorf("missing required argument %q", k)}
			}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if !allowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&a); err != nil {
		return a, &InvalidArgumentsError{Err: err}
	}
	return a, nil
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map onto a tool input schema.
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
		Default:     normalizeNumber(s.Default),
		Minimum:     numberPtr(s.Minimum),
		Maximum:     numberPtr(s.Maximum),
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

func numberPtr(n json.Number) *float64 {
	if n == "" {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}
