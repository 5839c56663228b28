// Package toolset holds the gateway's callable tools: typed argument
// structs reflected into MCP input schemas, strict argument decoding, and
// name-based dispatch.
package toolset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/gatewaykit/ghgateway/mcp"
)

// Handler executes one tool invocation against its raw JSON arguments.
type Handler func(ctx context.Context, rawArgs json.RawMessage) (*mcp.CallToolResult, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// ErrToolNotFound is returned by Call for an unknown tool name.
type ErrToolNotFound struct {
	Name string
}

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Errorf builds a tool-level error result. Tool failures (bad arguments,
// upstream rejections) travel inside a successful JSON-RPC response; only
// transport problems become protocol errors.
func Errorf(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.ContentBlock{mcp.TextContent(fmt.Sprintf(format, args...))},
	}
}

// JSONResult marshals v into a single text content block.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(string(b))}}, nil
}

// New constructs a Tool from a typed argument struct A. The schema is
// reflected from A's fields and tags; unknown argument fields are rejected
// at decode time.
func New[A any](name, description string, fn func(ctx context.Context, args A) (*mcp.CallToolResult, error)) Tool {
	desc := mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: reflectInputSchema[A](),
	}

	handler := func(ctx context.Context, rawArgs json.RawMessage) (*mcp.CallToolResult, error) {
		var a A
		if len(rawArgs) > 0 {
			dec := json.NewDecoder(bytes.NewReader(rawArgs))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		return fn(ctx, a)
	}

	return Tool{Descriptor: desc, Handler: handler}
}

// Registry is a threadsafe, ordered collection of tools.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry constructs a Registry holding the given tools in order.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, exists := r.tools[t.Descriptor.Name]; !exists {
			r.order = append(r.order, t.Descriptor.Name)
		}
		r.tools[t.Descriptor.Name] = t
	}
	return r
}

// List returns the tool descriptors in registration order.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor)
	}
	return out
}

// Call dispatches an invocation by name.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrToolNotFound{Name: name}
	}
	return t.Handler(ctx, rawArgs)
}

// reflectInputSchema reflects a Go struct into the simplified MCP input
// schema shape, inlining definitions so nothing references a $defs table.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{Type: s.Type, Description: s.Description}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
