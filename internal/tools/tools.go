// Package tools defines the server-side tools the model can call.
package tools

import (
	"context"
	"fmt"
	"sort"

	"google.golang.org/genai"
)

// Handler executes a tool. args have already passed schema validation.
// The result map is serialized into the function response fed back to
// the model. Handlers must not touch conversation state.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is a callable tool with its model-facing declaration.
type Tool struct {
	Name        string
	Description string
	Parameters  *genai.Schema
	Handler     Handler
}

// CatalogEntry is the wire-facing tool description served by the
// functions endpoint.
type CatalogEntry struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  *genai.Schema `json:"parameters"`
}

// Registry holds the available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates a registry with all built-in tools registered.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.Register(weatherTool())
	r.Register(calculatorTool())
	r.Register(clockTool())
	r.Register(currencyTool())
	return r
}

// Register adds a tool. Registering a name twice replaces the earlier tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// List returns all tools sorted by name, for stable advertising order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Declarations returns the function declarations passed to the model.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	list := r.List()
	out := make([]*genai.FunctionDeclaration, 0, len(list))
	for _, t := range list {
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// Catalog returns the wire-facing tool descriptions.
func (r *Registry) Catalog() []CatalogEntry {
	list := r.List()
	out := make([]CatalogEntry, 0, len(list))
	for _, t := range list {
		out = append(out, CatalogEntry{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// Execute validates args against the tool's schema and runs its handler.
// Any returned error is a *ToolError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	tool := r.tools[name]
	if tool == nil {
		return nil, &ToolError{
			Kind: KindUnknownTool,
			Tool: name,
			Err:  fmt.Errorf("not registered (available: %v)", r.names()),
		}
	}

	if err := validateArgs(tool.Parameters, args); err != nil {
		return nil, &ToolError{Kind: KindInvalidArguments, Tool: name, Err: err}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return nil, &ToolError{Kind: KindExecutionFailure, Tool: name, Err: err}
	}
	return result, nil
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateArgs checks required keys and basic value kinds against a
// genai schema. Deep validation is left to the handlers.
func validateArgs(schema *genai.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required argument %q", key)
		}
	}
	for key, val := range args {
		prop, ok := schema.Properties[key]
		if !ok {
			return fmt.Errorf("unexpected argument %q", key)
		}
		if val == nil {
			continue
		}
		if err := checkKind(prop.Type, val); err != nil {
			return fmt.Errorf("argument %q: %w", key, err)
		}
	}
	return nil
}

func checkKind(t genai.Type, val any) error {
	switch t {
	case genai.TypeString:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
	case genai.TypeNumber, genai.TypeInteger:
		switch val.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("expected number, got %T", val)
		}
	case genai.TypeBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", val)
		}
	}
	return nil
}
