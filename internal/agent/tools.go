// Package agent implements the conversation controller: the tool
// registry, the per-turn state machine, and prompt assembly.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mkessel/loremaster/internal/llm"
)

// Tool is a capability the model can invoke during a conversation.
// Execute never returns an error: tool failures are data, reported as
// {"success": false, "error": ...} result objects so a failed tool
// never aborts the turn.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// Parameters returns the JSON Schema for the tool's arguments.
	Parameters() map[string]any

	// Execute runs the tool against the parsed argument object.
	Execute(ctx context.Context, args map[string]any) map[string]any
}

// Registry holds the available tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the wire tool list in registration order. The
// same slice contents are sent on every model call of a turn.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Dispatch executes a named tool. Unknown names and panics become
// structured error results. The returned map is always non-nil.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (result map[string]any) {
	t, ok := r.tools[name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Unknown tool: %s", name)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = map[string]any{"success": false, "error": fmt.Sprint(rec)}
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	result = t.Execute(ctx, args)
	if result == nil {
		result = map[string]any{"success": false, "error": "tool returned no result"}
	}
	return result
}

// Argument accessors. Provider JSON decodes numbers as float64; these
// helpers normalize the shapes tools care about.

func intArg(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func strArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func mapArg(args map[string]any, key string) (map[string]any, bool) {
	m, ok := args[key].(map[string]any)
	return m, ok
}

// decodeAs re-marshals a loosely typed argument value into a concrete
// struct or slice type.
func decodeAs(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
