// Package llm normalizes two incompatible chat-completion APIs
// (OpenAI-style and Claude-style) behind one provider interface and a
// model-routing façade. All provider payloads are decoded into the
// typed shapes here at the adapter boundary; nothing above this
// package touches provider wire formats.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stream event types.
const (
	EventStart    = "start"
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
)

// Image is an inline image attachment on a message. Each adapter
// encodes it into its own wire representation.
type Image struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// Message is a single conversation turn in the unified format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Images     []Image    `json:"images,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments are
// always parsed JSON by the time they leave an adapter.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a callable tool in the unified format.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the input to a Chat or ChatStream call.
type Request struct {
	Model     string           `json:"model,omitempty"`
	System    string           `json:"system,omitempty"`
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"maxTokens,omitempty"`
}

// Result is a completed model response in the unified format.
type Result struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Event is one chunk of a streaming completion. Err carries the typed
// failure (a *ProviderError for upstream faults) so consumers keep the
// full diagnostics that a blocking Chat call would return.
type Event struct {
	Type    string  `json:"type"`
	Content string  `json:"content,omitempty"` // text delta (type="content")
	Err     error   `json:"-"`                 // failure (type="error")
	Result  *Result `json:"result,omitempty"`  // final result (type="complete")
}

// Provider is the interface both upstream adapters implement.
type Provider interface {
	// Chat sends a blocking request and returns the full response.
	Chat(ctx context.Context, req Request) (*Result, error)

	// ChatStream sends a streaming request and returns a channel of
	// events: start, content deltas, then exactly one complete or
	// error. The channel is closed after the terminal event.
	ChatStream(ctx context.Context, req Request) (<-chan Event, error)

	// Name returns the provider name ("openai" or "claude").
	Name() string
}
