package domain

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a game agent's conversation history.
// Tool-role messages carry the ToolCallID of the assistant tool call
// they answer; assistant messages that request tools carry ToolCalls.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitzero"`
}

// ToolCall is a tool invocation requested by the assistant.
// Arguments are parsed JSON, never a raw string: provider payloads are
// decoded into this shape at the adapter boundary.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// PlanItem is one entry in the agent's task checklist.
type PlanItem struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// AgentState is the per-game agent aggregate: model selection,
// conversation history, and the current plan. History and plan are
// cleared together.
type AgentState struct {
	GameID    int64      `json:"gameId"`
	Model     string     `json:"model"`
	History   []Message  `json:"conversationHistory"`
	Plan      []PlanItem `json:"plan"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
