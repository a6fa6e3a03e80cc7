package domain

// Stream event types, in the order a turn emits them. job_complete and
// error are terminal; everything between start and the terminal event
// arrives in strict causal order.
const (
	EventStart             = "start"
	EventUserMessage       = "user_message"
	EventAssistantStart    = "assistant_start"
	EventContent           = "content"
	EventToolCallsStart    = "tool_calls_start"
	EventToolCall          = "tool_call"
	EventToolResult        = "tool_result"
	EventToolCallsComplete = "tool_calls_complete"
	EventJobComplete       = "job_complete"
	EventError             = "error"
)

// StreamEvent is one envelope on the real-time channel, discriminated
// by Type. Only the fields relevant to the type are populated.
type StreamEvent struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	Count     int            `json:"count,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	History   []Message      `json:"conversation_history,omitempty"`
	Plan      []PlanItem     `json:"plan,omitempty"`
	Error     string         `json:"error,omitempty"`
	Backtrace []string       `json:"backtrace,omitempty"`
}
