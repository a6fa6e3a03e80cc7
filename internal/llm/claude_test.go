package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeChatWireFormat(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, claudeAPIVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"content":[{"type":"text","text":"greetings"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	p := NewClaudeProvider("test-key", srv.URL, time.Second, testLogger())
	result, err := p.Chat(context.Background(), Request{
		Model:  "claude-haiku-4-5",
		System: "You are a game master.",
		Messages: []Message{
			{Role: RoleUser, Content: "hello"},
		},
		Tools: []ToolDefinition{{
			Name:        "roll_dice",
			Description: "Roll dice",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "greetings", result.Content)

	// System rides as a top-level field, never in the message array.
	assert.Equal(t, "You are a game master.", captured["system"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 1)

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "roll_dice", tool["name"])
	assert.NotNil(t, tool["input_schema"])
	assert.NotNil(t, captured["max_tokens"])
}

func TestClaudeToolResultBecomesUserBlock(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"content":[{"type":"text","text":"done"}]}`))
	}))
	defer srv.Close()

	p := NewClaudeProvider("k", srv.URL, time.Second, testLogger())
	_, err := p.Chat(context.Background(), Request{
		Model: "claude-haiku-4-5",
		Messages: []Message{
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "toolu_1", Name: "roll_dice", Arguments: map[string]any{"dice_notation": "1d20"}},
			}},
			{Role: RoleTool, ToolCallID: "toolu_1", Content: `{"success":true,"total":14}`},
		},
	})
	require.NoError(t, err)

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)

	asst := msgs[0].(map[string]any)
	blocks := asst["content"].([]any)
	require.Len(t, blocks, 1)
	use := blocks[0].(map[string]any)
	assert.Equal(t, "tool_use", use["type"])
	assert.Equal(t, "toolu_1", use["id"])
	assert.Equal(t, "1d20", use["input"].(map[string]any)["dice_notation"])

	toolMsg := msgs[1].(map[string]any)
	assert.Equal(t, "user", toolMsg["role"])
	result := toolMsg["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "toolu_1", result["tool_use_id"])
}

func TestClaudeImageEncoding(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"content":[{"type":"text","text":"a map"}]}`))
	}))
	defer srv.Close()

	p := NewClaudeProvider("k", srv.URL, time.Second, testLogger())
	_, err := p.Chat(context.Background(), Request{
		Model: "claude-haiku-4-5",
		Messages: []Message{{
			Role:    RoleUser,
			Content: "what is this?",
			Images:  []Image{{ContentType: "image/png", Data: []byte{1, 2, 3}}},
		}},
	})
	require.NoError(t, err)

	msgs := captured["messages"].([]any)
	blocks := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2)
	img := blocks[0].(map[string]any)
	assert.Equal(t, "image", img["type"])
	src := img["source"].(map[string]any)
	assert.Equal(t, "base64", src["type"])
	assert.Equal(t, "image/png", src["media_type"])
	assert.Equal(t, "AQID", src["data"])
}

func TestClaudeChatParsesToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[
			{"type":"text","text":"Rolling."},
			{"type":"tool_use","id":"toolu_1","name":"roll_dice","input":{"dice_notation":"2d6"}}
		],"stop_reason":"tool_use"}`))
	}))
	defer srv.Close()

	p := NewClaudeProvider("k", srv.URL, time.Second, testLogger())
	result, err := p.Chat(context.Background(), Request{Model: "claude-haiku-4-5"})
	require.NoError(t, err)
	assert.Equal(t, "Rolling.", result.Content)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "toolu_1", result.ToolCalls[0].ID)
	assert.Equal(t, "2d6", result.ToolCalls[0].Arguments["dice_notation"])
}

func TestClaudeChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"message_start"}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_start","content_block":{"type":"text"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_stop"}`+"\n\n")
		io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer srv.Close()

	p := NewClaudeProvider("k", srv.URL, time.Second, testLogger())
	events, err := p.ChatStream(context.Background(), Request{Model: "claude-haiku-4-5"})
	require.NoError(t, err)

	var types []string
	var final *Result
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == EventComplete {
			final = ev.Result
		}
	}
	assert.Equal(t, []string{EventStart, EventContent, EventContent, EventComplete}, types)
	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Content)
}

func TestClaudeStreamAssemblesToolInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"content_block_start","content_block":{"type":"tool_use","id":"toolu_1","name":"roll_dice"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"dice_not"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"ation\":\"2d6\"}"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_stop"}`+"\n\n")
		io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer srv.Close()

	p := NewClaudeProvider("k", srv.URL, time.Second, testLogger())
	events, err := p.ChatStream(context.Background(), Request{Model: "claude-haiku-4-5"})
	require.NoError(t, err)

	var final *Result
	for ev := range events {
		if ev.Type == EventComplete {
			final = ev.Result
		}
		require.NotEqual(t, EventError, ev.Type)
	}
	require.NotNil(t, final)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "toolu_1", final.ToolCalls[0].ID)
	assert.Equal(t, "roll_dice", final.ToolCalls[0].Name)
	assert.Equal(t, "2d6", final.ToolCalls[0].Arguments["dice_notation"])
}

func TestClaudeStreamErrorEventIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`+"\n\n")
	}))
	defer srv.Close()

	p := NewClaudeProvider("k", srv.URL, time.Second, testLogger())
	events, err := p.ChatStream(context.Background(), Request{Model: "claude-haiku-4-5"})
	require.NoError(t, err)

	var failure error
	for ev := range events {
		if ev.Type == EventError {
			failure = ev.Err
		}
	}
	require.Error(t, failure)
	var perr *ProviderError
	require.ErrorAs(t, failure, &perr)
	assert.Equal(t, "claude", perr.Provider)
	assert.Contains(t, perr.Message, "Overloaded")
}

func TestClaudeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer srv.Close()

	p := NewClaudeProvider("k", srv.URL, time.Second, testLogger())
	_, err := p.Chat(context.Background(), Request{Model: "claude-haiku-4-5"})
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "claude", perr.Provider)
	assert.Contains(t, perr.ResponseBody, "bad request")
}
