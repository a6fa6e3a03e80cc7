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

	"github.com/mkessel/loremaster/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

func TestOpenAIChatWireFormat(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL, time.Second, testLogger())
	result, err := p.Chat(context.Background(), Request{
		Model:  "gpt-5-nano",
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
	assert.Equal(t, "hi there", result.Content)

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "You are a game master.", first["content"])

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "roll_dice", fn["name"])
	assert.Equal(t, "auto", captured["tool_choice"])
}

func TestOpenAIChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"call_1","type":"function",
				"function":{"name":"roll_dice","arguments":"{\"dice_notation\":\"2d6\"}"}}]}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, time.Second, testLogger())
	result, err := p.Chat(context.Background(), Request{Model: "gpt-5-nano"})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "roll_dice", result.ToolCalls[0].Name)
	assert.Equal(t, "2d6", result.ToolCalls[0].Arguments["dice_notation"])
}

func TestOpenAIToolRoundTripEncoding(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"choices":[{"message":{"content":"done"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, time.Second, testLogger())
	_, err := p.Chat(context.Background(), Request{
		Model: "gpt-5-nano",
		Messages: []Message{
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "call_1", Name: "roll_dice", Arguments: map[string]any{"dice_notation": "1d20"}},
			}},
			{Role: RoleTool, ToolCallID: "call_1", Content: `{"success":true,"total":14}`},
		},
	})
	require.NoError(t, err)

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)

	asst := msgs[0].(map[string]any)
	calls := asst["tool_calls"].([]any)
	require.Len(t, calls, 1)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	// Arguments go over the wire as a JSON string, not an object.
	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(fn["arguments"].(string)), &args))
	assert.Equal(t, "1d20", args["dice_notation"])

	toolMsg := msgs[1].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
}

func TestOpenAIImageEncoding(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"choices":[{"message":{"content":"a map"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, time.Second, testLogger())
	_, err := p.Chat(context.Background(), Request{
		Model: "gpt-4o",
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
	img := blocks[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	url := img["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/png;base64,AQID", url)
}

func TestOpenAIChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, time.Second, testLogger())
	events, err := p.ChatStream(context.Background(), Request{Model: "gpt-5-nano"})
	require.NoError(t, err)

	var types []string
	var content string
	var final *Result
	for ev := range events {
		types = append(types, ev.Type)
		content += ev.Content
		if ev.Type == EventComplete {
			final = ev.Result
		}
	}
	assert.Equal(t, []string{EventStart, EventContent, EventContent, EventComplete}, types)
	assert.Equal(t, "Hello", content)
	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Content)
}

func TestOpenAIStreamAccumulatesToolCallFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"roll_dice","arguments":""}}]}}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"dice_not"}}]}}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ation\":\"2d6\"}"}}]}}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, time.Second, testLogger())
	events, err := p.ChatStream(context.Background(), Request{Model: "gpt-5-nano"})
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
	assert.Equal(t, "call_1", final.ToolCalls[0].ID)
	assert.Equal(t, "roll_dice", final.ToolCalls[0].Name)
	assert.Equal(t, "2d6", final.ToolCalls[0].Arguments["dice_notation"])
}

func TestOpenAIAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, time.Second, testLogger())
	_, err := p.Chat(context.Background(), Request{Model: "gpt-5-nano"})
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "openai", perr.Provider)
	assert.Contains(t, perr.Message, "429")
	assert.Contains(t, perr.ResponseBody, "rate limited")
	assert.Contains(t, perr.Detailed(), "rate limited")
}
