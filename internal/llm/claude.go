package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/mkessel/loremaster/internal/logging"
)

const (
	claudeDefaultBaseURL = "https://api.anthropic.com/v1"
	claudeAPIVersion     = "2023-06-01"
	claudeMaxTokens      = 4096
)

// ClaudeProvider speaks the Anthropic messages API: system prompt as a
// top-level field, tool results delivered as user-role tool_result
// content blocks, and content_block_* streaming events.
type ClaudeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// NewClaudeProvider creates an Anthropic adapter.
func NewClaudeProvider(apiKey, baseURL string, timeout time.Duration, log *logging.Logger) *ClaudeProvider {
	if baseURL == "" {
		baseURL = claudeDefaultBaseURL
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &ClaudeProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Sub("llm.claude"),
	}
}

// Name returns the provider name.
func (p *ClaudeProvider) Name() string { return "claude" }

// Chat sends a blocking messages request.
func (p *ClaudeProvider) Chat(ctx context.Context, req Request) (*Result, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, providerErr(p.Name(), "encoding request: "+err.Error(), err)
	}

	resp, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerErr(p.Name(), "reading response: "+err.Error(), err)
	}

	var parsed claudeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProviderError{
			Provider:     p.Name(),
			Message:      "malformed response",
			ResponseBody: string(raw),
			Err:          err,
		}
	}

	result := &Result{}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, providerErr(p.Name(), "parsing tool input: "+err.Error(), err)
				}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return result, nil
}

// ChatStream sends a streaming messages request.
func (p *ClaudeProvider) ChatStream(ctx context.Context, req Request) (<-chan Event, error) {
	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, providerErr(p.Name(), "encoding request: "+err.Error(), err)
	}

	resp, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go p.decodeStream(resp.Body, events)
	return events, nil
}

func (p *ClaudeProvider) decodeStream(body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	events <- Event{Type: EventStart}

	var content bytes.Buffer
	var calls []ToolCall
	// Input JSON for the tool_use block currently open, keyed off the
	// most recent content_block_start.
	var openTool *ToolCall
	var openInput bytes.Buffer
	apiErr := ""

	sc := newSSEScanner(body)
	for {
		data, ok := sc.Next()
		if !ok {
			break
		}

		var ev claudeStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				openTool = &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
				openInput.Reset()
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				content.WriteString(ev.Delta.Text)
				events <- Event{Type: EventContent, Content: ev.Delta.Text}
			case "input_json_delta":
				openInput.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if openTool != nil {
				args := map[string]any{}
				if openInput.Len() > 0 {
					if err := json.Unmarshal(openInput.Bytes(), &args); err != nil {
						events <- Event{Type: EventError, Err: providerErr(p.Name(), "parsing tool input: "+err.Error(), err)}
						return
					}
				}
				openTool.Arguments = args
				calls = append(calls, *openTool)
				openTool = nil
			}
		case "error":
			apiErr = ev.Error.Message
		}
	}

	if err := sc.Err(); err != nil {
		events <- Event{Type: EventError, Err: providerErr(p.Name(), "reading stream: "+err.Error(), err)}
		return
	}
	if apiErr != "" {
		events <- Event{Type: EventError, Err: providerErr(p.Name(), apiErr, nil)}
		return
	}

	events <- Event{Type: EventComplete, Result: &Result{
		Content:   content.String(),
		ToolCalls: calls,
	}}
}

func (p *ClaudeProvider) send(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, providerErr(p.Name(), "creating request: "+err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providerErr(p.Name(), "request failed: "+err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, providerAPIErr(p.Name(), resp.StatusCode, string(raw))
	}
	return resp, nil
}

// buildBody renders the unified request into Anthropic's wire format.
// Tool-role messages become user messages carrying a tool_result
// block; assistant tool calls become tool_use blocks.
func (p *ClaudeProvider) buildBody(req Request, stream bool) ([]byte, error) {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch {
		case m.Role == RoleTool:
			messages = append(messages, map[string]any{
				"role": RoleUser,
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				}},
			})
		case len(m.ToolCalls) > 0:
			blocks := []map[string]any{}
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": tc.Arguments,
				})
			}
			messages = append(messages, map[string]any{"role": m.Role, "content": blocks})
		case len(m.Images) > 0:
			blocks := []map[string]any{}
			for _, img := range m.Images {
				blocks = append(blocks, map[string]any{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": img.ContentType,
						"data":       base64.StdEncoding.EncodeToString(img.Data),
					},
				})
			}
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			messages = append(messages, map[string]any{"role": m.Role, "content": blocks})
		default:
			messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = claudeMaxTokens
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if stream {
		body["stream"] = true
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = tools
	}

	return json.Marshal(body)
}

// Native response structures.

type claudeResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type claudeStreamEvent struct {
	Type         string `json:"type"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
