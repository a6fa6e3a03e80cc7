package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/mkessel/loremaster/internal/logging"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI chat-completions API: flat message
// list with an inline system role, tool_calls/tool_call_id fields, and
// SSE streaming with incrementally streamed tool-call arguments.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// NewOpenAIProvider creates an OpenAI adapter. baseURL overrides the
// public endpoint (tests point it at an httptest server).
func NewOpenAIProvider(apiKey, baseURL string, timeout time.Duration, log *logging.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Sub("llm.openai"),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

// Chat sends a blocking completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (*Result, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, providerErr(p.Name(), "encoding request: "+err.Error(), err)
	}

	respBody, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ProviderError{
			Provider:     p.Name(),
			Message:      "malformed response",
			ResponseBody: string(respBody),
			Err:          err,
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{
			Provider:     p.Name(),
			Message:      "response contained no choices",
			ResponseBody: string(respBody),
		}
	}

	return p.toResult(parsed.Choices[0].Message)
}

// ChatStream sends a streaming completion request. Tool-call argument
// fragments are buffered per stream index and JSON-parsed only once the
// stream finishes.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req Request) (<-chan Event, error) {
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

func (p *OpenAIProvider) decodeStream(body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	events <- Event{Type: EventStart}

	var content bytes.Buffer
	partials := map[int]*toolCallFragment{}

	sc := newSSEScanner(body)
	for {
		data, ok := sc.Next()
		if !ok {
			break
		}
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // partial frame
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			events <- Event{Type: EventContent, Content: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			frag, ok := partials[tc.Index]
			if !ok || tc.ID != "" {
				frag = &toolCallFragment{id: tc.ID, name: tc.Function.Name}
				partials[tc.Index] = frag
			}
			frag.arguments.WriteString(tc.Function.Arguments)
		}
	}

	if err := sc.Err(); err != nil {
		events <- Event{Type: EventError, Err: providerErr(p.Name(), "reading stream: "+err.Error(), err)}
		return
	}

	result := &Result{Content: content.String()}
	calls, err := assembleFragments(partials)
	if err != nil {
		events <- Event{Type: EventError, Err: providerErr(p.Name(), "parsing tool arguments: "+err.Error(), err)}
		return
	}
	result.ToolCalls = calls

	events <- Event{Type: EventComplete, Result: result}
}

type toolCallFragment struct {
	id        string
	name      string
	arguments bytes.Buffer
}

// assembleFragments parses buffered tool-call argument fragments in
// stream-index order.
func assembleFragments(partials map[int]*toolCallFragment) ([]ToolCall, error) {
	if len(partials) == 0 {
		return nil, nil
	}

	indexes := make([]int, 0, len(partials))
	for i := range partials {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(partials))
	for _, i := range indexes {
		frag := partials[i]
		args := map[string]any{}
		raw := frag.arguments.String()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: parsing streamed arguments: %w", frag.name, err)
			}
		}
		calls = append(calls, ToolCall{ID: frag.id, Name: frag.name, Arguments: args})
	}
	return calls, nil
}

func (p *OpenAIProvider) post(ctx context.Context, body []byte) ([]byte, error) {
	resp, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerErr(p.Name(), "reading response: "+err.Error(), err)
	}
	return data, nil
}

func (p *OpenAIProvider) send(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providerErr(p.Name(), "creating request: "+err.Error(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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

// buildBody renders the unified request into OpenAI's wire format.
// The system message rides in the message array; tool-role messages
// keep their role and tool_call_id; assistant tool calls become
// function entries with string-encoded arguments.
func (p *OpenAIProvider) buildBody(req Request, stream bool) ([]byte, error) {
	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": RoleSystem, "content": req.System})
	}

	for _, m := range req.Messages {
		entry := map[string]any{"role": m.Role}

		if len(m.Images) > 0 {
			blocks := []map[string]any{}
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, img := range m.Images {
				blocks = append(blocks, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": fmt.Sprintf("data:%s;base64,%s",
							img.ContentType, base64.StdEncoding.EncodeToString(img.Data)),
					},
				})
			}
			entry["content"] = blocks
		} else {
			entry["content"] = m.Content
		}

		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, err
				}
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(args),
					},
				})
			}
			entry["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}

		messages = append(messages, entry)
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if stream {
		body["stream"] = true
	}
	if req.MaxTokens > 0 {
		body["max_completion_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	return json.Marshal(body)
}

// toResult converts a native response message into the unified shape,
// parsing the string-encoded tool arguments.
func (p *OpenAIProvider) toResult(msg openAIMessage) (*Result, error) {
	result := &Result{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, providerErr(p.Name(),
					fmt.Sprintf("tool call %s: parsing arguments: %v", tc.Function.Name, err), err)
			}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

// Native response structures.

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

type openAIMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
