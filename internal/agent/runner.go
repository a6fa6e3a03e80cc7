package agent

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/mkessel/loremaster/internal/dice"
	"github.com/mkessel/loremaster/internal/domain"
	"github.com/mkessel/loremaster/internal/llm"
	"github.com/mkessel/loremaster/internal/logging"
	"github.com/mkessel/loremaster/internal/store"
)

// ChatClient is the slice of the llm router the runner needs.
type ChatClient interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Result, error)
	ChatStream(ctx context.Context, req llm.Request) (<-chan llm.Event, error)
}

// EventFn receives the turn's stream events in causal order. A nil
// callback disables streaming; the turn then uses blocking model
// calls.
type EventFn func(domain.StreamEvent)

// slashRe matches a leading slash command in user input.
var slashRe = regexp.MustCompile(`^/(\w+)`)

// Runner orchestrates agent turns for all games.
type Runner struct {
	games  *store.GameStore
	notes  *store.NoteStore
	agents *store.AgentStore
	chat   ChatClient
	roller *dice.Roller
	log    *logging.Logger
}

// NewRunner creates a runner over the given stores and chat client.
func NewRunner(games *store.GameStore, notes *store.NoteStore, agents *store.AgentStore,
	chat ChatClient, roller *dice.Roller, log *logging.Logger) *Runner {
	if roller == nil {
		roller = dice.New(nil)
	}
	return &Runner{
		games:  games,
		notes:  notes,
		agents: agents,
		chat:   chat,
		roller: roller,
		log:    log.Sub("agent"),
	}
}

// Run executes one conversation turn for a game. contextNoteIDs are
// caller-selected notes injected into this turn's prompt; unresolvable
// IDs are silently dropped. The emit callback receives stream events
// and may be nil.
//
// Turn shape: a slash command short-circuits everything; otherwise the
// user message is appended, the model is called once with the full
// tool list, any requested tools run in order with their results
// appended as tool-role messages, and a second model call with the
// identical tool list produces the closing assistant message. Each
// append is durable before the next step runs.
func (r *Runner) Run(ctx context.Context, gameID int64, input string, contextNoteIDs []int64, emit EventFn) error {
	start := time.Now()
	log := r.log.Zerolog().With().Int64("game", gameID).Logger()

	// Slash-command interception. A known command handles the whole
	// turn; an unknown one falls through as ordinary text.
	if m := slashRe.FindStringSubmatch(strings.TrimSpace(input)); m != nil {
		handled, err := r.runSlashCommand(gameID, m[1], input, emit)
		if err != nil {
			return err
		}
		if handled {
			log.Info().Str("command", m[1]).Msg("slash command handled")
			return nil
		}
	}

	if err := r.agents.AppendMessage(gameID, domain.Message{Role: domain.RoleUser, Content: input}); err != nil {
		return err
	}
	send(emit, domain.StreamEvent{Type: domain.EventUserMessage, Content: input})

	system, images, err := r.buildPrompt(gameID, contextNoteIDs)
	if err != nil {
		return err
	}

	model, err := r.games.Model(gameID)
	if err != nil {
		return err
	}
	if model == "" {
		model = llm.DefaultModel
	}

	registry := NewGameRegistry(gameID, r.notes, r.agents, r.roller)
	tools := registry.Definitions()

	request := func() (llm.Request, error) {
		history, err := r.agents.History(gameID)
		if err != nil {
			return llm.Request{}, err
		}
		msgs := toLLMMessages(history)
		attachImages(msgs, images)
		return llm.Request{
			Model:    model,
			System:   system,
			Messages: msgs,
			Tools:    tools,
		}, nil
	}

	// First model call.
	req, err := request()
	if err != nil {
		return err
	}
	first, err := r.invoke(ctx, req, emit)
	if err != nil {
		return r.fail(emit, err)
	}

	if len(first.ToolCalls) == 0 {
		// Plain turn: user + assistant, nothing else.
		if err := r.agents.AppendMessage(gameID, domain.Message{
			Role: domain.RoleAssistant, Content: first.Content,
		}); err != nil {
			return err
		}
		log.Info().Str("model", model).Dur("duration", time.Since(start)).Msg("turn complete")
		return nil
	}

	// Tool branch.
	if err := r.agents.AppendMessage(gameID, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   first.Content,
		ToolCalls: fromLLMToolCalls(first.ToolCalls),
	}); err != nil {
		return err
	}

	send(emit, domain.StreamEvent{Type: domain.EventToolCallsStart, Count: len(first.ToolCalls)})
	for _, call := range first.ToolCalls {
		send(emit, domain.StreamEvent{Type: domain.EventToolCall, Name: call.Name, Arguments: call.Arguments})

		result := registry.Dispatch(ctx, call.Name, call.Arguments)
		send(emit, domain.StreamEvent{Type: domain.EventToolResult, Name: call.Name, Result: result})

		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if err := r.agents.AppendMessage(gameID, domain.Message{
			Role:       domain.RoleTool,
			Content:    string(payload),
			ToolCallID: call.ID,
		}); err != nil {
			return err
		}
	}
	send(emit, domain.StreamEvent{Type: domain.EventToolCallsComplete})

	// Final model call, same system prompt and tool list.
	req, err = request()
	if err != nil {
		return err
	}
	final, err := r.invoke(ctx, req, emit)
	if err != nil {
		return r.fail(emit, err)
	}

	if err := r.agents.AppendMessage(gameID, domain.Message{
		Role: domain.RoleAssistant, Content: final.Content,
	}); err != nil {
		return err
	}

	log.Info().Str("model", model).Int("toolCalls", len(first.ToolCalls)).
		Dur("duration", time.Since(start)).Msg("turn complete")
	return nil
}

// Clear wipes a game's conversation history and plan together.
func (r *Runner) Clear(gameID int64) error {
	return r.agents.Clear(gameID)
}

// invoke makes one model call, streaming when a callback is present.
func (r *Runner) invoke(ctx context.Context, req llm.Request, emit EventFn) (*llm.Result, error) {
	if emit == nil {
		return r.chat.Chat(ctx, req)
	}

	events, err := r.chat.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var result *llm.Result
	var content strings.Builder
	for ev := range events {
		switch ev.Type {
		case llm.EventStart:
			send(emit, domain.StreamEvent{Type: domain.EventAssistantStart})
		case llm.EventContent:
			content.WriteString(ev.Content)
			send(emit, domain.StreamEvent{Type: domain.EventContent, Content: ev.Content})
		case llm.EventComplete:
			result = ev.Result
		case llm.EventError:
			return nil, ev.Err
		}
	}
	if result == nil {
		// Stream closed without a terminal event; fall back to the
		// accumulated text.
		result = &llm.Result{Content: content.String()}
	}
	if result.Content == "" {
		result.Content = content.String()
	}
	return result, nil
}

// fail logs a model-call failure in full detail, relays it as an error
// event, and returns it to abort the turn.
func (r *Runner) fail(emit EventFn, err error) error {
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		r.log.Error().Str("provider", perr.Provider).Str("detail", perr.Detailed()).Msg("model call failed")
	} else {
		r.log.Error().Err(err).Msg("model call failed")
	}
	send(emit, domain.StreamEvent{Type: domain.EventError, Error: err.Error()})
	return err
}

// runSlashCommand executes a slash command. Returns handled=false for
// unknown commands so the input falls through to normal processing.
func (r *Runner) runSlashCommand(gameID int64, command, input string, emit EventFn) (bool, error) {
	switch command {
	case "clear":
		return true, r.Clear(gameID)
	case "roll":
		result := r.rollCommand(input)
		payload, err := json.Marshal(result)
		if err != nil {
			return true, err
		}
		if err := r.agents.AppendMessage(gameID, domain.Message{
			Role: domain.RoleAssistant, Content: string(payload),
		}); err != nil {
			return true, err
		}
		send(emit, domain.StreamEvent{Type: domain.EventContent, Content: string(payload)})
		return true, nil
	}
	return false, nil
}

// rollCommand handles "/roll 2d6+3" style input.
func (r *Runner) rollCommand(input string) map[string]any {
	notation := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "/roll"))
	if notation == "" {
		return map[string]any{
			"command": "roll",
			"success": false,
			"error":   "Please provide dice notation (e.g., /roll 1d20, /roll 2d6+3)",
		}
	}

	result, err := r.roller.RollNotation(notation)
	if err != nil {
		return map[string]any{"command": "roll", "success": false, "error": err.Error()}
	}

	out := map[string]any{"command": "roll"}
	for k, v := range result.Map() {
		out[k] = v
	}
	return out
}

// buildPrompt assembles the system prompt from the game's source
// documents, context notes, caller-selected notes, and current plan.
// Image attachments on the included notes are returned for the turn's
// chat messages, since neither provider accepts images in the system
// prompt.
func (r *Runner) buildPrompt(gameID int64, contextNoteIDs []int64) (string, []llm.Image, error) {
	sources, err := r.games.Sources(gameID)
	if err != nil {
		return "", nil, err
	}
	texts := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.TextContent != "" {
			texts = append(texts, src.TextContent)
		}
	}

	contextNotes, err := r.notes.List(gameID, domain.NoteFilter{NoteType: domain.NoteTypeContext})
	if err != nil {
		return "", nil, err
	}

	var adHoc []domain.Note
	for _, id := range contextNoteIDs {
		note, err := r.notes.Get(gameID, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // unresolvable references are dropped
			}
			return "", nil, err
		}
		if note.NoteType == domain.NoteTypeContext {
			continue // already included
		}
		adHoc = append(adHoc, *note)
	}

	var images []llm.Image
	for _, note := range append(append([]domain.Note{}, contextNotes...), adHoc...) {
		attached, err := r.notes.Images(note.ID)
		if err != nil {
			return "", nil, err
		}
		for _, img := range attached {
			images = append(images, llm.Image{ContentType: img.ContentType, Data: img.Data})
		}
	}

	plan, err := r.agents.Plan(gameID)
	if err != nil {
		return "", nil, err
	}

	return BuildSystemPrompt(PromptContext{
		SourceText:   strings.Join(texts, "\n\n"),
		ContextNotes: contextNotes,
		AdHocNotes:   adHoc,
		Plan:         plan,
	}), images, nil
}

// attachImages puts the turn's note images on the newest user message
// so both model calls of the turn see them.
func attachImages(msgs []llm.Message, images []llm.Image) {
	if len(images) == 0 {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			msgs[i].Images = images
			return
		}
	}
}

func send(emit EventFn, ev domain.StreamEvent) {
	if emit != nil {
		emit(ev)
	}
}

func toLLMMessages(history []domain.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msg := llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
			})
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func fromLLMToolCalls(calls []llm.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, domain.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}
