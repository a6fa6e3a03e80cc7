package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessel/loremaster/internal/agent"
	"github.com/mkessel/loremaster/internal/config"
	"github.com/mkessel/loremaster/internal/domain"
	"github.com/mkessel/loremaster/internal/llm"
)

func wsURL(e *testEnv) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

func dialWS(t *testing.T, e *testEnv) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(e), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func connect(t *testing.T, conn *websocket.Conn, token string) Frame {
	t.Helper()
	req, err := NewRequest("connect-1", "connect", ConnectParams{
		Client: ClientInfo{ID: "test-client", Version: "0.0.1"},
		Token:  token,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func requestWS(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	// Skip event frames until the matching response arrives.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var resp Frame
		require.NoError(t, conn.ReadJSON(&resp))
		if resp.Type == FrameTypeResponse && resp.ID == id {
			return resp
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	conn := dialWS(t, e)

	resp := connect(t, conn, "")
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(resp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Contains(t, hello.Features.Methods, "subscribe")
	assert.Contains(t, hello.Features.Events, "game.event")
}

func TestConnectRejectsBadToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.AuthToken = "sekrit"
	e := newTestEnv(t, cfg)

	conn := dialWS(t, e)
	resp := connect(t, conn, "wrong")
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)

	conn2 := dialWS(t, e)
	resp2 := connect(t, conn2, "sekrit")
	require.NotNil(t, resp2.OK)
	assert.True(t, *resp2.OK)
}

func TestConnectRequiredFirst(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	conn := dialWS(t, e)

	req, err := NewRequest("r1", "subscribe", SubscribeParams{GameID: 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_error", resp.Error.Code)
}

func TestSubscribeValidatesGame(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	game, err := e.games.Create("campaign")
	require.NoError(t, err)

	conn := dialWS(t, e)
	connect(t, conn, "")

	resp := requestWS(t, conn, "s1", "subscribe", SubscribeParams{GameID: game.ID})
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	resp = requestWS(t, conn, "s2", "subscribe", SubscribeParams{GameID: 9999})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)

	resp = requestWS(t, conn, "s3", "unsubscribe", SubscribeParams{GameID: game.ID})
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)
}

func TestUnknownMethod(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	conn := dialWS(t, e)
	connect(t, conn, "")

	resp := requestWS(t, conn, "m1", "summon", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

// readGameEvents collects game.event payloads until a terminal event
// or the deadline.
func readGameEvents(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	var events []map[string]any
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type != FrameTypeEvent || frame.Event != "game.event" {
			continue
		}
		var payload map[string]any
		require.NoError(t, json.Unmarshal(frame.Payload, &payload))
		events = append(events, payload)
		if payload["type"] == domain.EventJobComplete || payload["type"] == domain.EventError {
			return events
		}
	}
}

func TestTurnEventsReachSubscriber(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	game, err := e.games.Create("campaign")
	require.NoError(t, err)

	conn := dialWS(t, e)
	connect(t, conn, "")
	requestWS(t, conn, "s1", "subscribe", SubscribeParams{GameID: game.ID})

	resp, _ := e.request(t, "POST", fmt.Sprintf("/api/games/%d/agent/messages", game.ID),
		map[string]any{"message": "Describe the tavern."})
	require.Equal(t, 202, resp.StatusCode)

	events := readGameEvents(t, conn)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev["type"].(string)
		assert.Equal(t, float64(game.ID), ev["game_id"])
	}
	assert.Equal(t, []string{
		domain.EventStart,
		domain.EventUserMessage,
		domain.EventAssistantStart,
		domain.EventContent,
		domain.EventJobComplete,
	}, types)

	final := events[len(events)-1]
	history := final["conversation_history"].([]any)
	require.Len(t, history, 2)
	last := history[1].(map[string]any)
	assert.Equal(t, "assistant", last["role"])
	assert.Equal(t, "The tale continues.", last["content"])
}

func TestTurnErrorEventCarriesBacktraceInDevelopment(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	game, err := e.games.Create("campaign")
	require.NoError(t, err)
	e.mock.FailWith(fmt.Errorf("upstream down"))

	conn := dialWS(t, e)
	connect(t, conn, "")
	requestWS(t, conn, "s1", "subscribe", SubscribeParams{GameID: game.ID})

	resp, _ := e.request(t, "POST", fmt.Sprintf("/api/games/%d/agent/messages", game.ID),
		map[string]any{"message": "hello"})
	require.Equal(t, 202, resp.StatusCode)

	events := readGameEvents(t, conn)
	final := events[len(events)-1]
	assert.Equal(t, domain.EventError, final["type"])
	assert.Contains(t, final["error"], "upstream down")
	assert.NotEmpty(t, final["backtrace"])
}

// panicChat blows up on every model call.
type panicChat struct{}

func (panicChat) Chat(context.Context, llm.Request) (*llm.Result, error) {
	panic("model call exploded")
}

func (panicChat) ChatStream(context.Context, llm.Request) (<-chan llm.Event, error) {
	panic("model call exploded")
}

func TestTurnPanicStillSendsTerminalErrorEvent(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	e.server.runner = agent.NewRunner(e.games, e.notes, e.agents, panicChat{}, nil, silentLog())
	game, err := e.games.Create("campaign")
	require.NoError(t, err)

	conn := dialWS(t, e)
	connect(t, conn, "")
	requestWS(t, conn, "s1", "subscribe", SubscribeParams{GameID: game.ID})

	resp, _ := e.request(t, "POST", fmt.Sprintf("/api/games/%d/agent/messages", game.ID),
		map[string]any{"message": "hello"})
	require.Equal(t, 202, resp.StatusCode)

	events := readGameEvents(t, conn)
	final := events[len(events)-1]
	assert.Equal(t, domain.EventError, final["type"])
	assert.Contains(t, final["error"], "model call exploded")
}

func TestUnsubscribedClientSeesNothing(t *testing.T) {
	e := newTestEnv(t, config.Defaults())
	game, err := e.games.Create("campaign")
	require.NoError(t, err)

	conn := dialWS(t, e)
	connect(t, conn, "")
	// No subscription.

	resp, _ := e.request(t, "POST", fmt.Sprintf("/api/games/%d/agent/messages", game.ID),
		map[string]any{"message": "hello"})
	require.Equal(t, 202, resp.StatusCode)

	// The turn finishes without this client receiving any event.
	require.Eventually(t, func() bool {
		history, err := e.agents.History(game.ID)
		return err == nil && len(history) == 2
	}, 5*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame Frame
	err = conn.ReadJSON(&frame)
	assert.Error(t, err) // deadline, nothing arrived
}
