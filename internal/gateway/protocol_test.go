package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessel/loremaster/internal/domain"
)

func TestFrameRoundTrip(t *testing.T) {
	req, err := NewRequest("r1", "subscribe", SubscribeParams{GameID: 7})
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Frame
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, FrameTypeRequest, decoded.Type)
	assert.Equal(t, "r1", decoded.ID)
	assert.Equal(t, "subscribe", decoded.Method)

	var params SubscribeParams
	require.NoError(t, json.Unmarshal(decoded.Params, &params))
	assert.Equal(t, int64(7), params.GameID)
}

func TestResponseFrames(t *testing.T) {
	res, err := NewResponse("r1", map[string]any{"subscribed": 7})
	require.NoError(t, err)
	require.NotNil(t, res.OK)
	assert.True(t, *res.OK)
	assert.Equal(t, FrameTypeResponse, res.Type)

	errRes := NewErrorResponse("r2", ErrorShape{Code: "not_found", Message: "game 9 not found"})
	require.NotNil(t, errRes.OK)
	assert.False(t, *errRes.OK)
	require.NotNil(t, errRes.Error)
	assert.Equal(t, "not_found", errRes.Error.Code)
}

func TestGameEventEnvelopeFlattens(t *testing.T) {
	ev, err := NewEvent("game.event", GameEvent{
		GameID: 3,
		StreamEvent: domain.StreamEvent{
			Type:    domain.EventContent,
			Content: "The door creaks open.",
		},
	}, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), ev.Seq)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, float64(3), payload["game_id"])
	assert.Equal(t, "content", payload["type"])
	assert.Equal(t, "The door creaks open.", payload["content"])
}

func TestJobCompletePayloadShape(t *testing.T) {
	ev, err := NewEvent("game.event", GameEvent{
		GameID: 1,
		StreamEvent: domain.StreamEvent{
			Type: domain.EventJobComplete,
			History: []domain.Message{
				{Role: domain.RoleUser, Content: "hi"},
				{Role: domain.RoleAssistant, Content: "hello"},
			},
			Plan: []domain.PlanItem{{Description: "step one"}},
		},
	}, 1)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "job_complete", payload["type"])
	history, ok := payload["conversation_history"].([]any)
	require.True(t, ok)
	assert.Len(t, history, 2)
	plan, ok := payload["plan"].([]any)
	require.True(t, ok)
	assert.Len(t, plan, 1)
}
