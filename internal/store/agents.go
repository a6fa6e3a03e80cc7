package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mkessel/loremaster/internal/domain"
)

// AgentStore persists the per-game agent conversation and plan. Every
// append hits the database immediately so a crash mid-turn leaves a
// consistent partial history.
type AgentStore struct {
	db *DB
}

// NewAgentStore creates an agent store using the given database.
func NewAgentStore(db *DB) *AgentStore {
	return &AgentStore{db: db}
}

// AppendMessage adds one message to a game's conversation history.
func (s *AgentStore) AppendMessage(gameID int64, msg domain.Message) error {
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encoding tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.sql.Exec(
		`INSERT INTO agent_messages (game_id, role, content, tool_calls, tool_call_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		gameID, msg.Role, msg.Content, toolCalls, msg.ToolCallID, ts.Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// History returns a game's conversation in chronological order.
func (s *AgentStore) History(gameID int64) ([]domain.Message, error) {
	rows, err := s.db.sql.Query(
		`SELECT role, content, tool_calls, tool_call_id, timestamp
		 FROM agent_messages WHERE game_id = ? ORDER BY id`, gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		var toolCalls sql.NullString
		var ts string
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &msg.ToolCallID, &ts); err != nil {
			return nil, err
		}
		msg.Timestamp, _ = time.Parse(time.DateTime, ts)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Plan returns the game's current plan, empty if none was ever set.
func (s *AgentStore) Plan(gameID int64) ([]domain.PlanItem, error) {
	var raw string
	err := s.db.sql.QueryRow(
		`SELECT plan FROM agent_plans WHERE game_id = ?`, gameID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var plan []domain.PlanItem
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	return plan, nil
}

// SetPlan replaces the game's plan wholesale.
func (s *AgentStore) SetPlan(gameID int64, plan []domain.PlanItem) error {
	if plan == nil {
		plan = []domain.PlanItem{}
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}

	_, err = s.db.sql.Exec(
		`INSERT INTO agent_plans (game_id, plan, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(game_id) DO UPDATE SET
		   plan = excluded.plan,
		   updated_at = excluded.updated_at`,
		gameID, string(data), time.Now().Format(time.DateTime),
	)
	return err
}

// Clear wipes a game's history and plan together.
func (s *AgentStore) Clear(gameID int64) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM agent_messages WHERE game_id = ?`, gameID); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`DELETE FROM agent_plans WHERE game_id = ?`, gameID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// State assembles the full agent aggregate for a game: configured
// model (falling back to the caller's default is the agent's job),
// history, and plan.
func (s *AgentStore) State(gameID int64) (*domain.AgentState, error) {
	var model string
	err := s.db.sql.QueryRow(`SELECT model FROM games WHERE id = ?`, gameID).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	history, err := s.History(gameID)
	if err != nil {
		return nil, err
	}
	plan, err := s.Plan(gameID)
	if err != nil {
		return nil, err
	}

	return &domain.AgentState{
		GameID:    gameID,
		Model:     model,
		History:   history,
		Plan:      plan,
		UpdatedAt: time.Now(),
	}, nil
}
