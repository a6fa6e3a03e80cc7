// Package domain holds the core entity types shared across the store,
// agent, and gateway layers.
package domain

import "time"

// Game is the top-level aggregate. Notes, sources, and the agent's
// conversation all hang off a game.
type Game struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Source is an adventure document attached to a game. Only the
// extracted plain text matters here; upload and extraction pipelines
// live outside this service.
type Source struct {
	ID          int64     `json:"id"`
	GameID      int64     `json:"gameId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TextContent string    `json:"textContent"`
	CreatedAt   time.Time `json:"createdAt"`
}
