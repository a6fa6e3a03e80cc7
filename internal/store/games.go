package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkessel/loremaster/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// GameStore manages games and their attached sources.
type GameStore struct {
	db *DB
}

// NewGameStore creates a game store using the given database.
func NewGameStore(db *DB) *GameStore {
	return &GameStore{db: db}
}

// Create inserts a new game and returns it with its assigned ID.
func (s *GameStore) Create(name string) (*domain.Game, error) {
	now := time.Now()
	res, err := s.db.sql.Exec(
		`INSERT INTO games (name, created_at, updated_at) VALUES (?, ?, ?)`,
		name, now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("creating game: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Game{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// Get returns a game by ID.
func (s *GameStore) Get(id int64) (*domain.Game, error) {
	var g domain.Game
	var createdAt, updatedAt string
	err := s.db.sql.QueryRow(
		`SELECT id, name, created_at, updated_at FROM games WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading game %d: %w", id, err)
	}
	g.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	g.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return &g, nil
}

// List returns all games, most recently updated first.
func (s *GameStore) List() ([]domain.Game, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, name, created_at, updated_at FROM games ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		var g domain.Game
		var createdAt, updatedAt string
		if err := rows.Scan(&g.ID, &g.Name, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		g.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		g.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		games = append(games, g)
	}
	return games, rows.Err()
}

// Rename updates a game's name.
func (s *GameStore) Rename(id int64, name string) error {
	res, err := s.db.sql.Exec(
		`UPDATE games SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().Format(time.DateTime), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes a game. Notes, sources, history, and plan cascade.
func (s *GameStore) Delete(id int64) error {
	res, err := s.db.sql.Exec(`DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Model returns the game's model override, empty if none is set.
func (s *GameStore) Model(id int64) (string, error) {
	var model string
	err := s.db.sql.QueryRow(`SELECT model FROM games WHERE id = ?`, id).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return model, err
}

// SetModel records the model the game's agent should use.
func (s *GameStore) SetModel(id int64, model string) error {
	res, err := s.db.sql.Exec(
		`UPDATE games SET model = ?, updated_at = ? WHERE id = ?`,
		model, time.Now().Format(time.DateTime), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AddSource attaches an adventure document to a game.
func (s *GameStore) AddSource(src domain.Source) (*domain.Source, error) {
	now := time.Now()
	res, err := s.db.sql.Exec(
		`INSERT INTO sources (game_id, name, description, text_content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		src.GameID, src.Name, src.Description, src.TextContent, now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("adding source: %w", err)
	}
	src.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	src.CreatedAt = now
	return &src, nil
}

// Sources returns a game's sources in insertion order.
func (s *GameStore) Sources(gameID int64) ([]domain.Source, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, game_id, name, description, text_content, created_at
		 FROM sources WHERE game_id = ? ORDER BY id`, gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var src domain.Source
		var createdAt string
		if err := rows.Scan(&src.ID, &src.GameID, &src.Name, &src.Description,
			&src.TextContent, &createdAt); err != nil {
			return nil, err
		}
		src.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// DeleteSource removes one source.
func (s *GameStore) DeleteSource(id int64) error {
	res, err := s.db.sql.Exec(`DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
