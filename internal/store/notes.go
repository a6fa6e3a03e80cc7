package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkessel/loremaster/internal/domain"
)

// NoteStore manages game notes, their action history, and image
// attachments. Stats, actions, and history ride as JSON columns; the
// title and content feed an FTS5 index kept current by triggers.
type NoteStore struct {
	db *DB
}

// NewNoteStore creates a note store using the given database.
func NewNoteStore(db *DB) *NoteStore {
	return &NoteStore{db: db}
}

// Create inserts a note and returns it with its assigned ID.
func (s *NoteStore) Create(note domain.Note) (*domain.Note, error) {
	if note.NoteType == "" {
		note.NoteType = domain.NoteTypeNote
	}
	stats, actions, history, err := encodeNoteBlobs(&note)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res, err := s.db.sql.Exec(
		`INSERT INTO notes (game_id, title, note_type, content, stats, actions, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.GameID, note.Title, note.NoteType, note.Content,
		stats, actions, history,
		now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("creating note: %w", err)
	}
	note.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	note.CreatedAt = now
	note.UpdatedAt = now
	return &note, nil
}

// Get returns a note by ID, scoped to a game.
func (s *NoteStore) Get(gameID, id int64) (*domain.Note, error) {
	row := s.db.sql.QueryRow(
		`SELECT n.id, n.game_id, n.title, n.note_type, n.content, n.stats, n.actions, n.history,
		        n.created_at, n.updated_at,
		        (SELECT COUNT(*) FROM note_images WHERE note_id = n.id)
		 FROM notes n WHERE n.id = ? AND n.game_id = ?`, id, gameID,
	)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return note, err
}

// Update persists the full note state. History appends go through here
// too, so a read in the same turn always sees the write.
func (s *NoteStore) Update(note *domain.Note) error {
	stats, actions, history, err := encodeNoteBlobs(note)
	if err != nil {
		return err
	}

	note.UpdatedAt = time.Now()
	res, err := s.db.sql.Exec(
		`UPDATE notes SET title = ?, note_type = ?, content = ?, stats = ?, actions = ?, history = ?, updated_at = ?
		 WHERE id = ? AND game_id = ?`,
		note.Title, note.NoteType, note.Content, stats, actions, history,
		note.UpdatedAt.Format(time.DateTime), note.ID, note.GameID,
	)
	if err != nil {
		return fmt.Errorf("updating note %d: %w", note.ID, err)
	}
	return requireRow(res)
}

// Delete removes a note. Image attachments cascade.
func (s *NoteStore) Delete(gameID, id int64) error {
	res, err := s.db.sql.Exec(`DELETE FROM notes WHERE id = ? AND game_id = ?`, id, gameID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// List returns a game's notes matching the filter, most recently
// updated first. A query filters via FTS5; an unindexable query (all
// punctuation) falls back to a LIKE scan so it degrades instead of
// erroring.
func (s *NoteStore) List(gameID int64, filter domain.NoteFilter) ([]domain.Note, error) {
	var rows *sql.Rows
	var err error

	where := "n.game_id = ?"
	args := []any{gameID}
	if filter.NoteType != "" {
		where += " AND n.note_type = ?"
		args = append(args, filter.NoteType)
	}

	const cols = `n.id, n.game_id, n.title, n.note_type, n.content, n.stats, n.actions, n.history,
	              n.created_at, n.updated_at,
	              (SELECT COUNT(*) FROM note_images WHERE note_id = n.id)`

	if q := ftsQuery(filter.Query); q != "" {
		rows, err = s.db.sql.Query(
			`SELECT `+cols+`
			 FROM notes_fts
			 JOIN notes n ON n.id = notes_fts.rowid
			 WHERE notes_fts MATCH ? AND `+where+`
			 ORDER BY n.updated_at DESC, n.id DESC`,
			append([]any{q}, args...)...,
		)
	} else if filter.Query != "" {
		like := "%" + filter.Query + "%"
		rows, err = s.db.sql.Query(
			`SELECT `+cols+`
			 FROM notes n
			 WHERE (n.title LIKE ? OR n.content LIKE ?) AND `+where+`
			 ORDER BY n.updated_at DESC, n.id DESC`,
			append([]any{like, like}, args...)...,
		)
	} else {
		rows, err = s.db.sql.Query(
			`SELECT `+cols+`
			 FROM notes n
			 WHERE `+where+`
			 ORDER BY n.updated_at DESC, n.id DESC`,
			args...,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

// AddImage attaches image bytes to a note.
func (s *NoteStore) AddImage(img domain.NoteImage) (*domain.NoteImage, error) {
	now := time.Now()
	res, err := s.db.sql.Exec(
		`INSERT INTO note_images (note_id, content_type, data, created_at) VALUES (?, ?, ?, ?)`,
		img.NoteID, img.ContentType, img.Data, now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("adding image: %w", err)
	}
	img.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	img.CreatedAt = now
	return &img, nil
}

// Images returns a note's attachments, data included, in insertion order.
func (s *NoteStore) Images(noteID int64) ([]domain.NoteImage, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, note_id, content_type, data, created_at
		 FROM note_images WHERE note_id = ? ORDER BY id`, noteID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []domain.NoteImage
	for rows.Next() {
		var img domain.NoteImage
		var createdAt string
		if err := rows.Scan(&img.ID, &img.NoteID, &img.ContentType, &img.Data, &createdAt); err != nil {
			return nil, err
		}
		img.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes one attachment.
func (s *NoteStore) DeleteImage(id int64) error {
	res, err := s.db.sql.Exec(`DELETE FROM note_images WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ftsQuery turns free text into an FTS5 prefix query, quoting each
// term so user punctuation cannot break the match syntax. Returns ""
// when nothing indexable remains.
func ftsQuery(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = `"` + f + `"*`
	}
	return strings.Join(terms, " ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var note domain.Note
	var stats, actions, history sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&note.ID, &note.GameID, &note.Title, &note.NoteType, &note.Content,
		&stats, &actions, &history, &createdAt, &updatedAt, &note.Images,
	); err != nil {
		return nil, err
	}

	note.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	note.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)

	if stats.Valid && stats.String != "" {
		if err := json.Unmarshal([]byte(stats.String), &note.Stats); err != nil {
			return nil, fmt.Errorf("note %d: decoding stats: %w", note.ID, err)
		}
	}
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &note.Actions); err != nil {
			return nil, fmt.Errorf("note %d: decoding actions: %w", note.ID, err)
		}
	}
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &note.History); err != nil {
			return nil, fmt.Errorf("note %d: decoding history: %w", note.ID, err)
		}
	}
	return &note, nil
}

func encodeNoteBlobs(note *domain.Note) (stats, actions, history sql.NullString, err error) {
	if len(note.Stats) > 0 {
		data, merr := json.Marshal(note.Stats)
		if merr != nil {
			return stats, actions, history, merr
		}
		stats = sql.NullString{String: string(data), Valid: true}
	}
	if len(note.Actions) > 0 {
		data, merr := json.Marshal(note.Actions)
		if merr != nil {
			return stats, actions, history, merr
		}
		actions = sql.NullString{String: string(data), Valid: true}
	}
	if len(note.History) > 0 {
		data, merr := json.Marshal(note.History)
		if merr != nil {
			return stats, actions, history, merr
		}
		history = sql.NullString{String: string(data), Valid: true}
	}
	return stats, actions, history, nil
}
