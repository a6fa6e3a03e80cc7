package domain

import "time"

// Note types. Context notes are injected into every turn's system
// prompt automatically.
const (
	NoteTypeNote    = "note"
	NoteTypeNPC     = "npc"
	NoteTypeItem    = "item"
	NoteTypeContext = "context"
)

// NoteTypes lists the valid note_type values, in display order.
func NoteTypes() []string {
	return []string{NoteTypeNote, NoteTypeNPC, NoteTypeItem, NoteTypeContext}
}

// ValidNoteType reports whether t is an allowed note type.
func ValidNoteType(t string) bool {
	switch t {
	case NoteTypeNote, NoteTypeNPC, NoteTypeItem, NoteTypeContext:
		return true
	}
	return false
}

// Note is a game note: free-form markdown content plus optional stats,
// executable actions, and an append-only action history.
type Note struct {
	ID        int64          `json:"id"`
	GameID    int64          `json:"gameId"`
	Title     string         `json:"title,omitempty"`
	NoteType  string         `json:"note_type"`
	Content   string         `json:"content"`
	Stats     map[string]any `json:"stats,omitempty"`
	Actions   []Action       `json:"actions,omitempty"`
	History   []ActionResult `json:"history,omitempty"`
	Images    int            `json:"images,omitempty"` // attachment count
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Action is an immutable template attached to a note, invoked by index.
// Currently only "roll" actions exist.
type Action struct {
	Type        string     `json:"type"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Args        ActionArgs `json:"args"`
}

// ActionArgs carries the parameters for an action. For roll actions
// either Notation or NumDice/NumSides is set.
type ActionArgs struct {
	Notation     string `json:"dice_notation,omitempty"`
	NumDice      int    `json:"num_dice,omitempty"`
	NumSides     int    `json:"num_sides,omitempty"`
	Modifier     int    `json:"modifier,omitempty"`
	Advantage    bool   `json:"advantage,omitempty"`
	Disadvantage bool   `json:"disadvantage,omitempty"`
}

// ActionResult is one entry in a note's action history.
type ActionResult struct {
	Success           bool           `json:"success"`
	ActionType        string         `json:"action_type"`
	ActionName        string         `json:"action_name,omitempty"`
	ActionDescription string         `json:"action_description,omitempty"`
	Result            map[string]any `json:"result,omitempty"`
	Error             string         `json:"error,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// NoteImage is a binary attachment on a note.
type NoteImage struct {
	ID          int64     `json:"id"`
	NoteID      int64     `json:"noteId"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NoteFilter narrows note listings.
type NoteFilter struct {
	NoteType string // empty means all types
	Query    string // substring/FTS match on content
}
