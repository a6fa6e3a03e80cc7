package agent

import (
	"context"
	"fmt"

	"github.com/mkessel/loremaster/internal/domain"
	"github.com/mkessel/loremaster/internal/store"
)

// actionsSchema describes the executable action templates accepted by
// create_game_note and edit_game_note.
func actionsSchema(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type": map[string]any{
					"type":        "string",
					"enum":        []string{"roll"},
					"description": "The type of action - currently only 'roll' is supported",
				},
				"name": map[string]any{
					"type":        "string",
					"description": "Name of the action (e.g., 'Attack Roll', 'Damage Roll')",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Description of what this action does",
				},
				"args": map[string]any{
					"type":        "object",
					"description": "Arguments for the action. For 'roll' type, this should contain dice notation and optional modifiers",
					"properties": map[string]any{
						"dice_notation": map[string]any{
							"type":        "string",
							"description": "Dice notation (e.g., '1d20+4', '2d6')",
						},
						"advantage": map[string]any{
							"type":        "boolean",
							"description": "For d20 rolls, roll twice and take higher",
						},
						"disadvantage": map[string]any{
							"type":        "boolean",
							"description": "For d20 rolls, roll twice and take lower",
						},
					},
				},
			},
			"required": []string{"type", "args"},
		},
	}
}

func noteTypeSchema(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"enum":        domain.NoteTypes(),
		"description": description,
	}
}

func noteNotFound(id int64) map[string]any {
	return map[string]any{
		"success": false,
		"error":   fmt.Sprintf("Note with ID %d not found", id),
	}
}

// noteSummary renders a note for tool output, omitting empty optional
// fields the way the model expects them.
func noteSummary(n *domain.Note, full bool) map[string]any {
	data := map[string]any{
		"id":         n.ID,
		"content":    n.Content,
		"note_type":  n.NoteType,
		"created_at": n.CreatedAt,
		"updated_at": n.UpdatedAt,
	}
	if n.Title != "" {
		data["title"] = n.Title
	}
	if len(n.Stats) > 0 {
		data["stats"] = n.Stats
	}
	if full {
		if len(n.Actions) > 0 {
			data["actions"] = n.Actions
		}
		if len(n.History) > 0 {
			data["history"] = n.History
		}
	}
	return data
}

// createNoteTool creates a note in the bound game.
type createNoteTool struct {
	gameID int64
	notes  *store.NoteStore
}

func (t *createNoteTool) Name() string { return "create_game_note" }

func (t *createNoteTool) Description() string {
	return "Create a new note for this game. Use this to save important information, reminders, or observations that should be persisted. Optionally attach actions (like dice rolls) that can be executed later, or set initial stats."
}

func (t *createNoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The note contents - markdown is supported",
			},
			"note_type": noteTypeSchema("The type of note"),
			"title": map[string]any{
				"type":        "string",
				"description": "Optional short title for the note",
			},
			"stats": map[string]any{
				"type":                 "object",
				"description":          `Optional object containing stat key-value pairs (e.g., {"HP": 45, "AC": 18})`,
				"additionalProperties": true,
			},
			"actions": actionsSchema("Optional array of actions that can be executed later (e.g., dice rolls for attacks or abilities)"),
		},
		"required": []string{"content", "note_type"},
	}
}

func (t *createNoteTool) Execute(_ context.Context, args map[string]any) map[string]any {
	content, _ := strArg(args, "content")
	noteType, _ := strArg(args, "note_type")
	if noteType != "" && !domain.ValidNoteType(noteType) {
		return map[string]any{"success": false, "error": fmt.Sprintf("Invalid note type: %s", noteType)}
	}

	note := domain.Note{
		GameID:   t.gameID,
		Content:  content,
		NoteType: noteType,
	}
	if title, ok := strArg(args, "title"); ok {
		note.Title = title
	}
	if stats, ok := mapArg(args, "stats"); ok && len(stats) > 0 {
		note.Stats = stats
	}
	if raw, ok := args["actions"]; ok {
		if err := decodeAs(raw, &note.Actions); err != nil {
			return map[string]any{"success": false, "error": "Invalid actions: " + err.Error()}
		}
	}

	created, err := t.notes.Create(note)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}

	result := map[string]any{
		"success": true,
		"note_id": created.ID,
		"message": "Note created successfully",
	}
	if len(created.Stats) > 0 {
		result["stats"] = created.Stats
	}
	if len(created.Actions) > 0 {
		result["actions_count"] = len(created.Actions)
	}
	return result
}

// searchNotesTool lists the game's notes, filtered and most recent
// first.
type searchNotesTool struct {
	gameID int64
	notes  *store.NoteStore
}

func (t *searchNotesTool) Name() string { return "search_game_notes" }

func (t *searchNotesTool) Description() string {
	return "Search for game notes by keyword or filter by note type. Returns a list of matching notes with their IDs, content, and metadata."
}

func (t *searchNotesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Optional search query to filter notes by content",
			},
			"note_type": noteTypeSchema("Optional filter by note type"),
		},
		"required": []string{},
	}
}

func (t *searchNotesTool) Execute(_ context.Context, args map[string]any) map[string]any {
	filter := domain.NoteFilter{}
	filter.Query, _ = strArg(args, "query")
	filter.NoteType, _ = strArg(args, "note_type")

	found, err := t.notes.List(t.gameID, filter)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}

	listed := make([]map[string]any, 0, len(found))
	for i := range found {
		listed = append(listed, noteSummary(&found[i], false))
	}
	return map[string]any{
		"success": true,
		"count":   len(listed),
		"notes":   listed,
	}
}

// readNoteTool returns one note's full detail.
type readNoteTool struct {
	gameID int64
	notes  *store.NoteStore
}

func (t *readNoteTool) Name() string { return "read_game_note" }

func (t *readNoteTool) Description() string {
	return "Read the full details of a specific game note by its ID. Returns the complete note content including stats, actions, history, and timestamps."
}

func (t *readNoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note_id": map[string]any{
				"type":        "integer",
				"description": "The ID of the note to read",
			},
		},
		"required": []string{"note_id"},
	}
}

func (t *readNoteTool) Execute(_ context.Context, args map[string]any) map[string]any {
	id, ok := intArg(args, "note_id")
	if !ok {
		return map[string]any{"success": false, "error": "note_id is required"}
	}
	note, err := t.notes.Get(t.gameID, id)
	if err != nil {
		return noteNotFound(id)
	}
	return map[string]any{
		"success": true,
		"note":    noteSummary(note, true),
	}
}

// editNoteTool partially updates a note.
type editNoteTool struct {
	gameID int64
	notes  *store.NoteStore
}

func (t *editNoteTool) Name() string { return "edit_game_note" }

func (t *editNoteTool) Description() string {
	return "Edit an existing game note by its ID. Can update the content, note type, title, stats, or actions fields."
}

func (t *editNoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note_id": map[string]any{
				"type":        "integer",
				"description": "The ID of the note to edit",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Updated note content (markdown supported)",
			},
			"note_type": noteTypeSchema("Updated note type"),
			"title": map[string]any{
				"type":        "string",
				"description": "Updated note title",
			},
			"stats": map[string]any{
				"type":                 "object",
				"description":          "Updated stats object (replaces existing stats). Pass empty object {} to clear all stats.",
				"additionalProperties": true,
			},
			"actions": actionsSchema("Updated array of actions that can be executed later (replaces existing actions)"),
		},
		"required": []string{"note_id"},
	}
}

func (t *editNoteTool) Execute(_ context.Context, args map[string]any) map[string]any {
	id, ok := intArg(args, "note_id")
	if !ok {
		return map[string]any{"success": false, "error": "note_id is required"}
	}
	note, err := t.notes.Get(t.gameID, id)
	if err != nil {
		return noteNotFound(id)
	}

	changed := false
	if content, ok := strArg(args, "content"); ok && content != "" {
		note.Content = content
		changed = true
	}
	if noteType, ok := strArg(args, "note_type"); ok && noteType != "" {
		if !domain.ValidNoteType(noteType) {
			return map[string]any{"success": false, "error": fmt.Sprintf("Invalid note type: %s", noteType)}
		}
		note.NoteType = noteType
		changed = true
	}
	if title, ok := strArg(args, "title"); ok && title != "" {
		note.Title = title
		changed = true
	}
	// Presence of the key matters for stats and actions: an explicit
	// empty value clears the field.
	if raw, ok := args["stats"]; ok {
		stats, isMap := raw.(map[string]any)
		if !isMap {
			return map[string]any{"success": false, "error": "Stats must be an object/hash of key-value pairs"}
		}
		note.Stats = stats
		changed = true
	}
	if raw, ok := args["actions"]; ok {
		var actions []domain.Action
		if err := decodeAs(raw, &actions); err != nil {
			return map[string]any{"success": false, "error": "Invalid actions: " + err.Error()}
		}
		note.Actions = actions
		changed = true
	}

	if !changed {
		return map[string]any{"success": false, "error": "No fields provided to update"}
	}

	if err := t.notes.Update(note); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}

	result := map[string]any{
		"success": true,
		"message": "Note updated successfully",
		"note":    noteSummary(note, false),
	}
	if len(note.Actions) > 0 {
		result["actions_count"] = len(note.Actions)
	}
	return result
}

// deleteNoteTool permanently removes a note.
type deleteNoteTool struct {
	gameID int64
	notes  *store.NoteStore
}

func (t *deleteNoteTool) Name() string { return "delete_game_note" }

func (t *deleteNoteTool) Description() string {
	return "Delete a game note by its ID. This permanently removes the note and cannot be undone."
}

func (t *deleteNoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note_id": map[string]any{
				"type":        "integer",
				"description": "The ID of the note to delete",
			},
		},
		"required": []string{"note_id"},
	}
}

func (t *deleteNoteTool) Execute(_ context.Context, args map[string]any) map[string]any {
	id, ok := intArg(args, "note_id")
	if !ok {
		return map[string]any{"success": false, "error": "note_id is required"}
	}
	if err := t.notes.Delete(t.gameID, id); err != nil {
		return noteNotFound(id)
	}
	return map[string]any{
		"success": true,
		"message": "Note deleted successfully",
		"note_id": id,
	}
}

// setNoteStatsTool wholesale-replaces a note's stats.
type setNoteStatsTool struct {
	gameID int64
	notes  *store.NoteStore
}

func (t *setNoteStatsTool) Name() string { return "set_note_stats" }

func (t *setNoteStatsTool) Description() string {
	return "Set or update stats (key-value pairs) on a game note. Stats are useful for tracking numeric values like HP, AC, ability scores, or any other game-relevant data. This replaces all existing stats on the note."
}

func (t *setNoteStatsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note_id": map[string]any{
				"type":        "integer",
				"description": "The ID of the note to update",
			},
			"stats": map[string]any{
				"type":                 "object",
				"description":          `Object containing stat key-value pairs (e.g., {"HP": 45, "AC": 18, "STR": 16}). Values can be numbers or strings.`,
				"additionalProperties": true,
			},
		},
		"required": []string{"note_id", "stats"},
	}
}

func (t *setNoteStatsTool) Execute(_ context.Context, args map[string]any) map[string]any {
	id, ok := intArg(args, "note_id")
	if !ok {
		return map[string]any{"success": false, "error": "note_id is required"}
	}
	note, err := t.notes.Get(t.gameID, id)
	if err != nil {
		return noteNotFound(id)
	}
	stats, ok := mapArg(args, "stats")
	if !ok {
		return map[string]any{"success": false, "error": "Stats must be an object/hash of key-value pairs"}
	}

	note.Stats = stats
	if err := t.notes.Update(note); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{
		"success": true,
		"message": "Stats set successfully",
		"note_id": note.ID,
		"stats":   note.Stats,
	}
}

// updateNoteStatsTool shallow-merges onto a note's existing stats.
type updateNoteStatsTool struct {
	gameID int64
	notes  *store.NoteStore
}

func (t *updateNoteStatsTool) Name() string { return "update_note_stats" }

func (t *updateNoteStatsTool) Description() string {
	return "Update specific stats on a game note without replacing all stats. Only the provided stat keys will be updated or added, existing stats not mentioned will remain unchanged."
}

func (t *updateNoteStatsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note_id": map[string]any{
				"type":        "integer",
				"description": "The ID of the note to update",
			},
			"stats": map[string]any{
				"type":                 "object",
				"description":          `Object containing stat key-value pairs to update (e.g., {"HP": 30}). Values can be numbers or strings.`,
				"additionalProperties": true,
			},
		},
		"required": []string{"note_id", "stats"},
	}
}

func (t *updateNoteStatsTool) Execute(_ context.Context, args map[string]any) map[string]any {
	id, ok := intArg(args, "note_id")
	if !ok {
		return map[string]any{"success": false, "error": "note_id is required"}
	}
	note, err := t.notes.Get(t.gameID, id)
	if err != nil {
		return noteNotFound(id)
	}
	stats, ok := mapArg(args, "stats")
	if !ok {
		return map[string]any{"success": false, "error": "Stats must be an object/hash of key-value pairs"}
	}

	if note.Stats == nil {
		note.Stats = map[string]any{}
	}
	for k, v := range stats {
		note.Stats[k] = v
	}
	if err := t.notes.Update(note); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{
		"success": true,
		"message": "Stats updated successfully",
		"note_id": note.ID,
		"stats":   note.Stats,
	}
}
