package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkessel/loremaster/internal/dice"
	"github.com/mkessel/loremaster/internal/domain"
	"github.com/mkessel/loremaster/internal/store"
)

// rollDiceTool exposes the dice engine to the model. Parse and
// validation failures come back as data, never as aborts.
type rollDiceTool struct {
	roller *dice.Roller
}

func (t *rollDiceTool) Name() string { return "roll_dice" }

func (t *rollDiceTool) Description() string {
	return "Roll dice using standard RPG notation (e.g., '1d20', '2d6', '4d8+3'). Supports modifiers like +/- and advantage/disadvantage for d20 rolls."
}

func (t *rollDiceTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dice_notation": map[string]any{
				"type":        "string",
				"description": "The dice to roll in standard notation (e.g., '1d20', '2d6', '4d8+3', '1d20+5')",
			},
			"advantage": map[string]any{
				"type":        "boolean",
				"description": "For d20 rolls, roll twice and take the higher result",
			},
			"disadvantage": map[string]any{
				"type":        "boolean",
				"description": "For d20 rolls, roll twice and take the lower result",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Optional description of what the roll is for (e.g., 'attack roll', 'damage')",
			},
		},
		"required": []string{"dice_notation"},
	}
}

func (t *rollDiceTool) Execute(_ context.Context, args map[string]any) map[string]any {
	spec := dice.Spec{}
	spec.Notation, _ = strArg(args, "dice_notation")
	spec.Advantage = boolArg(args, "advantage")
	spec.Disadvantage = boolArg(args, "disadvantage")
	spec.Description, _ = strArg(args, "description")

	result, err := t.roller.Roll(spec)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return result.Map()
}

// ExecuteNoteAction runs one of a note's action templates. An
// ActionResult comes back for anything that actually executed, rolls
// that fail validation included; the error return covers lookup
// failures that must not touch the note's history.
func ExecuteNoteAction(note *domain.Note, index int, roller *dice.Roller) (*domain.ActionResult, error) {
	if len(note.Actions) == 0 {
		return nil, errors.New("No actions defined")
	}
	if index < 0 || index >= len(note.Actions) {
		return nil, errors.New("Action index out of range")
	}

	action := note.Actions[index]
	if action.Type == "" {
		return nil, errors.New("Action type not specified")
	}
	if action.Type != "roll" {
		return nil, fmt.Errorf("Unknown action type: %s", action.Type)
	}

	entry := domain.ActionResult{
		ActionType:        action.Type,
		ActionName:        action.Name,
		ActionDescription: action.Description,
		Timestamp:         time.Now(),
	}

	spec := dice.Spec{
		Notation:     action.Args.Notation,
		NumDice:      action.Args.NumDice,
		NumSides:     action.Args.NumSides,
		Modifier:     action.Args.Modifier,
		Advantage:    action.Args.Advantage,
		Disadvantage: action.Args.Disadvantage,
	}
	result, err := roller.Roll(spec)
	if err != nil {
		entry.Error = err.Error()
		return &entry, nil
	}

	entry.Success = true
	entry.Result = result.Map()
	return &entry, nil
}

// callNoteActionTool executes a note action by index and appends the
// outcome to the note's history.
type callNoteActionTool struct {
	gameID int64
	notes  *store.NoteStore
	roller *dice.Roller
}

func (t *callNoteActionTool) Name() string { return "call_note_action" }

func (t *callNoteActionTool) Description() string {
	return "Execute an action attached to a game note. Actions are pre-defined operations (like dice rolls) that can be triggered. The result is added to the note's action history."
}

func (t *callNoteActionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"note_id": map[string]any{
				"type":        "integer",
				"description": "The ID of the note containing the action",
			},
			"action_index": map[string]any{
				"type":        "integer",
				"description": "The index of the action to execute (0-based, so first action is 0, second is 1, etc.)",
			},
		},
		"required": []string{"note_id", "action_index"},
	}
}

func (t *callNoteActionTool) Execute(_ context.Context, args map[string]any) map[string]any {
	id, ok := intArg(args, "note_id")
	if !ok {
		return map[string]any{"success": false, "error": "note_id is required"}
	}
	index, ok := intArg(args, "action_index")
	if !ok {
		return map[string]any{"success": false, "error": "action_index is required"}
	}

	note, err := t.notes.Get(t.gameID, id)
	if err != nil {
		return noteNotFound(id)
	}
	if len(note.Actions) == 0 {
		return map[string]any{"success": false, "error": "Note has no actions defined"}
	}

	entry, err := ExecuteNoteAction(note, int(index), t.roller)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}

	note.History = append(note.History, *entry)
	if err := t.notes.Update(note); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}

	if !entry.Success {
		return map[string]any{
			"success":     false,
			"action_type": entry.ActionType,
			"error":       entry.Error,
		}
	}
	return map[string]any{
		"success":       true,
		"message":       "Action executed successfully",
		"note_id":       note.ID,
		"action_result": entry,
		"history_count": len(note.History),
	}
}

// updatePlanTool wholesale-replaces the agent's task checklist.
type updatePlanTool struct {
	gameID int64
	agents *store.AgentStore
}

func (t *updatePlanTool) Name() string { return "update_plan" }

func (t *updatePlanTool) Description() string {
	return "Update the current plan with new items or mark items as completed. This helps track progress on multi-step tasks."
}

func (t *updatePlanTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":        "array",
				"description": "Array of plan items (replaces the current plan)",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description": map[string]any{
							"type":        "string",
							"description": "The plan item description",
						},
						"completed": map[string]any{
							"type":        "boolean",
							"description": "Whether the item is completed",
						},
					},
					"required": []string{"description"},
				},
			},
		},
		"required": []string{"items"},
	}
}

func (t *updatePlanTool) Execute(_ context.Context, args map[string]any) map[string]any {
	raw, ok := args["items"]
	if !ok {
		return map[string]any{"success": false, "error": "Items must be an array"}
	}
	items, ok := raw.([]any)
	if !ok {
		return map[string]any{"success": false, "error": "Items must be an array"}
	}

	plan := make([]domain.PlanItem, 0, len(items))
	for _, item := range items {
		entry, _ := item.(map[string]any)
		description, _ := strArg(entry, "description")
		plan = append(plan, domain.PlanItem{
			Description: description,
			Completed:   boolArg(entry, "completed"),
		})
	}

	if err := t.agents.SetPlan(t.gameID, plan); err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{
		"success": true,
		"message": "Plan updated successfully",
		"plan":    plan,
		"count":   len(plan),
	}
}

// NewGameRegistry builds the full tool set bound to one game.
func NewGameRegistry(gameID int64, notes *store.NoteStore, agents *store.AgentStore, roller *dice.Roller) *Registry {
	r := NewRegistry()
	r.Register(&createNoteTool{gameID: gameID, notes: notes})
	r.Register(&searchNotesTool{gameID: gameID, notes: notes})
	r.Register(&readNoteTool{gameID: gameID, notes: notes})
	r.Register(&editNoteTool{gameID: gameID, notes: notes})
	r.Register(&deleteNoteTool{gameID: gameID, notes: notes})
	r.Register(&rollDiceTool{roller: roller})
	r.Register(&callNoteActionTool{gameID: gameID, notes: notes, roller: roller})
	r.Register(&setNoteStatsTool{gameID: gameID, notes: notes})
	r.Register(&updateNoteStatsTool{gameID: gameID, notes: notes})
	r.Register(&updatePlanTool{gameID: gameID, agents: agents})
	return r
}
