package agent

import (
	"fmt"
	"strings"

	"github.com/mkessel/loremaster/internal/domain"
)

// PromptContext carries everything that feeds a turn's system prompt.
type PromptContext struct {
	// SourceText is the concatenated plain text of the game's
	// adventure documents.
	SourceText string

	// ContextNotes are the game's context-typed notes, injected on
	// every turn.
	ContextNotes []domain.Note

	// AdHocNotes are caller-selected notes for this turn only.
	AdHocNotes []domain.Note

	// Plan is the agent's current checklist.
	Plan []domain.PlanItem
}

// BuildSystemPrompt renders the system prompt for one turn.
func BuildSystemPrompt(pc PromptContext) string {
	var b strings.Builder

	b.WriteString("You are a helpful assistant for a tabletop RPG adventure module.\n\n")

	if pc.SourceText != "" {
		b.WriteString("You have access to the adventure's content below:\n\n")
		b.WriteString(pc.SourceText)
		b.WriteString("\n\n")
	}

	b.WriteString("Your role is to answer questions about this adventure module.\n")
	b.WriteString("You can help with:\n")
	b.WriteString("- Understanding the plot, characters, and locations\n")
	b.WriteString("- Finding specific information in the adventure\n")
	b.WriteString("- Clarifying rules or mechanics mentioned in the adventure\n")
	b.WriteString("- Providing context or background information\n\n")

	b.WriteString("You have access to tools that let you:\n")
	b.WriteString("- Create, search, read, edit, and delete notes to manage game information\n")
	b.WriteString("- Roll dice using standard RPG notation (e.g., '1d20', '2d6', '4d8+3')\n")
	b.WriteString("- Execute actions attached to notes and track stats\n\n")

	if len(pc.ContextNotes) > 0 || len(pc.AdHocNotes) > 0 {
		b.WriteString("## Current context\n\n")
		for _, note := range pc.ContextNotes {
			writeContextNote(&b, note)
		}
		for _, note := range pc.AdHocNotes {
			writeContextNote(&b, note)
		}
	}

	if len(pc.Plan) > 0 {
		b.WriteString("## Current plan\n\n")
		for i, item := range pc.Plan {
			mark := " "
			if item.Completed {
				mark = "x"
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, item.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("When working on multi-step tasks, use the update_plan tool to maintain a checklist: ")
	b.WriteString("pass the full list of items each time, marking finished ones completed. ")
	b.WriteString("The plan replaces the previous one wholesale.\n\n")

	b.WriteString("Use these tools when appropriate to help the user manage their game session.\n")
	b.WriteString("Be helpful, accurate, and concise. If you don't know something or it's not in the adventure content, say so.\n")

	return b.String()
}

func writeContextNote(b *strings.Builder, note domain.Note) {
	header := fmt.Sprintf("Note %d", note.ID)
	if note.Title != "" {
		header += ": " + note.Title
	}
	fmt.Fprintf(b, "### %s\n%s\n\n", header, note.Content)
}
