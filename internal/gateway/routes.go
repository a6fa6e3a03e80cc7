package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mkessel/loremaster/internal/agent"
	"github.com/mkessel/loremaster/internal/domain"
	"github.com/mkessel/loremaster/internal/llm"
	"github.com/mkessel/loremaster/internal/store"
)

// maxBodyBytes bounds JSON request bodies. Image uploads get a larger
// allowance.
const (
	maxBodyBytes  = 1 << 20  // 1MB
	maxImageBytes = 10 << 20 // 10MB
)

// registerHTTPRoutes sets up the REST + WebSocket routes.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/models", s.handleModels)

	mux.HandleFunc("POST /api/games", s.handleGameCreate)
	mux.HandleFunc("GET /api/games", s.handleGameList)
	mux.HandleFunc("GET /api/games/{gameID}", s.handleGameGet)
	mux.HandleFunc("PATCH /api/games/{gameID}", s.handleGameUpdate)
	mux.HandleFunc("DELETE /api/games/{gameID}", s.handleGameDelete)

	mux.HandleFunc("POST /api/games/{gameID}/sources", s.handleSourceCreate)
	mux.HandleFunc("GET /api/games/{gameID}/sources", s.handleSourceList)
	mux.HandleFunc("DELETE /api/games/{gameID}/sources/{sourceID}", s.handleSourceDelete)

	mux.HandleFunc("POST /api/games/{gameID}/notes", s.handleNoteCreate)
	mux.HandleFunc("GET /api/games/{gameID}/notes", s.handleNoteList)
	mux.HandleFunc("GET /api/games/{gameID}/notes/{noteID}", s.handleNoteGet)
	mux.HandleFunc("PATCH /api/games/{gameID}/notes/{noteID}", s.handleNoteUpdate)
	mux.HandleFunc("DELETE /api/games/{gameID}/notes/{noteID}", s.handleNoteDelete)

	mux.HandleFunc("POST /api/games/{gameID}/notes/{noteID}/actions/{index}/call", s.handleNoteActionCall)
	mux.HandleFunc("DELETE /api/games/{gameID}/notes/{noteID}/actions/{index}", s.handleNoteActionDelete)
	mux.HandleFunc("DELETE /api/games/{gameID}/notes/{noteID}/history/{index}", s.handleNoteHistoryDelete)
	mux.HandleFunc("DELETE /api/games/{gameID}/notes/{noteID}/history", s.handleNoteHistoryClear)

	mux.HandleFunc("POST /api/games/{gameID}/notes/{noteID}/images", s.handleImageUpload)
	mux.HandleFunc("GET /api/games/{gameID}/notes/{noteID}/images", s.handleImageList)
	mux.HandleFunc("GET /api/games/{gameID}/notes/{noteID}/images/{imageID}", s.handleImageGet)
	mux.HandleFunc("DELETE /api/games/{gameID}/notes/{noteID}/images/{imageID}", s.handleImageDelete)

	mux.HandleFunc("POST /api/games/{gameID}/agent/messages", s.handleAgentMessage)
	mux.HandleFunc("GET /api/games/{gameID}/agent/history", s.handleAgentHistory)
	mux.HandleFunc("DELETE /api/games/{gameID}/agent/history", s.handleAgentHistoryClear)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// JSON helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// pathID parses a numeric path segment.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// storeError maps store failures onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error().Err(err).Msg("store error")
	writeError(w, http.StatusInternalServerError, err.Error())
}

// Health and models

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"clients": s.clients.Count(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  llm.Models(),
		"default": llm.DefaultModel,
	})
}

// Games

type gamePayload struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (s *Server) handleGameCreate(w http.ResponseWriter, r *http.Request) {
	var p gamePayload
	if !readJSON(w, r, &p) {
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if p.Model != "" && !llm.SupportedModel(p.Model) {
		writeError(w, http.StatusBadRequest, "unknown model: "+p.Model)
		return
	}
	game, err := s.games.Create(p.Name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if p.Model != "" {
		if err := s.games.SetModel(game.ID, p.Model); err != nil {
			s.storeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, game)
}

func (s *Server) handleGameList(w http.ResponseWriter, r *http.Request) {
	games, err := s.games.List()
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) handleGameGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	game, err := s.games.Get(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	model, err := s.games.Model(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if model == "" {
		model = llm.DefaultModel
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": game, "model": model})
}

func (s *Server) handleGameUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p gamePayload
	if !readJSON(w, r, &p) {
		return
	}
	if p.Name == "" && p.Model == "" {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if p.Name != "" {
		if err := s.games.Rename(id, p.Name); err != nil {
			s.storeError(w, err)
			return
		}
	}
	if p.Model != "" {
		if !llm.SupportedModel(p.Model) {
			writeError(w, http.StatusBadRequest, "unknown model: "+p.Model)
			return
		}
		if err := s.games.SetModel(id, p.Model); err != nil {
			s.storeError(w, err)
			return
		}
	}
	game, err := s.games.Get(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (s *Server) handleGameDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.games.Delete(id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sources

type sourcePayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TextContent string `json:"text_content"`
}

func (s *Server) handleSourceCreate(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p sourcePayload
	if !readJSON(w, r, &p) {
		return
	}
	if p.Name == "" || p.TextContent == "" {
		writeError(w, http.StatusBadRequest, "name and text_content are required")
		return
	}
	src, err := s.games.AddSource(domain.Source{
		GameID:      gameID,
		Name:        p.Name,
		Description: p.Description,
		TextContent: p.TextContent,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleSourceList(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sources, err := s.games.Sources(gameID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleSourceDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sourceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.games.DeleteSource(id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notes

type notePayload struct {
	Title    string                `json:"title"`
	NoteType string                `json:"note_type"`
	Content  string                `json:"content"`
	Stats    map[string]any        `json:"stats"`
	Actions  []domain.Action       `json:"actions"`
	History  []domain.ActionResult `json:"history"`
}

func (s *Server) handleNoteCreate(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p notePayload
	if !readJSON(w, r, &p) {
		return
	}
	if p.NoteType != "" && !domain.ValidNoteType(p.NoteType) {
		writeError(w, http.StatusBadRequest, "invalid note type: "+p.NoteType)
		return
	}
	note, err := s.notes.Create(domain.Note{
		GameID:   gameID,
		Title:    p.Title,
		NoteType: p.NoteType,
		Content:  p.Content,
		Stats:    p.Stats,
		Actions:  p.Actions,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleNoteList(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := domain.NoteFilter{
		Query:    r.URL.Query().Get("query"),
		NoteType: r.URL.Query().Get("note_type"),
	}
	notes, err := s.notes.List(gameID, filter)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// notePath parses the game and note IDs from the request path.
func notePath(r *http.Request) (gameID, noteID int64, err error) {
	if gameID, err = pathID(r, "gameID"); err != nil {
		return 0, 0, err
	}
	if noteID, err = pathID(r, "noteID"); err != nil {
		return 0, 0, err
	}
	return gameID, noteID, nil
}

func (s *Server) handleNoteGet(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, err := s.notes.Get(gameID, noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleNoteUpdate(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, err := s.notes.Get(gameID, noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	// Key presence decides what changes, mirroring the edit tool.
	var raw map[string]json.RawMessage
	if !readJSON(w, r, &raw) {
		return
	}
	apply := func(key string, dst any) bool {
		data, ok := raw[key]
		if !ok {
			return true
		}
		if err := json.Unmarshal(data, dst); err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+key+": "+err.Error())
			return false
		}
		return true
	}
	if !apply("title", &note.Title) ||
		!apply("content", &note.Content) ||
		!apply("note_type", &note.NoteType) ||
		!apply("stats", &note.Stats) ||
		!apply("actions", &note.Actions) ||
		!apply("history", &note.History) {
		return
	}
	if !domain.ValidNoteType(note.NoteType) {
		writeError(w, http.StatusBadRequest, "invalid note type: "+note.NoteType)
		return
	}

	if err := s.notes.Update(note); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleNoteDelete(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.notes.Delete(gameID, noteID); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Note actions and history

func (s *Server) handleNoteActionCall(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := pathID(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, err := s.notes.Get(gameID, noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	entry, err := agent.ExecuteNoteAction(note, int(index), s.roller)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	note.History = append(note.History, *entry)
	if err := s.notes.Update(note); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": entry, "note": note})
}

func (s *Server) handleNoteActionDelete(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := pathID(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, err := s.notes.Get(gameID, noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if index < 0 || index >= int64(len(note.Actions)) {
		writeError(w, http.StatusUnprocessableEntity, "action index out of range")
		return
	}
	note.Actions = append(note.Actions[:index], note.Actions[index+1:]...)
	if err := s.notes.Update(note); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleNoteHistoryDelete(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := pathID(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, err := s.notes.Get(gameID, noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if index < 0 || index >= int64(len(note.History)) {
		writeError(w, http.StatusUnprocessableEntity, "history index out of range")
		return
	}
	note.History = append(note.History[:index], note.History[index+1:]...)
	if err := s.notes.Update(note); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleNoteHistoryClear(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	note, err := s.notes.Get(gameID, noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	note.History = nil
	if err := s.notes.Update(note); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Images

func (s *Server) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.notes.Get(gameID, noteID); err != nil {
		s.storeError(w, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		writeError(w, http.StatusBadRequest, "Content-Type header is required")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty image body")
		return
	}

	img, err := s.notes.AddImage(domain.NoteImage{
		NoteID:      noteID,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

func (s *Server) handleImageList(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.notes.Get(gameID, noteID); err != nil {
		s.storeError(w, err)
		return
	}
	images, err := s.notes.Images(noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (s *Server) handleImageGet(w http.ResponseWriter, r *http.Request) {
	gameID, noteID, err := notePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	imageID, err := pathID(r, "imageID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.notes.Get(gameID, noteID); err != nil {
		s.storeError(w, err)
		return
	}
	images, err := s.notes.Images(noteID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	for _, img := range images {
		if img.ID == imageID {
			w.Header().Set("Content-Type", img.ContentType)
			w.WriteHeader(http.StatusOK)
			w.Write(img.Data)
			return
		}
	}
	writeError(w, http.StatusNotFound, "image not found")
}

func (s *Server) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	imageID, err := pathID(r, "imageID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.notes.DeleteImage(imageID); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Agent

type agentMessagePayload struct {
	Message      string  `json:"message"`
	ContextItems []int64 `json:"context_items"`
}

// handleAgentMessage enqueues a turn and answers immediately. The
// WebSocket channel is the only place the caller sees progress and the
// final result.
func (s *Server) handleAgentMessage(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.games.Get(gameID); err != nil {
		s.storeError(w, err)
		return
	}

	var p agentMessagePayload
	if !readJSON(w, r, &p) {
		return
	}
	if p.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	jobID, err := s.enqueueTurn(gameID, p.Message, p.ContextItems)
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "turn queue full, try again later")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "job_id": jobID})
}

func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := s.agents.State(gameID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if state.Model == "" {
		state.Model = llm.DefaultModel
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAgentHistoryClear(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r, "gameID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.games.Get(gameID); err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.agents.Clear(gameID); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
