package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/orchestrator"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.List()
	writeList(w, agents, len(agents))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(models.AgentID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusNotFound, "Agent not found", nil)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	id := models.AgentID(chi.URLParam(r, "id"))
	rec, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Agent not found", nil)
		return
	}
	stats, err := s.store.AgentStats(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch agent stats", err)
		return
	}
	// The registry is ahead of the store when a status write failed to persist.
	if stats.LastActivity == nil || rec.LastActivityAt.After(*stats.LastActivity) {
		last := rec.LastActivityAt
		stats.LastActivity = &last
	}
	writeData(w, http.StatusOK, stats)
}

type statusRequest struct {
	Status models.AgentStatus `json:"status"`
}

func (s *Server) handleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	id := models.AgentID(chi.URLParam(r, "id"))
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "Status is required", nil)
		return
	}

	previous, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Agent not found", nil)
		return
	}
	rec, err := s.registry.Set(id, req.Status)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, "Agent not found", nil)
		return
	case errors.Is(err, orchestrator.ErrIllegalStatus):
		writeError(w, http.StatusBadRequest, "Invalid status for agent", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to update agent status", err)
		return
	}

	s.addInteraction(&state.Interaction{
		AgentID:  id,
		Type:     state.InteractionSystemEvent,
		Content:  fmt.Sprintf("Status updated to: %s", req.Status),
		Metadata: map[string]string{"previousStatus": string(previous.Status)},
	})
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: rec, Message: "Agent status updated successfully"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, state.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	sessions, err := s.store.ListOrchestrationSessions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch sessions", err)
		return
	}
	writeList(w, sessions, len(sessions))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetOrchestrationSession(chi.URLParam(r, "id"))
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch session", err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

// agentFromPath validates the {agentId} path value.
func agentFromPath(w http.ResponseWriter, r *http.Request) (models.AgentID, bool) {
	id := models.AgentID(chi.URLParam(r, "agentId"))
	if !id.Valid() {
		writeError(w, http.StatusNotFound, "Agent not found", nil)
		return "", false
	}
	return id, true
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	id, ok := agentFromPath(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, state.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var memories []state.Memory
	if typ := state.MemoryType(r.URL.Query().Get("type")); typ != "" {
		if !typ.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid memory type", nil)
			return
		}
		memories, err = s.store.ListMemoriesByType(id, typ, limit)
	} else {
		memories, err = s.store.ListMemories(id, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch memories", err)
		return
	}
	writeList(w, memories, len(memories))
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	id, ok := agentFromPath(w, r)
	if !ok {
		return
	}
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "Search term (q) is required", nil)
		return
	}
	limit, err := queryLimit(r, state.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	memories, err := s.store.SearchMemories(id, term, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to search memories", err)
		return
	}
	writeList(w, memories, len(memories))
}

type memoryRequest struct {
	AgentID    models.AgentID   `json:"agentId"`
	SessionID  string           `json:"sessionId"`
	Type       state.MemoryType `json:"type"`
	Content    string           `json:"content"`
	Importance *int             `json:"importance"`
	Tags       []string         `json:"tags"`
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.AgentID.Valid() || !req.Type.Valid() || req.Content == "" {
		writeError(w, http.StatusBadRequest, "agentId, type, and content are required", nil)
		return
	}
	importance := state.DefaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}
	if importance < 1 || importance > 10 {
		writeError(w, http.StatusBadRequest, "importance must be between 1 and 10", nil)
		return
	}

	m := &state.Memory{
		AgentID:    req.AgentID,
		SessionID:  req.SessionID,
		Type:       req.Type,
		Content:    req.Content,
		Importance: importance,
		Tags:       req.Tags,
	}
	if err := s.store.AddMemory(m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add memory", err)
		return
	}
	s.notifier.Notify(orchestrator.MemoryAdded{Memory: *m, Timestamp: m.CreatedAt})
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Data:    map[string]string{"id": m.ID},
		Message: "Memory added successfully",
	})
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := agentFromPath(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, state.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	interactions, err := s.store.ListInteractions(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch interactions", err)
		return
	}
	writeList(w, interactions, len(interactions))
}

type interactionRequest struct {
	AgentID   models.AgentID        `json:"agentId"`
	SessionID string                `json:"sessionId"`
	Type      state.InteractionType `json:"type"`
	Content   string                `json:"content"`
	Metadata  map[string]string     `json:"metadata"`
}

func (s *Server) handleAddInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.AgentID.Valid() || !req.Type.Valid() || req.Content == "" {
		writeError(w, http.StatusBadRequest, "agentId, type, and content are required", nil)
		return
	}

	i := &state.Interaction{
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		Type:      req.Type,
		Content:   req.Content,
		Metadata:  req.Metadata,
	}
	if !s.addInteraction(i) {
		writeError(w, http.StatusInternalServerError, "Failed to add interaction", nil)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Data:    map[string]string{"id": i.ID},
		Message: "Interaction recorded successfully",
	})
}

func (s *Server) addInteraction(i *state.Interaction) bool {
	if err := s.store.AddInteraction(i); err != nil {
		s.logger.Warn("failed to record interaction", zap.String("agent", string(i.AgentID)), zap.Error(err))
		return false
	}
	s.notifier.Notify(orchestrator.InteractionAdded{Interaction: *i, Timestamp: i.CreatedAt})
	return true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch system stats", err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "API is healthy",
		"version":   s.version,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "queenflow multi-agent orchestration server",
		"version":   s.version,
		"api_docs":  endpoints,
		"timestamp": time.Now().UTC(),
	})
}
