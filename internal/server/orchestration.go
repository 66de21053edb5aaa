package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/orchestrator"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/internal/stream"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type submitResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

func (s *Server) readPrompt(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return "", false
	}
	return req.Prompt, true
}

// handleSubmit creates a session without running it.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	prompt, ok := s.readPrompt(w, r)
	if !ok {
		return
	}
	id, err := s.pipeline.Start(r.Context(), prompt)
	if errors.Is(err, orchestrator.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, "Prompt is required", nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to start orchestration", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create orchestration session", err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{Success: true, SessionID: id})
}

// handleEvents streams a session: a fresh session is run, a finished one
// replays its terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.GetOrchestrationSession(id)
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch session", err)
		return
	}

	em, err := stream.NewEmitter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	if sess.Stage.Terminal() {
		ev, err := s.pipeline.Replay(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to replay session", err)
			return
		}
		if err := em.Send(ev); err != nil {
			s.logger.Debug("client disconnected during replay", zap.String("session_id", id), zap.Error(err))
		}
		em.End()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := s.pipeline.Run(ctx, id)
	if errors.Is(err, orchestrator.ErrInvalidSessionState) {
		writeError(w, http.StatusConflict, "Session is already running or cannot be run", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run session", err)
		return
	}
	s.pump(ctx, cancel, em, id, events)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.pipeline.Cancel(id)
	if errors.Is(err, orchestrator.ErrNotRunning) {
		if _, getErr := s.store.GetOrchestrationSession(id); errors.Is(getErr, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		writeError(w, http.StatusConflict, "Session is not running", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to cancel session", err)
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{Success: true, Message: "Cancellation requested"})
}

// handleMultiAgent starts and runs a session in one streamed request.
func (s *Server) handleMultiAgent(w http.ResponseWriter, r *http.Request) {
	prompt, ok := s.readPrompt(w, r)
	if !ok {
		return
	}
	em, err := stream.NewEmitter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	id, events, err := s.pipeline.Orchestrate(ctx, prompt)
	if errors.Is(err, orchestrator.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, "Prompt is required", nil)
		return
	}
	if err != nil {
		s.logger.Error("multi-agent orchestration failed to start", zap.Error(err))
		_ = em.Send(orchestrator.StageEvent{
			Kind:    orchestrator.EventError,
			Message: orchestrator.GenericFailureMessage,
			Details: err.Error(),
		})
		em.End()
		return
	}
	s.pump(ctx, cancel, em, id, events)
}

func (s *Server) pump(ctx context.Context, cancel context.CancelFunc, em *stream.Emitter, id string, events <-chan orchestrator.StageEvent) {
	sent, err := stream.Pump(ctx, cancel, em, events)
	if err != nil {
		s.logger.Info("client disconnected, run cancelled",
			zap.String("session_id", id), zap.Int("sent", sent), zap.Error(err))
		return
	}
	s.logger.Debug("stream finished", zap.String("session_id", id), zap.Int("sent", sent))
}

// handleClaude answers with the single queen agent.
func (s *Server) handleClaude(w http.ResponseWriter, r *http.Request) {
	prompt, ok := s.readPrompt(w, r)
	if !ok {
		return
	}
	em, err := stream.NewEmitter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := s.single.Ask(ctx, prompt)
	if errors.Is(err, orchestrator.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, "Prompt is required", nil)
		return
	}
	if err != nil {
		_ = em.Send(orchestrator.SingleEvent{
			Kind:    orchestrator.SingleError,
			Content: orchestrator.SingleFailureMessage,
			Details: err.Error(),
		})
		em.End()
		return
	}
	if _, err := stream.Pump(ctx, cancel, em, events); err != nil {
		s.logger.Debug("client disconnected from single-agent stream", zap.Error(err))
	}
}
