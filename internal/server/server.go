// Package server exposes the orchestration pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/orchestrator"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

// Store is the persistence the HTTP API reads and writes.
type Store interface {
	state.OrchestrationStore
	state.MemoryStore
	state.InteractionStore
	Stats() (*state.Stats, error)
	AgentStats(agentID models.AgentID) (*state.AgentStats, error)
}

// Config wires the server's collaborators. Pipeline, Single and Store are required.
type Config struct {
	Pipeline *orchestrator.Pipeline
	Single   *orchestrator.SingleAgent
	Store    Store
	// Notifier receives records created through the API. Optional.
	Notifier orchestrator.Notifier
	// WebSocket serves /ws. Optional.
	WebSocket http.Handler
	// Metrics serves /metrics. Optional.
	Metrics http.Handler
	Logger  *zap.Logger
	Version string
	// ShutdownTimeout bounds graceful shutdown. Zero means 10s.
	ShutdownTimeout time.Duration
}

// Server is the queenflow HTTP API.
type Server struct {
	pipeline *orchestrator.Pipeline
	single   *orchestrator.SingleAgent
	registry *orchestrator.AgentRegistry
	store    Store
	notifier orchestrator.Notifier
	logger   *zap.Logger
	version  string
	shutdown time.Duration

	handler http.Handler
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil || cfg.Single == nil || cfg.Store == nil {
		return nil, errors.New("server requires a pipeline, a single agent and a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = orchestrator.NotifierFunc(func(any) {})
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		pipeline: cfg.Pipeline,
		single:   cfg.Single,
		registry: cfg.Pipeline.Registry(),
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		version:  cfg.Version,
		shutdown: cfg.ShutdownTimeout,
	}

	r := newRouter(s.logger)
	s.routes(r, cfg)
	s.handler = r
	return s, nil
}

// endpoints lists the public routes for the service index.
var endpoints = map[string]string{
	"health":         "/api/health",
	"orchestrations": "/api/v1/orchestrations",
	"multi_agent":    "/api/multi-agent",
	"claude":         "/api/claude",
	"agents":         "/api/v1/agents",
	"agent_stats":    "/api/v1/agents/{id}/stats",
	"sessions":       "/api/v1/sessions",
	"memory":         "/api/v1/memory/{agentId}",
	"memory_search":  "/api/v1/memory/{agentId}/search",
	"interactions":   "/api/v1/interactions/{agentId}",
	"stats":          "/api/v1/stats",
	"websocket":      "/ws",
	"metrics":        "/metrics",
}

func (s *Server) routes(r chi.Router, cfg Config) {
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleAPIHealth)

	// Orchestration
	r.Post("/api/multi-agent", s.handleMultiAgent)
	r.Post("/api/claude", s.handleClaude)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orchestrations", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/{id}/events", s.handleEvents)
			r.Post("/{id}/cancel", s.handleCancel)
		})

		// Agents and records
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Get("/{id}", s.handleGetAgent)
			r.Get("/{id}/stats", s.handleAgentStats)
			r.Put("/{id}/status", s.handleSetAgentStatus)
		})
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/memory", s.handleAddMemory)
		r.Get("/memory/{agentId}", s.handleListMemories)
		r.Get("/memory/{agentId}/search", s.handleSearchMemories)
		r.Post("/interactions", s.handleAddInteraction)
		r.Get("/interactions/{agentId}", s.handleListInteractions)
		r.Get("/stats", s.handleStats)
	})

	if cfg.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", cfg.WebSocket)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. Open
// streams get the shutdown timeout to finish before their connections
// are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
		// Request contexts outlive ctx so in-flight runs can finish.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server", zap.Duration("timeout", s.shutdown))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown timed out, closing connections", zap.Error(err))
		_ = srv.Close()
	}
	<-errc
	return nil
}
