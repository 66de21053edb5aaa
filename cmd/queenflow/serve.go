package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/queenflow/internal/broadcast"
	"github.com/ShayCichocki/queenflow/internal/config"
	"github.com/ShayCichocki/queenflow/internal/llm"
	"github.com/ShayCichocki/queenflow/internal/metrics"
	"github.com/ShayCichocki/queenflow/internal/orchestrator"
	"github.com/ShayCichocki/queenflow/internal/prompts"
	"github.com/ShayCichocki/queenflow/internal/server"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/internal/version"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration server",
	Long: `Run the HTTP server.

On start the server fails sessions a previous process left unfinished,
purges sessions older than storage.retention, and begins watching the
prompts file for changes. Without an Anthropic API key (and without
Bedrock) the server answers with the mock responder.

Endpoints include:
  POST /api/multi-agent                      run a prompt, streamed as SSE
  POST /api/v1/orchestrations                create a session
  GET  /api/v1/orchestrations/{id}/events    run or replay a session
  POST /api/claude                           single-agent answer
  GET  /ws                                   live status updates
  GET  /metrics                              Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

// app holds the wired components shared by serve and run --local.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *state.DB
	metrics  *metrics.Registry
	prompts  *prompts.Store
	emitter  *orchestrator.EventEmitter
	registry *orchestrator.AgentRegistry
	pipeline *orchestrator.Pipeline
	single   *orchestrator.SingleAgent
	backend  llm.Backend
}

// openApp opens storage, recovers interrupted sessions and wires the pipeline.
func openApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	db, err := state.OpenWithDriver(cfg.Storage.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	failed, err := state.NewRecoveryManager(db, logger).FailInterrupted()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recover interrupted sessions: %w", err)
	}
	if failed > 0 {
		logger.Warn("failed sessions interrupted by a previous shutdown", zap.Int("count", failed))
	}
	if cfg.Storage.Retention > 0 {
		purged, err := db.PurgeOldSessions(cfg.Storage.Retention)
		if err != nil {
			logger.Warn("purge old sessions failed", zap.Error(err))
		} else if purged > 0 {
			logger.Info("purged old sessions", zap.Int64("count", purged), zap.Duration("retention", cfg.Storage.Retention))
		}
	}

	m := metrics.New()
	completer, backend, err := llm.New(cfg, m, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	store, err := prompts.NewStore(cfg.Prompts.File, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	emitter := orchestrator.NewEventEmitter(cfg.Broadcast.Buffer, logger, m.BroadcastDropped)
	registry := orchestrator.NewAgentRegistry(emitter, db,
		orchestrator.WithRegistryLogger(logger),
		orchestrator.WithRegistryMetrics(m))

	pipeline, err := orchestrator.NewPipeline(
		orchestrator.RequiredConfig{Store: db, LLM: completer},
		orchestrator.WithRegistry(registry),
		orchestrator.WithPrompts(store),
		orchestrator.WithNotifier(emitter),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(logger),
		orchestrator.WithAgentModels(agentModels(cfg.Anthropic.AgentModels)),
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	var singleOpts []llm.CompleteOption
	if model := cfg.Anthropic.AgentModels.Queen; model != "" {
		singleOpts = append(singleOpts, llm.WithModel(model))
	}
	single, err := orchestrator.NewSingleAgent(completer, store, logger, singleOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		metrics:  m,
		prompts:  store,
		emitter:  emitter,
		registry: registry,
		pipeline: pipeline,
		single:   single,
		backend:  backend,
	}, nil
}

func (a *app) Close() {
	a.emitter.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := broadcast.NewHub(broadcast.Options{
		Snapshot: func() (any, any, error) {
			stats, err := a.db.Stats()
			if err != nil {
				return nil, nil, err
			}
			return a.registry.List(), stats, nil
		},
		ClientBuffer: cfg.Broadcast.Buffer,
		Metrics:      a.metrics,
		Logger:       logger.Named("broadcast"),
	})

	srv, err := server.New(server.Config{
		Pipeline:        a.pipeline,
		Single:          a.single,
		Store:           a.db,
		Notifier:        a.emitter,
		WebSocket:       hub,
		Metrics:         a.metrics.Handler(),
		Logger:          logger.Named("http"),
		Version:         version.Get(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting queenflow",
		zap.String("version", version.Get()),
		zap.String("addr", addr),
		zap.String("llm_backend", string(a.backend)),
		zap.String("db", a.db.Path()),
		zap.String("db_driver", a.db.Driver()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.prompts.Watch(gctx) })
	g.Go(func() error { return hub.Run(gctx, a.emitter.Events()) })
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("queenflow stopped")
	return nil
}

func agentModels(cfg config.AgentModelsConfig) map[models.AgentID]string {
	return map[models.AgentID]string{
		models.AgentQueen:          cfg.Queen,
		models.AgentResearch:       cfg.Research,
		models.AgentImplementation: cfg.Implementation,
	}
}
