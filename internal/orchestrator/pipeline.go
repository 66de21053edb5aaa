package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/llm"
	"github.com/ShayCichocki/queenflow/internal/prompts"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

// memoryExcerptLen is how many characters of a stage output a memory keeps.
const memoryExcerptLen = 500

// stageMemory describes the memory stored after a stage succeeds.
type stageMemory struct {
	prefix     string
	memType    state.MemoryType
	importance int
	tags       []string
}

var stageMemories = map[models.Stage]stageMemory{
	models.StageAnalysis:       {"Initial analysis: ", state.MemoryTask, 8, []string{"orchestration", "analysis"}},
	models.StageResearch:       {"Research findings: ", state.MemoryInsight, 8, []string{"research", "findings"}},
	models.StageImplementation: {"Implementation plan: ", state.MemoryInsight, 9, []string{"implementation", "plan"}},
}

var stagePrompts = map[models.Stage]prompts.Kind{
	models.StageAnalysis:       prompts.KindQueen,
	models.StageResearch:       prompts.KindResearch,
	models.StageImplementation: prompts.KindImplementation,
}

// Pipeline runs the Queen, Research and Implementation stages for an
// orchestration session and reports every transition as a StageEvent.
type Pipeline struct {
	store       SessionStore
	llm         llm.Completer
	registry    *AgentRegistry
	prompts     Renderer
	notifier    Notifier
	metrics     Metrics
	logger      *zap.Logger
	now         func() time.Time
	agentModels map[models.AgentID]string

	// active maps a session ID to the cancel func of its run.
	active sync.Map
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg RequiredConfig, opts ...Option) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline requires a session store")
	}
	if cfg.LLM == nil {
		return nil, errors.New("pipeline requires an LLM completer")
	}
	o := buildOptions(opts)
	return &Pipeline{
		store:       cfg.Store,
		llm:         cfg.LLM,
		registry:    o.registry,
		prompts:     o.prompts,
		notifier:    o.notifier,
		metrics:     o.metrics,
		logger:      o.logger,
		now:         o.now,
		agentModels: o.agentModels,
	}, nil
}

func (p *Pipeline) completeOptions(agent models.AgentID) []llm.CompleteOption {
	if model := p.agentModels[agent]; model != "" {
		return []llm.CompleteOption{llm.WithModel(model)}
	}
	return nil
}

// Registry returns the agent status registry the pipeline writes to.
func (p *Pipeline) Registry() *AgentRegistry {
	return p.registry
}

// Start creates a session at the analysis stage and records the user's
// request. It does not run anything.
func (p *Pipeline) Start(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sess := state.NewOrchestrationSession(prompt)
	if err := p.store.CreateOrchestrationSession(sess); err != nil {
		return "", fmt.Errorf("create orchestration session: %w", err)
	}

	p.recordInteraction(&state.Interaction{
		AgentID:   models.AgentQueen,
		SessionID: sess.ID,
		Type:      state.InteractionTextInput,
		Content:   prompt,
		Metadata:  map[string]string{"sessionId": sess.ID},
	})

	p.logger.Info("orchestration session created", zap.String("session_id", sess.ID))
	return sess.ID, nil
}

// Orchestrate starts a session and runs it.
func (p *Pipeline) Orchestrate(ctx context.Context, prompt string) (string, <-chan StageEvent, error) {
	id, err := p.Start(ctx, prompt)
	if err != nil {
		return "", nil, err
	}
	events, err := p.Run(ctx, id)
	if err != nil {
		return id, nil, err
	}
	return id, events, nil
}

// Run executes the pipeline for a session at the analysis stage.
//
// The returned channel is unbuffered: each event is produced only after the
// previous one was received. It is closed after exactly one terminal event,
// or without one when ctx is done first. Callers must either drain the
// channel or cancel ctx.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (<-chan StageEvent, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	if _, loaded := p.active.LoadOrStore(sessionID, cancel); loaded {
		cancel(nil)
		return nil, &PipelineError{Kind: KindInvalidSessionState, Cause: ErrAlreadyRunning}
	}

	sess, err := p.store.GetOrchestrationSession(sessionID)
	if err == nil && sess.Stage != models.StageAnalysis {
		err = &PipelineError{Kind: KindInvalidSessionState, Stage: sess.Stage, Cause: ErrInvalidSessionState}
	}
	if err != nil {
		p.active.Delete(sessionID)
		cancel(nil)
		return nil, err
	}

	out := make(chan StageEvent)
	r := &run{
		p:      p,
		sess:   sess,
		parent: ctx,
		ctx:    runCtx,
		cancel: cancel,
		out:    out,
		logger: p.logger.With(zap.String("session_id", sessionID)),
	}
	go r.execute()
	return out, nil
}

// Cancel stops an active run. The run fails its session and, if the
// consumer is still attached, delivers an error event.
func (p *Pipeline) Cancel(sessionID string) error {
	v, ok := p.active.Load(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, sessionID)
	}
	v.(context.CancelCauseFunc)(ErrCancelRequested)
	return nil
}

// Running reports whether a session has an active run.
func (p *Pipeline) Running(sessionID string) bool {
	_, ok := p.active.Load(sessionID)
	return ok
}

// Replay returns the terminal event of a finished session without calling
// the LLM.
func (p *Pipeline) Replay(ctx context.Context, sessionID string) (StageEvent, error) {
	if err := ctx.Err(); err != nil {
		return StageEvent{}, err
	}
	sess, err := p.store.GetOrchestrationSession(sessionID)
	if err != nil {
		return StageEvent{}, err
	}
	ts := sess.UpdatedAt
	if sess.CompletedAt != nil {
		ts = *sess.CompletedAt
	}

	switch sess.Stage {
	case models.StageComplete:
		return StageEvent{
			Kind:      EventComplete,
			Stage:     sess.Stage,
			Message:   CompletionMessage,
			SessionID: sess.ID,
			Stages: &StageOutputs{
				Analysis:       sess.AnalysisOutput,
				Research:       sess.ResearchOutput,
				Implementation: sess.ImplementationOutput,
			},
			Timestamp: ts,
		}, nil
	case models.StageFailed:
		return StageEvent{
			Kind:      EventError,
			Stage:     sess.Stage,
			Message:   sess.Error,
			SessionID: sess.ID,
			Timestamp: ts,
		}, nil
	default:
		return StageEvent{}, &PipelineError{Kind: KindInvalidSessionState, Stage: sess.Stage, Cause: ErrInvalidSessionState}
	}
}

func (p *Pipeline) recordInteraction(i *state.Interaction) {
	if err := p.store.AddInteraction(i); err != nil {
		p.logger.Warn("failed to record interaction",
			zap.String("session_id", i.SessionID), zap.String("agent", string(i.AgentID)), zap.Error(err))
		return
	}
	p.notifier.Notify(InteractionAdded{Interaction: *i, Timestamp: i.CreatedAt})
}

// run is the state of one pipeline execution.
type run struct {
	p    *Pipeline
	sess *state.OrchestrationSession

	// parent is the consumer's context; ctx is also cancelled by Cancel.
	parent context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc
	out    chan<- StageEvent
	logger *zap.Logger

	data        prompts.Data
	outputs     StageOutputs
	activeAgent models.AgentID
}

func (r *run) execute() {
	defer close(r.out)
	defer r.p.active.Delete(r.sess.ID)
	defer r.cancel(nil)

	r.p.metrics.RunStarted()
	r.data = prompts.Data{Prompt: r.sess.Prompt}

	for _, stage := range models.PipelineStages {
		if err := r.runStage(stage); err != nil {
			r.fail(stage, err)
			return
		}
	}
	r.complete()
}

func (r *run) runStage(stage models.Stage) error {
	agent := stage.Agent()
	logger := r.logger.With(zap.String("stage", string(stage)), zap.String("agent", string(agent)))

	if r.ctx.Err() != nil {
		return r.cancelled(stage)
	}
	if _, err := r.p.registry.Set(agent, agent.ActiveStatus()); err != nil {
		return &PipelineError{Kind: KindStageFailed, Stage: stage, Cause: err}
	}
	r.activeAgent = agent

	if !r.emit(StageEvent{
		Kind:    EventStatus,
		Stage:   stage,
		Agent:   agent,
		Status:  agent.ActiveStatus(),
		Message: statusMessages[agent],
	}) {
		return r.cancelled(stage)
	}

	prompt, err := r.p.prompts.Render(stagePrompts[stage], r.data)
	if err != nil {
		return &PipelineError{Kind: KindStageFailed, Stage: stage, Cause: err}
	}

	logger.Debug("stage started")
	start := time.Now()
	output, err := r.p.llm.Complete(r.ctx, prompt, r.p.completeOptions(agent)...)
	r.p.metrics.StageFinished(string(stage), time.Since(start))

	// A result that arrives after cancellation is discarded.
	if r.ctx.Err() != nil {
		return r.cancelled(stage)
	}
	if err != nil {
		return &PipelineError{Kind: KindStageFailed, Stage: stage, Cause: llm.Normalize(err)}
	}

	if !r.emit(StageEvent{
		Kind:    EventResponse,
		Stage:   stage,
		Agent:   agent,
		Content: output,
	}) {
		return r.cancelled(stage)
	}

	if err := r.p.store.RecordStageOutput(r.sess.ID, stage, output); err != nil {
		return &PipelineError{Kind: KindStageFailed, Stage: stage, Cause: err}
	}

	switch stage {
	case models.StageAnalysis:
		r.outputs.Analysis = output
		r.data.Analysis = output
	case models.StageResearch:
		r.outputs.Research = output
		r.data.Research = output
	case models.StageImplementation:
		r.outputs.Implementation = output
	}

	r.remember(stage, output)
	logger.Info("stage finished", zap.Duration("duration", time.Since(start)))
	return nil
}

func (r *run) cancelled(stage models.Stage) error {
	return &PipelineError{Kind: KindCancelled, Stage: stage, Cause: context.Cause(r.ctx)}
}

// emit delivers a non-terminal event unless the run is cancelled.
func (r *run) emit(ev StageEvent) bool {
	if r.ctx.Err() != nil {
		return false
	}
	ev.SessionID = r.sess.ID
	ev.Timestamp = r.p.now()
	select {
	case r.out <- ev:
	case <-r.ctx.Done():
		return false
	}
	r.delivered(ev)
	return true
}

// emitTerminal delivers the terminal event while the consumer is attached.
// It ignores Cancel so that an explicitly cancelled run still reports it.
func (r *run) emitTerminal(ev StageEvent) {
	ev.SessionID = r.sess.ID
	ev.Timestamp = r.p.now()
	if r.parent.Err() != nil {
		return
	}
	select {
	case r.out <- ev:
		r.delivered(ev)
	case <-r.parent.Done():
	}
}

func (r *run) delivered(ev StageEvent) {
	r.p.metrics.EventEmitted(ev.WireType())
	r.p.notifier.Notify(ev)
}

func (r *run) remember(stage models.Stage, output string) {
	agent := stage.Agent()
	if tmpl, ok := stageMemories[stage]; ok {
		m := &state.Memory{
			AgentID:    agent,
			SessionID:  r.sess.ID,
			Type:       tmpl.memType,
			Content:    tmpl.prefix + excerpt(output, memoryExcerptLen) + "...",
			Importance: tmpl.importance,
			Tags:       tmpl.tags,
		}
		if err := r.p.store.AddMemory(m); err != nil {
			r.logger.Warn("failed to store memory", zap.String("stage", string(stage)), zap.Error(err))
		} else {
			r.p.notifier.Notify(MemoryAdded{Memory: *m, Timestamp: m.CreatedAt})
		}
	}

	r.p.recordInteraction(&state.Interaction{
		AgentID:   agent,
		SessionID: r.sess.ID,
		Type:      state.InteractionAgentResponse,
		Content:   output,
		Metadata:  map[string]string{"sessionId": r.sess.ID, "stage": string(stage)},
	})
}

func (r *run) complete() {
	for _, agent := range models.AllAgents {
		if _, err := r.p.registry.Set(agent, models.AgentStatusComplete); err != nil {
			r.logger.Warn("failed to mark agent complete", zap.String("agent", string(agent)), zap.Error(err))
		}
	}
	r.activeAgent = ""

	outputs := r.outputs
	r.emitTerminal(StageEvent{
		Kind:    EventComplete,
		Stage:   models.StageComplete,
		Message: CompletionMessage,
		Stages:  &outputs,
	})
	r.p.metrics.RunFinished("complete")
	r.logger.Info("orchestration complete")
}

func (r *run) fail(stage models.Stage, err error) {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		pe = &PipelineError{Kind: KindStageFailed, Stage: stage, Cause: err}
	}

	if pe.Kind == KindCancelled {
		cause := pe.Cause
		if cause == nil {
			cause = context.Canceled
		}
		reason := "cancelled: " + cause.Error()
		r.failSession(reason)
		r.resetActiveAgent()
		r.p.metrics.RunFinished("cancelled")
		r.logger.Info("orchestration cancelled", zap.String("stage", string(stage)), zap.Error(cause))

		// A disconnected consumer gets nothing; an explicit Cancel is reported.
		if errors.Is(cause, ErrCancelRequested) {
			r.emitTerminal(StageEvent{Kind: EventError, Stage: stage, Message: reason})
		}
		return
	}

	userMessage, details := describeFailure(pe.Cause)
	r.failSession(userMessage)
	r.resetActiveAgent()

	fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(pe.Cause)}
	if llmErr, ok := llm.AsError(pe.Cause); ok {
		fields = append(fields, zap.String("kind", string(llmErr.Kind)))
	}
	r.logger.Error("orchestration failed", fields...)

	r.emitTerminal(StageEvent{
		Kind:    EventError,
		Stage:   stage,
		Message: userMessage,
		Details: details,
	})
	r.p.metrics.RunFinished("failed")
}

func (r *run) failSession(msg string) {
	err := r.p.store.FailOrchestrationSession(r.sess.ID, msg)
	if err != nil && !errors.Is(err, state.ErrStageConflict) {
		r.logger.Error("failed to mark session failed", zap.Error(err))
	}
}

func (r *run) resetActiveAgent() {
	if r.activeAgent == "" {
		return
	}
	if _, err := r.p.registry.Set(r.activeAgent, models.AgentStatusIdle); err != nil {
		r.logger.Warn("failed to reset agent", zap.String("agent", string(r.activeAgent)), zap.Error(err))
	}
	r.activeAgent = ""
}

// describeFailure returns the user-facing message and diagnostic for err.
func describeFailure(err error) (string, string) {
	if llmErr, ok := llm.AsError(err); ok {
		msg := llmErr.UserMessage
		if msg == "" {
			msg = GenericFailureMessage
		}
		return msg, llmErr.Diagnostic()
	}
	if err == nil {
		return GenericFailureMessage, ""
	}
	return GenericFailureMessage, err.Error()
}

func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
