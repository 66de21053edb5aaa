package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ShayCichocki/queenflow/internal/llm"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a Notifier that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Notify(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

// countingCompleter wraps a completer and counts calls.
type countingCompleter struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int, prompt string) (string, error)
}

func (c *countingCompleter) Complete(ctx context.Context, prompt string, _ ...llm.CompleteOption) (string, error) {
	n := int(c.calls.Add(1))
	return c.fn(ctx, n, prompt)
}

type fixture struct {
	db       *state.DB
	pipeline *Pipeline
	registry *AgentRegistry
	notes    *recorder
}

func openTestDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "queenflow.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newFixture(t *testing.T, completer llm.Completer, opts ...Option) *fixture {
	t.Helper()
	db := openTestDB(t)

	notes := &recorder{}
	registry := NewAgentRegistry(notes, db)
	opts = append([]Option{WithRegistry(registry), WithNotifier(notes)}, opts...)
	p, err := NewPipeline(RequiredConfig{Store: db, LLM: completer}, opts...)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return &fixture{db: db, pipeline: p, registry: registry, notes: notes}
}

func collect(t *testing.T, events <-chan StageEvent) []StageEvent {
	t.Helper()
	var out []StageEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
			return out
		}
	}
}

func getSession(t *testing.T, db *state.DB, id string) *state.OrchestrationSession {
	t.Helper()
	sess, err := db.GetOrchestrationSession(id)
	if err != nil {
		t.Fatalf("GetOrchestrationSession(%s) failed: %v", id, err)
	}
	return sess
}

func agentStatus(t *testing.T, r *AgentRegistry, id models.AgentID) models.AgentStatus {
	t.Helper()
	rec, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return rec.Status
}

func TestPipeline_MockDeployToProduction(t *testing.T) {
	f := newFixture(t, llm.NewMockResponder(0, nil))
	ctx := context.Background()

	id, events, err := f.pipeline.Orchestrate(ctx, "Deploy to production")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	got := collect(t, events)

	if len(got) != 7 {
		t.Fatalf("got %d events, want 7", len(got))
	}
	wantKinds := []EventKind{EventStatus, EventResponse, EventStatus, EventResponse, EventStatus, EventResponse, EventComplete}
	wantAgents := []models.AgentID{models.AgentQueen, models.AgentQueen, models.AgentResearch, models.AgentResearch,
		models.AgentImplementation, models.AgentImplementation, ""}
	for i, ev := range got {
		if ev.Kind != wantKinds[i] || ev.Agent != wantAgents[i] {
			t.Errorf("event %d = %s/%s, want %s/%s", i, ev.Kind, ev.Agent, wantKinds[i], wantAgents[i])
		}
		if ev.SessionID != id {
			t.Errorf("event %d SessionID = %q, want %q", i, ev.SessionID, id)
		}
	}

	final := got[6]
	if final.Stages == nil {
		t.Fatal("complete event has no stage outputs")
	}
	if final.Stages.Analysis != got[1].Content || final.Stages.Research != got[3].Content ||
		final.Stages.Implementation != got[5].Content {
		t.Errorf("stage outputs %+v do not match the responses", *final.Stages)
	}
	if final.Stages.Analysis != llm.MockQueenResponse {
		t.Errorf("analysis = %q", final.Stages.Analysis)
	}
	if final.Stages.Research != llm.MockResearchResponse {
		t.Errorf("research = %q", final.Stages.Research)
	}
	if final.Stages.Implementation != llm.MockImplementationResponse {
		t.Errorf("implementation = %q", final.Stages.Implementation)
	}
	if final.Message != CompletionMessage {
		t.Errorf("Message = %q", final.Message)
	}

	sess := getSession(t, f.db, id)
	if sess.Stage != models.StageComplete {
		t.Errorf("session stage = %s, want complete", sess.Stage)
	}
	if sess.ImplementationOutput != final.Stages.Implementation {
		t.Error("stored implementation output differs from the event")
	}
	if sess.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	for _, rec := range f.registry.List() {
		if rec.Status != models.AgentStatusComplete {
			t.Errorf("agent %s status = %s, want complete", rec.AgentID, rec.Status)
		}
	}

	mems, err := f.db.ListMemories(models.AgentImplementation, 10)
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if len(mems) != 1 {
		t.Fatalf("got %d implementation memories, want 1", len(mems))
	}
	if mems[0].Importance != 9 {
		t.Errorf("Importance = %d, want 9", mems[0].Importance)
	}
	if !strings.HasPrefix(mems[0].Content, "Implementation plan: ") {
		t.Errorf("Content = %q", mems[0].Content)
	}

	inputs, err := f.db.ListInteractions(models.AgentQueen, 10)
	if err != nil {
		t.Fatalf("ListInteractions failed: %v", err)
	}
	// text_input and the analysis response
	if len(inputs) != 2 {
		t.Errorf("got %d queen interactions, want 2", len(inputs))
	}
}

func TestPipeline_StatusPrecedesResponse(t *testing.T) {
	f := newFixture(t, llm.NewMockResponder(0, nil))

	_, events, err := f.pipeline.Orchestrate(context.Background(), "Plan a migration")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}

	seenStatus := map[models.Stage]bool{}
	for _, ev := range collect(t, events) {
		switch ev.Kind {
		case EventStatus:
			seenStatus[ev.Stage] = true
		case EventResponse:
			if !seenStatus[ev.Stage] {
				t.Errorf("response for %s before its status", ev.Stage)
			}
		}
	}
}

func TestPipeline_PromptsAccumulateContext(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	c := &countingCompleter{fn: func(_ context.Context, call int, prompt string) (string, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		return []string{"", "ANALYSIS-OUT", "RESEARCH-OUT", "IMPL-OUT"}[call], nil
	}}
	f := newFixture(t, c)

	_, events, err := f.pipeline.Orchestrate(context.Background(), "Build a cache")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	collect(t, events)

	if len(prompts) != 3 {
		t.Fatalf("got %d prompts, want 3", len(prompts))
	}
	tests := []struct {
		prompt  int
		want    string
		present bool
	}{
		{0, `"Build a cache"`, true},
		{1, "ANALYSIS-OUT", true},
		{1, "RESEARCH-OUT", false},
		{2, "ANALYSIS-OUT", true},
		{2, "RESEARCH-OUT", true},
		{2, `"Build a cache"`, true},
	}
	for _, tt := range tests {
		if got := strings.Contains(prompts[tt.prompt], tt.want); got != tt.present {
			t.Errorf("prompt %d contains %q = %v, want %v", tt.prompt, tt.want, got, tt.present)
		}
	}
}

func TestPipeline_RateLimitAtResearch(t *testing.T) {
	c := &countingCompleter{fn: func(_ context.Context, call int, _ string) (string, error) {
		if call == 2 {
			return "", llm.Classify(429, `{"error":{"message":"slow down"}}`, errors.New("429 Too Many Requests"))
		}
		return "ok", nil
	}}
	f := newFixture(t, c)

	id, events, err := f.pipeline.Orchestrate(context.Background(), "Deploy to production")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	got := collect(t, events)

	if len(got) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(got), got)
	}
	wantKinds := []EventKind{EventStatus, EventResponse, EventStatus, EventError}
	for i, ev := range got {
		if ev.Kind != wantKinds[i] {
			t.Errorf("event %d kind = %s, want %s", i, ev.Kind, wantKinds[i])
		}
	}
	if got[2].Agent != models.AgentResearch {
		t.Errorf("third event agent = %s, want research", got[2].Agent)
	}
	if !strings.Contains(got[3].Message, "Too many requests") {
		t.Errorf("error message = %q", got[3].Message)
	}
	if !strings.Contains(got[3].Details, "429") {
		t.Errorf("error details = %q", got[3].Details)
	}
	if c.calls.Load() != 2 {
		t.Errorf("LLM called %d times, want 2", c.calls.Load())
	}

	sess := getSession(t, f.db, id)
	if sess.Stage != models.StageFailed {
		t.Errorf("session stage = %s, want failed", sess.Stage)
	}
	if sess.Error != got[3].Message {
		t.Errorf("session error = %q, want %q", sess.Error, got[3].Message)
	}
	if sess.AnalysisOutput != "ok" || sess.ResearchOutput != "" {
		t.Errorf("outputs = %q / %q", sess.AnalysisOutput, sess.ResearchOutput)
	}

	if s := agentStatus(t, f.registry, models.AgentResearch); s != models.AgentStatusIdle {
		t.Errorf("research status = %s, want idle", s)
	}
}

func TestPipeline_FailureAtEachStage(t *testing.T) {
	for k := 1; k <= 3; k++ {
		c := &countingCompleter{fn: func(_ context.Context, call int, _ string) (string, error) {
			if call == k {
				return "", llm.Classify(500, "", errors.New("boom"))
			}
			return "fine", nil
		}}
		f := newFixture(t, c)

		id, events, err := f.pipeline.Orchestrate(context.Background(), "anything")
		if err != nil {
			t.Fatalf("stage %d: Orchestrate failed: %v", k, err)
		}
		got := collect(t, events)

		errorsSeen, responses := 0, 0
		for _, ev := range got {
			switch ev.Kind {
			case EventError:
				errorsSeen++
			case EventResponse:
				responses++
			}
		}
		if errorsSeen != 1 {
			t.Errorf("stage %d: %d error events, want 1", k, errorsSeen)
		}
		if responses != k-1 {
			t.Errorf("stage %d: %d responses, want %d", k, responses, k-1)
		}
		if !got[len(got)-1].Terminal() {
			t.Errorf("stage %d: last event is not terminal", k)
		}

		sess := getSession(t, f.db, id)
		if sess.Stage != models.StageFailed || sess.Error == "" {
			t.Errorf("stage %d: session = %s %q", k, sess.Stage, sess.Error)
		}
	}
}

func TestPipeline_ReplayDoesNotCallLLM(t *testing.T) {
	c := &countingCompleter{fn: func(_ context.Context, call int, _ string) (string, error) {
		return "output", nil
	}}
	f := newFixture(t, c)
	ctx := context.Background()

	id, events, err := f.pipeline.Orchestrate(ctx, "Deploy to production")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	got := collect(t, events)
	live := got[len(got)-1]

	first, err := f.pipeline.Replay(ctx, id)
	if err != nil {
		t.Fatalf("first Replay failed: %v", err)
	}
	second, err := f.pipeline.Replay(ctx, id)
	if err != nil {
		t.Fatalf("second Replay failed: %v", err)
	}

	if c.calls.Load() != 3 {
		t.Errorf("LLM called %d times, want 3", c.calls.Load())
	}
	if first.Kind != EventComplete {
		t.Errorf("replay kind = %s, want complete", first.Kind)
	}
	if *live.Stages != *first.Stages || *first.Stages != *second.Stages {
		t.Errorf("replayed stages differ: live %+v, first %+v, second %+v", *live.Stages, *first.Stages, *second.Stages)
	}

	if _, err := f.pipeline.Run(ctx, id); !errors.Is(err, ErrInvalidSessionState) {
		t.Errorf("Run on finished session error = %v, want ErrInvalidSessionState", err)
	}
}

func TestPipeline_ReplayFailedAndUnfinished(t *testing.T) {
	c := &countingCompleter{fn: func(context.Context, int, string) (string, error) {
		return "", llm.Classify(401, "", nil)
	}}
	f := newFixture(t, c)
	ctx := context.Background()

	id, events, err := f.pipeline.Orchestrate(ctx, "x")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	collect(t, events)

	ev, err := f.pipeline.Replay(ctx, id)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if ev.Kind != EventError || !strings.Contains(ev.Message, "API key") {
		t.Errorf("replay = %s %q, want an API key error", ev.Kind, ev.Message)
	}

	fresh, err := f.pipeline.Start(ctx, "y")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err = f.pipeline.Replay(ctx, fresh)
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("Replay of unfinished session error = %v, want *PipelineError", err)
	}
	if pe.Kind != KindInvalidSessionState {
		t.Errorf("Kind = %s, want %s", pe.Kind, KindInvalidSessionState)
	}
}

func TestPipeline_StartValidation(t *testing.T) {
	f := newFixture(t, llm.NewMockResponder(0, nil))

	if _, err := f.pipeline.Start(context.Background(), "   "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Start error = %v, want ErrEmptyPrompt", err)
	}
	if _, err := f.pipeline.Run(context.Background(), "missing"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("Run error = %v, want state.ErrNotFound", err)
	}
	if f.pipeline.Running("missing") {
		t.Error("unknown session reported as running")
	}
}

// blockingCompleter returns only when released or its context ends.
type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
	late    bool
}

func newBlockingCompleter() *blockingCompleter {
	return &blockingCompleter{started: make(chan struct{}, 3), release: make(chan struct{})}
}

func (b *blockingCompleter) Complete(ctx context.Context, _ string, _ ...llm.CompleteOption) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return "released", nil
	case <-ctx.Done():
		if b.late {
			return "late result", nil
		}
		return "", llm.Normalize(ctx.Err())
	}
}

func TestPipeline_SingleWriter(t *testing.T) {
	b := newBlockingCompleter()
	f := newFixture(t, b)
	ctx := context.Background()

	id, err := f.pipeline.Start(ctx, "x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events, err := f.pipeline.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if first := <-events; first.Kind != EventStatus {
		t.Errorf("first event kind = %s, want status", first.Kind)
	}
	<-b.started
	if !f.pipeline.Running(id) {
		t.Error("session should be running")
	}

	_, err = f.pipeline.Run(ctx, id)
	if !errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, ErrInvalidSessionState) {
		t.Errorf("second Run error = %v, want ErrAlreadyRunning wrapping ErrInvalidSessionState", err)
	}

	close(b.release)
	got := collect(t, events)
	if last := got[len(got)-1]; last.Kind != EventComplete {
		t.Errorf("last event kind = %s, want complete", last.Kind)
	}
}

func TestPipeline_CancelReportsError(t *testing.T) {
	b := newBlockingCompleter()
	f := newFixture(t, b)
	ctx := context.Background()

	id, events, err := f.pipeline.Orchestrate(ctx, "x")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	<-events
	<-b.started

	if err := f.pipeline.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	got := collect(t, events)

	if len(got) != 1 {
		t.Fatalf("got %d events after cancel, want 1", len(got))
	}
	if got[0].Kind != EventError || !strings.Contains(got[0].Message, "cancelled") {
		t.Errorf("event = %s %q, want a cancellation error", got[0].Kind, got[0].Message)
	}

	sess := getSession(t, f.db, id)
	if sess.Stage != models.StageFailed {
		t.Errorf("session stage = %s, want failed", sess.Stage)
	}
	if sess.Error != "cancelled: cancelled by request" {
		t.Errorf("session error = %q", sess.Error)
	}

	if err := f.pipeline.Cancel(id); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Cancel error = %v, want ErrNotRunning", err)
	}
}

func TestPipeline_DisconnectDiscardsLateResult(t *testing.T) {
	b := newBlockingCompleter()
	b.late = true
	f := newFixture(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	id, events, err := f.pipeline.Orchestrate(ctx, "x")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	<-events
	<-b.started

	cancel()
	if got := collect(t, events); len(got) != 0 {
		t.Errorf("got %d events after disconnect, want none", len(got))
	}

	deadline := time.Now().Add(time.Second)
	for f.pipeline.Running(id) {
		if time.Now().After(deadline) {
			t.Fatal("run did not finish after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess := getSession(t, f.db, id)
	if sess.Stage != models.StageFailed {
		t.Errorf("session stage = %s, want failed", sess.Stage)
	}
	if !strings.HasPrefix(sess.Error, "cancelled: ") {
		t.Errorf("session error = %q", sess.Error)
	}
	if sess.AnalysisOutput != "" {
		t.Errorf("late result was stored: %q", sess.AnalysisOutput)
	}

	if s := agentStatus(t, f.registry, models.AgentQueen); s != models.AgentStatusIdle {
		t.Errorf("queen status = %s, want idle", s)
	}
}

func TestPipeline_NotifiesBroadcast(t *testing.T) {
	f := newFixture(t, llm.NewMockResponder(0, nil))

	_, events, err := f.pipeline.Orchestrate(context.Background(), "Deploy to production")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	collect(t, events)

	var stageEvents, statusUpdates, memories, interactions int
	for _, msg := range f.notes.messages() {
		switch msg.(type) {
		case StageEvent:
			stageEvents++
		case StatusUpdate:
			statusUpdates++
		case MemoryAdded:
			memories++
		case InteractionAdded:
			interactions++
		}
	}
	if stageEvents != 7 {
		t.Errorf("stage events = %d, want 7", stageEvents)
	}
	// three active, three complete
	if statusUpdates != 6 {
		t.Errorf("status updates = %d, want 6", statusUpdates)
	}
	if memories != 3 {
		t.Errorf("memories = %d, want 3", memories)
	}
	if interactions != 4 {
		t.Errorf("interactions = %d, want 4", interactions)
	}
}

func TestPipeline_FullEmitterDoesNotStallRun(t *testing.T) {
	db := openTestDB(t)
	emitter := NewEventEmitter(1, nil, nil)
	defer emitter.Close()
	p, err := NewPipeline(RequiredConfig{Store: db, LLM: llm.NewMockResponder(0, nil)},
		WithRegistry(NewAgentRegistry(emitter, db)), WithNotifier(emitter))
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	start := time.Now()
	_, events, err := p.Orchestrate(context.Background(), "Deploy to production")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	got := collect(t, events)

	if len(got) != 7 || got[6].Kind != EventComplete {
		t.Fatalf("got %d events ending in %s, want 7 ending in complete", len(got), got[len(got)-1].Kind)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("run with an unread broadcast buffer took %v", elapsed)
	}
	if emitter.DroppedCount() == 0 {
		t.Error("expected broadcast messages to be dropped")
	}
}

// modelRecorder records the model requested for each call.
type modelRecorder struct {
	mu     sync.Mutex
	models []string
}

func (m *modelRecorder) Complete(_ context.Context, _ string, opts ...llm.CompleteOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = append(m.models, llm.RequestedModel(opts...))
	return "ok", nil
}

func TestPipeline_AgentModels(t *testing.T) {
	rec := &modelRecorder{}
	f := newFixture(t, rec, WithAgentModels(map[models.AgentID]string{
		models.AgentResearch:       "research-model",
		models.AgentImplementation: "impl-model",
	}))

	_, events, err := f.pipeline.Orchestrate(context.Background(), "Deploy to production")
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	collect(t, events)

	want := []string{"", "research-model", "impl-model"}
	if len(rec.models) != len(want) {
		t.Fatalf("got %d calls, want %d", len(rec.models), len(want))
	}
	for i := range want {
		if rec.models[i] != want[i] {
			t.Errorf("call %d model = %q, want %q", i, rec.models[i], want[i])
		}
	}
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	if _, err := NewPipeline(RequiredConfig{LLM: llm.NewMockResponder(0, nil)}); err == nil {
		t.Error("expected an error without a store")
	}
	if _, err := NewPipeline(RequiredConfig{Store: &state.DB{}}); err == nil {
		t.Error("expected an error without a completer")
	}
}
