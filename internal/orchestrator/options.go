package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/llm"
	"github.com/ShayCichocki/queenflow/internal/prompts"
	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

// SessionStore is the persistence a pipeline needs.
type SessionStore interface {
	state.OrchestrationStore
	state.MemoryStore
	state.InteractionStore
}

// Renderer renders stage prompts. *prompts.Store and *prompts.Templates implement it.
type Renderer interface {
	Render(kind prompts.Kind, data prompts.Data) (string, error)
}

// Metrics receives pipeline measurements. *metrics.Registry implements it.
type Metrics interface {
	RunStarted()
	RunFinished(result string)
	StageFinished(stage string, d time.Duration)
	EventEmitted(wireType string)
	AgentStatus(agent string, status string, all []string)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted() {}
func (nopMetrics) RunFinished(string) {}
func (nopMetrics) StageFinished(string, time.Duration) {}
func (nopMetrics) EventEmitted(string) {}
func (nopMetrics) AgentStatus(string, string, []string) {}

// RequiredConfig contains the minimal required configuration for a Pipeline.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Store persists sessions, memories and interactions.
	Store SessionStore
	// LLM completes stage prompts.
	LLM llm.Completer
}

// Option configures a Pipeline. Use With* functions to create Options.
type Option func(*pipelineOptions)

// pipelineOptions holds all optional configuration.
type pipelineOptions struct {
	registry    *AgentRegistry
	prompts     Renderer
	notifier    Notifier
	metrics     Metrics
	logger      *zap.Logger
	now         func() time.Time
	agentModels map[models.AgentID]string
}

// WithRegistry sets the agent status registry. Without one the pipeline
// uses a private registry.
func WithRegistry(r *AgentRegistry) Option {
	return func(o *pipelineOptions) { o.registry = r }
}

// WithPrompts sets the prompt renderer. Defaults to the built-in templates.
func WithPrompts(r Renderer) Option {
	return func(o *pipelineOptions) { o.prompts = r }
}

// WithNotifier sets where every stage event and record is broadcast.
func WithNotifier(n Notifier) Option {
	return func(o *pipelineOptions) { o.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *pipelineOptions) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *pipelineOptions) { o.logger = l }
}

// WithNow overrides the clock used for event timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *pipelineOptions) { o.now = now }
}

// WithAgentModels routes each agent's stage to a specific model. Agents
// without an entry use the completer's default.
func WithAgentModels(m map[models.AgentID]string) Option {
	return func(o *pipelineOptions) { o.agentModels = m }
}

func buildOptions(opts []Option) *pipelineOptions {
	o := &pipelineOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.prompts == nil {
		o.prompts = prompts.MustDefault()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.registry == nil {
		o.registry = NewAgentRegistry(o.notifier, nil, WithRegistryLogger(o.logger), WithRegistryMetrics(o.metrics))
	}
	return o
}
