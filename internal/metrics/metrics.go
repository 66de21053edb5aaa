// Package metrics exposes queenflow's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/queenflow/internal/llm"
)

const namespace = "queenflow"

var (
	_ llm.Observer      = (*Registry)(nil)
	_ llm.UsageObserver = (*Registry)(nil)
)

// Registry owns every queenflow collector. Each server gets its own
// registry so tests never collide on the global default.
type Registry struct {
	reg *prometheus.Registry

	llmCalls       *prometheus.CounterVec
	llmLatency     prometheus.Histogram
	llmTokens      *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runsInFlight   prometheus.Gauge
	stageLatency   *prometheus.HistogramVec
	events         *prometheus.CounterVec
	agentStatus    *prometheus.GaugeVec
	broadcastDrops prometheus.Counter
	wsClients      prometheus.Gauge
}

// New creates a registry with Go runtime and process collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM completions by outcome kind (ok on success).",
		}, []string{"outcome"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM completion latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by the LLM API by direction (input or output).",
		}, []string{"direction"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished orchestration runs by result.",
		}, []string{"result"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Orchestration runs currently executing.",
		}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage including the LLM call.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"stage"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Stream events emitted by wire type.",
		}, []string{"type"}),
		agentStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "status",
			Help:      "1 for the current status of each agent, 0 otherwise.",
		}, []string{"agent", "status"}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Broadcast messages dropped for slow or full subscribers.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.llmCalls, r.llmLatency, r.llmTokens,
		r.runs, r.runsInFlight, r.stageLatency,
		r.events, r.agentStatus,
		r.broadcastDrops, r.wsClients,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveCompletion implements llm.Observer.
func (r *Registry) ObserveCompletion(d time.Duration, err *llm.Error) {
	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)
	}
	r.llmCalls.WithLabelValues(outcome).Inc()
	r.llmLatency.Observe(d.Seconds())
}

// ObserveTokens implements llm.UsageObserver.
func (r *Registry) ObserveTokens(input, output int64) {
	r.llmTokens.WithLabelValues("input").Add(float64(input))
	r.llmTokens.WithLabelValues("output").Add(float64(output))
}

// RunStarted marks a pipeline run as in flight.
func (r *Registry) RunStarted() {
	r.runsInFlight.Inc()
}

// RunFinished records a run result: complete, failed or cancelled.
func (r *Registry) RunFinished(result string) {
	r.runsInFlight.Dec()
	r.runs.WithLabelValues(result).Inc()
}

// StageFinished records how long a stage took.
func (r *Registry) StageFinished(stage string, d time.Duration) {
	r.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// EventEmitted counts one stream event of the given wire type.
func (r *Registry) EventEmitted(wireType string) {
	r.events.WithLabelValues(wireType).Inc()
}

// AgentStatus sets the one-hot status gauge for an agent.
func (r *Registry) AgentStatus(agent string, status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		r.agentStatus.WithLabelValues(agent, s).Set(v)
	}
}

// BroadcastDropped counts a dropped broadcast message.
func (r *Registry) BroadcastDropped() {
	r.broadcastDrops.Inc()
}

// ClientConnected adjusts the WebSocket client gauge by delta.
func (r *Registry) ClientConnected(delta int) {
	r.wsClients.Add(float64(delta))
}
