package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// StatusPersister saves agent statuses. *state.DB implements it.
type StatusPersister interface {
	SaveAgentStatus(rec models.AgentStatusRecord) error
}

// statusSnapshot is an immutable view of every agent's status.
type statusSnapshot map[models.AgentID]models.AgentStatusRecord

// AgentRegistry holds the current status of the fixed agents.
// Writes are serialized per agent; reads never lock.
type AgentRegistry struct {
	locks    map[models.AgentID]*sync.Mutex
	snapshot atomic.Pointer[statusSnapshot]

	notifier  Notifier
	persister StatusPersister
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// RegistryOption configures an AgentRegistry.
type RegistryOption func(*AgentRegistry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *AgentRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryMetrics sets the metrics sink for status changes.
func WithRegistryMetrics(m Metrics) RegistryOption {
	return func(r *AgentRegistry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *AgentRegistry) { r.now = now }
}

// NewAgentRegistry creates a registry with every agent idle.
// notifier and persister may be nil.
func NewAgentRegistry(notifier Notifier, persister StatusPersister, opts ...RegistryOption) *AgentRegistry {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	r := &AgentRegistry{
		locks:     make(map[models.AgentID]*sync.Mutex, len(models.AllAgents)),
		notifier:  notifier,
		persister: persister,
		metrics:   nopMetrics{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	seed := make(statusSnapshot, len(models.AllAgents))
	at := r.now().UTC()
	for _, id := range models.AllAgents {
		r.locks[id] = &sync.Mutex{}
		seed[id] = models.AgentStatusRecord{AgentID: id, Status: models.AgentStatusIdle, LastActivityAt: at}
	}
	r.snapshot.Store(&seed)
	return r
}

// Get returns the current status of one agent.
func (r *AgentRegistry) Get(id models.AgentID) (models.AgentStatusRecord, error) {
	rec, ok := (*r.snapshot.Load())[id]
	if !ok {
		return models.AgentStatusRecord{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return rec, nil
}

// List returns every agent's status in pipeline order.
func (r *AgentRegistry) List() []models.AgentStatusRecord {
	snap := *r.snapshot.Load()
	out := make([]models.AgentStatusRecord, 0, len(models.AllAgents))
	for _, id := range models.AllAgents {
		out = append(out, snap[id])
	}
	return out
}

// Set changes an agent's status. The new record is persisted (when a
// persister is configured) and notified before Set returns. The notifier
// is called after the agent's lock is released.
func (r *AgentRegistry) Set(id models.AgentID, status models.AgentStatus) (models.AgentStatusRecord, error) {
	if !id.Valid() {
		return models.AgentStatusRecord{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	if !id.Allows(status) {
		return models.AgentStatusRecord{}, fmt.Errorf("%w: %s cannot be %q", ErrIllegalStatus, id, status)
	}

	lock := r.locks[id]
	lock.Lock()
	rec := models.AgentStatusRecord{AgentID: id, Status: status, LastActivityAt: r.now().UTC()}

	if r.persister != nil {
		if err := r.persister.SaveAgentStatus(rec); err != nil {
			// The in-memory status stays authoritative.
			r.logger.Warn("failed to persist agent status",
				zap.String("agent", string(id)), zap.String("status", string(status)), zap.Error(err))
		}
	}

	// Other agents may be written concurrently under their own locks.
	for {
		old := r.snapshot.Load()
		next := make(statusSnapshot, len(*old))
		for k, v := range *old {
			next[k] = v
		}
		next[id] = rec
		if r.snapshot.CompareAndSwap(old, &next) {
			break
		}
	}
	lock.Unlock()

	r.metrics.AgentStatus(string(id), string(status), allStatusNames)
	r.notifier.Notify(StatusUpdate{AgentID: id, Status: status, Timestamp: rec.LastActivityAt})
	return rec, nil
}

// Reset sets every agent back to idle.
func (r *AgentRegistry) Reset() {
	for _, id := range models.AllAgents {
		if _, err := r.Set(id, models.AgentStatusIdle); err != nil {
			r.logger.Warn("failed to reset agent", zap.String("agent", string(id)), zap.Error(err))
		}
	}
}

var allStatusNames = []string{
	string(models.AgentStatusIdle),
	string(models.AgentStatusAnalyzing),
	string(models.AgentStatusResearching),
	string(models.AgentStatusImplementing),
	string(models.AgentStatusResponding),
	string(models.AgentStatusComplete),
}
