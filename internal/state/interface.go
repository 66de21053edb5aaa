package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// OrchestrationStore handles orchestration session persistence.
type OrchestrationStore interface {
	CreateOrchestrationSession(s *OrchestrationSession) error
	GetOrchestrationSession(id string) (*OrchestrationSession, error)
	RecordStageOutput(id string, stage models.Stage, output string) error
	FailOrchestrationSession(id, msg string) error
	ListOrchestrationSessions(limit int) ([]OrchestrationSession, error)
	CountSessionsByStage() (map[models.Stage]int, error)
}

// AgentStatusStore persists the last known status of each agent.
type AgentStatusStore interface {
	SaveAgentStatus(rec models.AgentStatusRecord) error
	ListAgentStatuses() ([]models.AgentStatusRecord, error)
}

// MemoryStore handles agent memories.
type MemoryStore interface {
	AddMemory(m *Memory) error
	ListMemories(agentID models.AgentID, limit int) ([]Memory, error)
	ListMemoriesByType(agentID models.AgentID, typ MemoryType, limit int) ([]Memory, error)
	SearchMemories(agentID models.AgentID, term string, limit int) ([]Memory, error)
}

// InteractionStore handles agent interactions.
type InteractionStore interface {
	AddInteraction(i *Interaction) error
	ListInteractions(agentID models.AgentID, limit int) ([]Interaction, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Purger removes old sessions.
type Purger interface {
	PurgeOldSessions(olderThan time.Duration) (int64, error)
}

// StateStore composes every persistence concern queenflow needs, so the
// orchestrator and server can run against any backend.
type StateStore interface {
	io.Closer
	Migrator
	Purger
	OrchestrationStore
	AgentStatusStore
	MemoryStore
	InteractionStore
	Stats() (*Stats, error)
	AgentStats(agentID models.AgentID) (*AgentStats, error)
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore         = (*DB)(nil)
	_ Migrator           = (*DB)(nil)
	_ OrchestrationStore = (*DB)(nil)
	_ AgentStatusStore   = (*DB)(nil)
	_ MemoryStore        = (*DB)(nil)
	_ InteractionStore   = (*DB)(nil)
)
