package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// Stats summarizes stored state for the stats endpoint.
type Stats struct {
	AgentsByStatus    map[models.AgentStatus]int `json:"agentsByStatus"`
	SessionsByStage   map[models.Stage]int       `json:"sessionsByStage"`
	TotalSessions     int                        `json:"totalSessions"`
	TotalMemories     int                        `json:"totalMemories"`
	TotalInteractions int                        `json:"totalInteractions"`
}

// Stats counts agents, sessions, memories and interactions.
func (db *DB) Stats() (*Stats, error) {
	byStage, err := db.CountSessionsByStage()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		AgentsByStatus:  make(map[models.AgentStatus]int),
		SessionsByStage: byStage,
	}
	for _, n := range byStage {
		stats.TotalSessions += n
	}

	agents, err := db.ListAgentStatuses()
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		stats.AgentsByStatus[a.Status]++
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&stats.TotalMemories); err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM interactions").Scan(&stats.TotalInteractions); err != nil {
		return nil, fmt.Errorf("count interactions: %w", err)
	}
	return stats, nil
}

// AgentStats summarizes one agent's stored records.
type AgentStats struct {
	AgentID             models.AgentID `json:"agentId"`
	TotalInteractions   int            `json:"totalInteractions"`
	TotalMemories       int            `json:"totalMemories"`
	AvgMemoryImportance float64        `json:"avgMemoryImportance"`
	LastActivity        *time.Time     `json:"lastActivity,omitempty"`
}

// AgentStats counts an agent's interactions and memories. LastActivity is
// the persisted status time, or the newest interaction when no status was
// saved, or nil.
func (db *DB) AgentStats(agentID models.AgentID) (*AgentStats, error) {
	stats := &AgentStats{AgentID: agentID}
	id := string(agentID)

	if err := db.QueryRow("SELECT COUNT(*) FROM interactions WHERE agent_id = ?", id).Scan(&stats.TotalInteractions); err != nil {
		return nil, fmt.Errorf("count agent interactions: %w", err)
	}

	var avg sql.NullFloat64
	if err := db.QueryRow("SELECT COUNT(*), AVG(importance) FROM memories WHERE agent_id = ?", id).Scan(&stats.TotalMemories, &avg); err != nil {
		return nil, fmt.Errorf("count agent memories: %w", err)
	}
	stats.AvgMemoryImportance = avg.Float64

	var last sql.NullString
	err := db.QueryRow(`
		SELECT COALESCE(
			(SELECT last_activity_at FROM agent_statuses WHERE agent_id = ?),
			(SELECT MAX(created_at) FROM interactions WHERE agent_id = ?)
		)
	`, id, id).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("agent last activity: %w", err)
	}
	stats.LastActivity = parseNullableTime(last)
	return stats, nil
}
