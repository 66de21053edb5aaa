package state

import (
	"fmt"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// SaveAgentStatus upserts the status of one agent.
func (db *DB) SaveAgentStatus(rec models.AgentStatusRecord) error {
	_, err := db.Exec(`
		INSERT INTO agent_statuses (agent_id, status, last_activity_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			last_activity_at = excluded.last_activity_at
	`, string(rec.AgentID), string(rec.Status), formatTime(rec.LastActivityAt))
	if err != nil {
		return fmt.Errorf("save agent status %s: %w", rec.AgentID, err)
	}
	return nil
}

// ListAgentStatuses returns the persisted agent statuses in pipeline order.
func (db *DB) ListAgentStatuses() ([]models.AgentStatusRecord, error) {
	rows, err := db.Query(`
		SELECT agent_id, status, last_activity_at FROM agent_statuses
		ORDER BY CASE agent_id WHEN 'queen' THEN 0 WHEN 'research' THEN 1 ELSE 2 END
	`)
	if err != nil {
		return nil, fmt.Errorf("list agent statuses: %w", err)
	}
	defer rows.Close()

	var records []models.AgentStatusRecord
	for rows.Next() {
		var rec models.AgentStatusRecord
		var lastActivity string
		if err := rows.Scan(&rec.AgentID, &rec.Status, &lastActivity); err != nil {
			return nil, fmt.Errorf("scan agent status: %w", err)
		}
		rec.LastActivityAt, _ = parseTime(lastActivity)
		records = append(records, rec)
	}
	return records, rows.Err()
}
