package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// InteractionType categorizes an interaction.
type InteractionType string

const (
	InteractionTextInput     InteractionType = "text_input"
	InteractionAgentResponse InteractionType = "agent_response"
	InteractionSystemEvent   InteractionType = "system_event"
	InteractionToolUse       InteractionType = "tool_use"
)

// Valid returns true if the interaction type is a known value.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionTextInput, InteractionAgentResponse, InteractionSystemEvent, InteractionToolUse:
		return true
	default:
		return false
	}
}

// Interaction is one message exchanged with an agent.
type Interaction struct {
	ID        string            `json:"id"`
	AgentID   models.AgentID    `json:"agentId"`
	SessionID string            `json:"sessionId,omitempty"`
	Type      InteractionType   `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"timestamp"`
}

// AddInteraction stores an interaction, filling in ID and CreatedAt when unset.
func (db *DB) AddInteraction(i *Interaction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	metadata := i.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal interaction metadata: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO interactions (id, agent_id, session_id, type, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, i.ID, string(i.AgentID), nullString(i.SessionID), string(i.Type), i.Content,
		string(metaJSON), formatTime(i.CreatedAt))
	if err != nil {
		return fmt.Errorf("add interaction: %w", err)
	}
	return nil
}

// ListInteractions returns an agent's interactions, newest first.
func (db *DB) ListInteractions(agentID models.AgentID, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := db.Query(`
		SELECT id, agent_id, session_id, type, content, metadata, created_at
		FROM interactions WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, string(agentID), limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var interactions []Interaction
	for rows.Next() {
		var i Interaction
		var sessionID sql.NullString
		var metadata, createdAt string
		if err := rows.Scan(&i.ID, &i.AgentID, &sessionID, &i.Type, &i.Content, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		i.SessionID = sessionID.String
		if err := json.Unmarshal([]byte(metadata), &i.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal interaction metadata: %w", err)
		}
		i.CreatedAt, _ = parseTime(createdAt)
		interactions = append(interactions, i)
	}
	return interactions, rows.Err()
}
