package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// MemoryType categorizes a stored memory.
type MemoryType string

const (
	MemoryConversation MemoryType = "conversation"
	MemoryTask         MemoryType = "task"
	MemoryInsight      MemoryType = "insight"
	MemoryError        MemoryType = "error"
)

// Valid returns true if the memory type is a known value.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryConversation, MemoryTask, MemoryInsight, MemoryError:
		return true
	default:
		return false
	}
}

// DefaultImportance is used when a memory is stored without an importance.
const DefaultImportance = 5

// Memory is a short note an agent keeps from a finished stage.
type Memory struct {
	ID         string         `json:"id"`
	AgentID    models.AgentID `json:"agentId"`
	SessionID  string         `json:"sessionId,omitempty"`
	Type       MemoryType     `json:"type"`
	Content    string         `json:"content"`
	Importance int            `json:"importance"`
	Tags       []string       `json:"tags"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// AddMemory stores a memory, filling in ID and CreatedAt when unset.
func (db *DB) AddMemory(m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Importance == 0 {
		m.Importance = DefaultImportance
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal memory tags: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO memories (id, agent_id, session_id, type, content, importance, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, string(m.AgentID), nullString(m.SessionID), string(m.Type), m.Content, m.Importance,
		string(tagsJSON), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

// ListMemories returns an agent's memories, most important and newest first.
func (db *DB) ListMemories(agentID models.AgentID, limit int) ([]Memory, error) {
	return db.queryMemories("list memories", `WHERE agent_id = ?`, limit, string(agentID))
}

// ListMemoriesByType returns an agent's memories of one type, most important
// and newest first.
func (db *DB) ListMemoriesByType(agentID models.AgentID, typ MemoryType, limit int) ([]Memory, error) {
	return db.queryMemories("list memories by type", `WHERE agent_id = ? AND type = ?`, limit, string(agentID), string(typ))
}

// SearchMemories returns an agent's memories whose content or tags contain
// term, case-insensitively for ASCII.
func (db *DB) SearchMemories(agentID models.AgentID, term string, limit int) ([]Memory, error) {
	pattern := "%" + likeEscaper.Replace(term) + "%"
	return db.queryMemories("search memories",
		`WHERE agent_id = ? AND (content LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\')`,
		limit, string(agentID), pattern, pattern)
}

// likeEscaper makes LIKE wildcards in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (db *DB) queryMemories(op, where string, limit int, args ...any) ([]Memory, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := db.Query(`
		SELECT id, agent_id, session_id, type, content, importance, tags, created_at
		FROM memories `+where+`
		ORDER BY importance DESC, created_at DESC LIMIT ?
	`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var m Memory
		var sessionID sql.NullString
		var tags, createdAt string
		if err := rows.Scan(&m.ID, &m.AgentID, &sessionID, &m.Type, &m.Content, &m.Importance, &tags, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.SessionID = sessionID.String
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal memory tags: %w", err)
		}
		m.CreatedAt, _ = parseTime(createdAt)
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// nullString stores empty strings as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
