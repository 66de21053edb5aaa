package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// DefaultListLimit bounds list queries when the caller passes no limit.
const DefaultListLimit = 50

// OrchestrationSession is the persisted record of one orchestration run.
type OrchestrationSession struct {
	ID                   string       `json:"id"`
	Prompt               string       `json:"prompt"`
	Stage                models.Stage `json:"stage"`
	AnalysisOutput       string       `json:"analysisOutput,omitempty"`
	ResearchOutput       string       `json:"researchOutput,omitempty"`
	ImplementationOutput string       `json:"implementationOutput,omitempty"`
	Error                string       `json:"error,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
	CompletedAt          *time.Time   `json:"completedAt,omitempty"`
}

// NewOrchestrationSession returns an unsaved session at the analysis stage.
func NewOrchestrationSession(prompt string) *OrchestrationSession {
	now := time.Now().UTC()
	return &OrchestrationSession{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Stage:     models.StageAnalysis,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Output returns the stored output for a pipeline stage.
func (s *OrchestrationSession) Output(stage models.Stage) string {
	switch stage {
	case models.StageAnalysis:
		return s.AnalysisOutput
	case models.StageResearch:
		return s.ResearchOutput
	case models.StageImplementation:
		return s.ImplementationOutput
	default:
		return ""
	}
}

// outputColumn maps a pipeline stage to the column it writes.
func outputColumn(stage models.Stage) (string, bool) {
	switch stage {
	case models.StageAnalysis:
		return "analysis_output", true
	case models.StageResearch:
		return "research_output", true
	case models.StageImplementation:
		return "implementation_output", true
	default:
		return "", false
	}
}

const sessionColumns = `id, prompt, stage, analysis_output, research_output, implementation_output,
	error, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*OrchestrationSession, error) {
	var (
		s                                 OrchestrationSession
		analysis, research, impl, errText sql.NullString
		createdAt, updatedAt              string
		completedAt                       sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Prompt, &s.Stage, &analysis, &research, &impl,
		&errText, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	s.AnalysisOutput = analysis.String
	s.ResearchOutput = research.String
	s.ImplementationOutput = impl.String
	s.Error = errText.String
	s.CreatedAt, _ = parseTime(createdAt)
	s.UpdatedAt, _ = parseTime(updatedAt)
	s.CompletedAt = parseNullableTime(completedAt)
	return &s, nil
}

// CreateOrchestrationSession inserts a new session. The session must be at
// the analysis stage with no outputs.
func (db *DB) CreateOrchestrationSession(s *OrchestrationSession) error {
	if s.Stage == "" {
		s.Stage = models.StageAnalysis
	}
	if s.Stage != models.StageAnalysis {
		return fmt.Errorf("create session: %w: new sessions start at %s, got %s", ErrStageConflict, models.StageAnalysis, s.Stage)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.UpdatedAt = s.CreatedAt

	_, err := db.Exec(`
		INSERT INTO orchestration_sessions (id, prompt, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Prompt, string(s.Stage), formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetOrchestrationSession retrieves a session by ID.
// It returns ErrNotFound if the session does not exist.
func (db *DB) GetOrchestrationSession(id string) (*OrchestrationSession, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM orchestration_sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// RecordStageOutput writes the output of stage and advances the session to
// stage.Next(). The write succeeds only while the session is still at stage
// and the output column is empty, so outputs are write-once and in order.
func (db *DB) RecordStageOutput(id string, stage models.Stage, output string) error {
	column, ok := outputColumn(stage)
	if !ok {
		return fmt.Errorf("record %s output: %w: not a pipeline stage", stage, ErrStageConflict)
	}

	next := stage.Next()
	now := formatTime(time.Now())
	var completedAt any
	if next.Terminal() {
		completedAt = now
	}

	result, err := db.Exec(`
		UPDATE orchestration_sessions
		SET `+column+` = ?, stage = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND stage = ? AND `+column+` IS NULL
	`, output, string(next), now, completedAt, id, string(stage))
	if err != nil {
		return fmt.Errorf("record %s output: %w", stage, err)
	}
	return db.checkMutation(result, id, fmt.Sprintf("record %s output", stage))
}

// FailOrchestrationSession moves a non-terminal session to failed with msg.
func (db *DB) FailOrchestrationSession(id, msg string) error {
	now := formatTime(time.Now())
	result, err := db.Exec(`
		UPDATE orchestration_sessions
		SET stage = 'failed', error = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND stage NOT IN ('complete', 'failed')
	`, msg, now, now, id)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return db.checkMutation(result, id, "fail session")
}

// checkMutation turns a zero-row update into ErrNotFound or ErrStageConflict.
func (db *DB) checkMutation(result sql.Result, id, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: get rows affected: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	current, err := db.GetOrchestrationSession(id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: session %s is at %s", op, ErrStageConflict, id, current.Stage)
}

// ListOrchestrationSessions lists the most recent sessions first.
func (db *DB) ListOrchestrationSessions(limit int) ([]OrchestrationSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := db.Query(`
		SELECT `+sessionColumns+`
		FROM orchestration_sessions ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []OrchestrationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ListUnfinishedSessions returns sessions not yet complete or failed, oldest first.
func (db *DB) ListUnfinishedSessions() ([]OrchestrationSession, error) {
	rows, err := db.Query(`
		SELECT ` + sessionColumns + `
		FROM orchestration_sessions WHERE stage NOT IN ('complete', 'failed')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list unfinished sessions: %w", err)
	}
	defer rows.Close()

	var sessions []OrchestrationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// CountSessionsByStage returns the number of sessions in each stage.
func (db *DB) CountSessionsByStage() (map[models.Stage]int, error) {
	rows, err := db.Query(`SELECT stage, COUNT(*) FROM orchestration_sessions GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Stage]int)
	for rows.Next() {
		var stage models.Stage
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("scan session count: %w", err)
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}
