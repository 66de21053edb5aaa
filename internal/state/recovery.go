package state

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// InterruptedReason is stored on sessions failed by FailInterrupted.
const InterruptedReason = "interrupted: the server stopped before this orchestration finished"

// InterruptedSession contains information about an interrupted session detected on startup.
type InterruptedSession struct {
	SessionID string
	Stage     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecoveryManager handles detection and recovery of interrupted sessions.
type RecoveryManager struct {
	db     *DB
	logger *zap.Logger
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB, logger *zap.Logger) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryManager{db: db, logger: logger}
}

// CheckForInterrupted returns sessions a previous process left in a
// non-terminal stage. Runs do not survive a restart, so every such session
// is interrupted.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedSession, error) {
	sessions, err := rm.db.ListUnfinishedSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var interrupted []InterruptedSession
	for _, s := range sessions {
		interrupted = append(interrupted, InterruptedSession{
			SessionID: s.ID,
			Stage:     string(s.Stage),
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return interrupted, nil
}

// FailInterrupted marks every interrupted session as failed. It must run
// before the server accepts requests. Returns the number of sessions failed.
func (rm *RecoveryManager) FailInterrupted() (int, error) {
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, s := range interrupted {
		err := rm.db.FailOrchestrationSession(s.SessionID, InterruptedReason)
		if errors.Is(err, ErrStageConflict) {
			// Finished between the scan and the update.
			continue
		}
		if err != nil {
			return failed, fmt.Errorf("fail session %s: %w", s.SessionID, err)
		}
		rm.logger.Warn("failed interrupted session",
			zap.String("session_id", s.SessionID),
			zap.String("stage", s.Stage),
		)
		failed++
	}
	return failed, nil
}
