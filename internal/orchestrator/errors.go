package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

// GenericFailureMessage is shown when a run fails for a reason that has no
// user-facing message of its own.
const GenericFailureMessage = "An unexpected error occurred during multi-agent orchestration."

var (
	// ErrEmptyPrompt is returned when a prompt is empty or whitespace.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrInvalidSessionState is returned when a session cannot be run in its current stage.
	ErrInvalidSessionState = errors.New("invalid session state")
	// ErrAlreadyRunning is returned when a session already has an active run.
	ErrAlreadyRunning = fmt.Errorf("%w: session is already running", ErrInvalidSessionState)
	// ErrNotRunning is returned by Cancel for sessions without an active run.
	ErrNotRunning = errors.New("session is not running")
	// ErrCancelRequested is the cancellation cause recorded by Cancel.
	ErrCancelRequested = errors.New("cancelled by request")
	// ErrUnknownAgent is returned for agent IDs outside the fixed set.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrIllegalStatus is returned when an agent may not enter a status.
	ErrIllegalStatus = errors.New("illegal status for agent")
)

// PipelineErrorKind classifies a PipelineError.
type PipelineErrorKind string

const (
	KindStageFailed         PipelineErrorKind = "stage_failed"
	KindCancelled           PipelineErrorKind = "cancelled"
	KindInvalidSessionState PipelineErrorKind = "invalid_session_state"
)

// PipelineError describes why a run did not complete.
type PipelineError struct {
	Kind  PipelineErrorKind
	Stage models.Stage
	Cause error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}
