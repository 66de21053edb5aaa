package models

// Stage is the position of an orchestration session in the pipeline.
type Stage string

const (
	// StageAnalysis is the queen's analysis stage and the initial stage.
	StageAnalysis Stage = "analysis"
	// StageResearch is the research agent's stage.
	StageResearch Stage = "research"
	// StageImplementation is the implementation agent's stage.
	StageImplementation Stage = "implementation"
	// StageSynthesis is kept for stored sessions written by older schemas.
	// The pipeline never enters it.
	StageSynthesis Stage = "synthesis"
	// StageComplete marks a session whose three stages all succeeded.
	StageComplete Stage = "complete"
	// StageFailed marks a session that stopped on an error or cancellation.
	StageFailed Stage = "failed"
)

// Valid returns true if the stage is a known value.
func (s Stage) Valid() bool {
	switch s {
	case StageAnalysis, StageResearch, StageImplementation,
		StageSynthesis, StageComplete, StageFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for stages no transition leaves.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// order ranks stages so that regressions can be detected.
func (s Stage) order() int {
	switch s {
	case StageAnalysis:
		return 0
	case StageResearch:
		return 1
	case StageImplementation:
		return 2
	case StageSynthesis:
		return 3
	case StageComplete:
		return 4
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next is a legal transition.
// Any non-terminal stage may fail; otherwise stages only move forward.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return next.order() > s.order()
}

// Next returns the success transition for a pipeline stage.
// Terminal and unknown stages return themselves.
func (s Stage) Next() Stage {
	switch s {
	case StageAnalysis:
		return StageResearch
	case StageResearch:
		return StageImplementation
	case StageImplementation:
		return StageComplete
	default:
		return s
	}
}

// Agent returns the agent that owns a pipeline stage.
func (s Stage) Agent() AgentID {
	switch s {
	case StageResearch:
		return AgentResearch
	case StageImplementation:
		return AgentImplementation
	default:
		return AgentQueen
	}
}

// PipelineStages lists the stages that make an LLM call, in order.
var PipelineStages = []Stage{StageAnalysis, StageResearch, StageImplementation}
