package models

import "time"

// AgentID identifies one of the fixed orchestration agents.
type AgentID string

const (
	// AgentQueen analyzes the request and leads the orchestration.
	AgentQueen AgentID = "queen"
	// AgentResearch gathers findings for the queen's analysis.
	AgentResearch AgentID = "research"
	// AgentImplementation turns analysis and research into a plan.
	AgentImplementation AgentID = "implementation"
)

// AllAgents lists the fixed agents in pipeline order.
var AllAgents = []AgentID{AgentQueen, AgentResearch, AgentImplementation}

// Valid returns true if the agent ID is one of the fixed agents.
func (a AgentID) Valid() bool {
	switch a {
	case AgentQueen, AgentResearch, AgentImplementation:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-readable agent name used in prompts and UIs.
func (a AgentID) DisplayName() string {
	switch a {
	case AgentQueen:
		return "Queen Agent"
	case AgentResearch:
		return "Research Agent"
	case AgentImplementation:
		return "Implementation Agent"
	default:
		return string(a)
	}
}

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is waiting for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusAnalyzing indicates the queen is analyzing a request.
	AgentStatusAnalyzing AgentStatus = "analyzing"
	// AgentStatusResearching indicates the research agent is working.
	AgentStatusResearching AgentStatus = "researching"
	// AgentStatusImplementing indicates the implementation agent is working.
	AgentStatusImplementing AgentStatus = "implementing"
	// AgentStatusResponding indicates the queen is answering directly.
	AgentStatusResponding AgentStatus = "responding"
	// AgentStatusComplete indicates the agent finished its part of a run.
	AgentStatusComplete AgentStatus = "complete"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusAnalyzing, AgentStatusResearching,
		AgentStatusImplementing, AgentStatusResponding, AgentStatusComplete:
		return true
	default:
		return false
	}
}

// legalStatuses is the per-agent subset of statuses an agent may enter.
var legalStatuses = map[AgentID][]AgentStatus{
	AgentQueen:          {AgentStatusIdle, AgentStatusAnalyzing, AgentStatusResponding, AgentStatusComplete},
	AgentResearch:       {AgentStatusIdle, AgentStatusResearching, AgentStatusComplete},
	AgentImplementation: {AgentStatusIdle, AgentStatusImplementing, AgentStatusComplete},
}

// Allows reports whether the agent may enter the given status.
func (a AgentID) Allows(s AgentStatus) bool {
	for _, legal := range legalStatuses[a] {
		if legal == s {
			return true
		}
	}
	return false
}

// ActiveStatus returns the working status an agent enters for its stage.
func (a AgentID) ActiveStatus() AgentStatus {
	switch a {
	case AgentQueen:
		return AgentStatusAnalyzing
	case AgentResearch:
		return AgentStatusResearching
	case AgentImplementation:
		return AgentStatusImplementing
	default:
		return AgentStatusIdle
	}
}

// AgentStatusRecord is the reported status of one fixed agent.
type AgentStatusRecord struct {
	// AgentID is the fixed agent identifier.
	AgentID AgentID `json:"agentId"`
	// Status is the agent's current status.
	Status AgentStatus `json:"status"`
	// LastActivityAt is when the status last changed.
	LastActivityAt time.Time `json:"lastActivityAt"`
}
