package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/ShayCichocki/queenflow/internal/state"
	"github.com/ShayCichocki/queenflow/pkg/models"
)

// EventKind is the kind of a pipeline stage event.
type EventKind string

const (
	// EventStatus reports that an agent started working on a stage.
	EventStatus EventKind = "status"
	// EventResponse carries a stage's full LLM output.
	EventResponse EventKind = "response"
	// EventError is the terminal event of a failed or cancelled run.
	EventError EventKind = "error"
	// EventComplete is the terminal event of a successful run.
	EventComplete EventKind = "complete"
)

// Wire type names as seen by stream consumers.
const (
	WireAgentStatus           = "agent_status"
	WireAgentResponse         = "agent_response"
	WireOrchestrationComplete = "orchestration_complete"
	WireError                 = "error"
	WireChunk                 = "chunk"
	WireComplete              = "complete"
	WireAgentStatusUpdate     = "agent_status_update"
	WireMemoryAdded           = "memory_added"
	WireInteractionAdded      = "interaction_added"
)

// CompletionMessage is the message carried by every orchestration_complete event.
const CompletionMessage = "Multi-agent orchestration completed successfully."

// StageOutputs holds the three stage results of a finished run.
type StageOutputs struct {
	Analysis       string `json:"analysis"`
	Research       string `json:"research"`
	Implementation string `json:"implementation"`
}

// StageEvent is one transient state transition of a pipeline run.
type StageEvent struct {
	Kind      EventKind
	Stage     models.Stage
	Agent     models.AgentID
	Status    models.AgentStatus
	Content   string
	Message   string
	Details   string
	SessionID string
	Stages    *StageOutputs
	Timestamp time.Time
}

// Terminal reports whether e ends its run.
func (e StageEvent) Terminal() bool {
	return e.Kind == EventError || e.Kind == EventComplete
}

// WireType returns the "type" value e is serialized with.
func (e StageEvent) WireType() string {
	switch e.Kind {
	case EventStatus:
		return WireAgentStatus
	case EventResponse:
		return WireAgentResponse
	case EventComplete:
		return WireOrchestrationComplete
	default:
		return WireError
	}
}

// wireEvent is the JSON shape shared by every stream event.
type wireEvent struct {
	Type      string        `json:"type"`
	Agent     string        `json:"agent,omitempty"`
	Status    string        `json:"status,omitempty"`
	Stage     string        `json:"stage,omitempty"`
	Content   string        `json:"content,omitempty"`
	Message   string        `json:"message,omitempty"`
	Details   string        `json:"details,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Stages    *StageOutputs `json:"stages,omitempty"`
}

// MarshalJSON encodes e in its stream wire format.
func (e StageEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.WireType()}
	switch e.Kind {
	case EventStatus:
		w.Agent = string(e.Agent)
		w.Status = string(e.Status)
		w.Stage = string(e.Stage)
		w.Message = e.Message
		w.SessionID = e.SessionID
	case EventResponse:
		w.Agent = string(e.Agent)
		w.Content = e.Content
		w.Stage = string(e.Stage)
		w.SessionID = e.SessionID
	case EventComplete:
		w.Message = e.Message
		w.SessionID = e.SessionID
		w.Stages = e.Stages
	default:
		w.Message = e.Message
		w.Details = e.Details
		w.SessionID = e.SessionID
	}
	return json.Marshal(w)
}

// statusMessages are shown while each agent works.
var statusMessages = map[models.AgentID]string{
	models.AgentQueen:          "Queen Agent analyzing request and planning orchestration...",
	models.AgentResearch:       "Research Agent conducting comprehensive analysis...",
	models.AgentImplementation: "Implementation Agent creating detailed execution plan...",
}

// SingleEventKind is the kind of a single-agent event.
type SingleEventKind string

const (
	SingleChunk    SingleEventKind = "chunk"
	SingleComplete SingleEventKind = "complete"
	SingleError    SingleEventKind = "error"
)

// SingleEvent is one event of the single-agent path.
type SingleEvent struct {
	Kind    SingleEventKind
	Content string
	Details string
}

// MarshalJSON encodes e as {type, content, details}.
func (e SingleEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Details string `json:"details,omitempty"`
	}{string(e.Kind), e.Content, e.Details})
}

// StatusUpdate is broadcast after every registry write.
type StatusUpdate struct {
	AgentID   models.AgentID
	Status    models.AgentStatus
	Timestamp time.Time
}

// MarshalJSON encodes u as an agent_status_update message.
func (u StatusUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		AgentID   string    `json:"agentId"`
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{WireAgentStatusUpdate, string(u.AgentID), string(u.Status), u.Timestamp})
}

// MemoryAdded is broadcast after a stage stores a memory.
type MemoryAdded struct {
	Memory    state.Memory
	Timestamp time.Time
}

// MarshalJSON encodes m as a memory_added message.
func (m MemoryAdded) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string       `json:"type"`
		AgentID   string       `json:"agentId"`
		Memory    state.Memory `json:"memory"`
		Timestamp time.Time    `json:"timestamp"`
	}{WireMemoryAdded, string(m.Memory.AgentID), m.Memory, m.Timestamp})
}

// InteractionAdded is broadcast after an interaction is recorded.
type InteractionAdded struct {
	Interaction state.Interaction
	Timestamp   time.Time
}

// MarshalJSON encodes i as an interaction_added message.
func (i InteractionAdded) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string            `json:"type"`
		AgentID     string            `json:"agentId"`
		Interaction state.Interaction `json:"interaction"`
		Timestamp   time.Time         `json:"timestamp"`
	}{WireInteractionAdded, string(i.Interaction.AgentID), i.Interaction, i.Timestamp})
}
