package orchestrator

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return m
}

func TestStageEvent_WireFormat(t *testing.T) {
	tests := []struct {
		name  string
		event StageEvent
		want  map[string]any
	}{
		{
			name: "status",
			event: StageEvent{
				Kind:      EventStatus,
				Stage:     models.StageAnalysis,
				Agent:     models.AgentQueen,
				Status:    models.AgentStatusAnalyzing,
				Message:   statusMessages[models.AgentQueen],
				SessionID: "s1",
			},
			want: map[string]any{
				"type":      "agent_status",
				"agent":     "queen",
				"status":    "analyzing",
				"stage":     "analysis",
				"message":   "Queen Agent analyzing request and planning orchestration...",
				"sessionId": "s1",
			},
		},
		{
			name:  "response",
			event: StageEvent{Kind: EventResponse, Stage: models.StageResearch, Agent: models.AgentResearch, Content: "findings", SessionID: "s1"},
			want: map[string]any{
				"type":      "agent_response",
				"agent":     "research",
				"content":   "findings",
				"stage":     "research",
				"sessionId": "s1",
			},
		},
		{
			name:  "error",
			event: StageEvent{Kind: EventError, Message: "Too many requests.", Details: "429"},
			want:  map[string]any{"type": "error", "message": "Too many requests.", "details": "429"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decode(t, tt.event); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("wire format = %v, want %v", got, tt.want)
			}
		})
	}

	complete := decode(t, StageEvent{
		Kind:      EventComplete,
		Message:   CompletionMessage,
		SessionID: "s1",
		Stages:    &StageOutputs{Analysis: "a", Research: "r", Implementation: "i"},
	})
	if complete["type"] != "orchestration_complete" {
		t.Errorf("type = %v, want orchestration_complete", complete["type"])
	}
	wantStages := map[string]any{"analysis": "a", "research": "r", "implementation": "i"}
	if !reflect.DeepEqual(complete["stages"], wantStages) {
		t.Errorf("stages = %v, want %v", complete["stages"], wantStages)
	}
}

func TestSingleEvent_WireFormat(t *testing.T) {
	if got, want := decode(t, SingleEvent{Kind: SingleComplete, Content: "hi"}),
		(map[string]any{"type": "complete", "content": "hi"}); !reflect.DeepEqual(got, want) {
		t.Errorf("complete = %v, want %v", got, want)
	}
	if got, want := decode(t, SingleEvent{Kind: SingleError, Content: "bad", Details: "401"}),
		(map[string]any{"type": "error", "content": "bad", "details": "401"}); !reflect.DeepEqual(got, want) {
		t.Errorf("error = %v, want %v", got, want)
	}
}

func TestBroadcastMessages_WireFormat(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	update := decode(t, StatusUpdate{AgentID: models.AgentQueen, Status: models.AgentStatusIdle, Timestamp: at})
	if update["type"] != "agent_status_update" {
		t.Errorf("type = %v", update["type"])
	}
	if update["agentId"] != "queen" {
		t.Errorf("agentId = %v", update["agentId"])
	}
	if update["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("timestamp = %v", update["timestamp"])
	}
}

func TestStageEvent_Terminal(t *testing.T) {
	tests := []struct {
		kind EventKind
		want bool
	}{
		{EventStatus, false},
		{EventResponse, false},
		{EventError, true},
		{EventComplete, true},
	}
	for _, tt := range tests {
		if got := (StageEvent{Kind: tt.kind}).Terminal(); got != tt.want {
			t.Errorf("Terminal() for %s = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestEventEmitter_DropsWhenFull(t *testing.T) {
	drops := 0
	e := NewEventEmitter(1, nil, func() { drops++ })
	defer e.Close()

	e.Emit(StatusUpdate{AgentID: models.AgentQueen})
	e.Emit(StatusUpdate{AgentID: models.AgentResearch})

	if e.DroppedCount() != 1 {
		t.Errorf("DroppedCount = %d, want 1", e.DroppedCount())
	}
	if drops != 1 {
		t.Errorf("onDrop called %d times, want 1", drops)
	}

	got := <-e.Events()
	if id := got.(StatusUpdate).AgentID; id != models.AgentQueen {
		t.Errorf("kept %s, want the first message", id)
	}
}

func TestEventEmitter_NotifyDoesNotWaitOnFullBuffer(t *testing.T) {
	e := NewEventEmitter(1, nil, nil)
	defer e.Close()

	start := time.Now()
	for i := 0; i < 20; i++ {
		e.Notify(StatusUpdate{AgentID: models.AgentQueen})
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("20 notifications against a full buffer took %v", elapsed)
	}
	if e.DroppedCount() != 19 {
		t.Errorf("DroppedCount = %d, want 19", e.DroppedCount())
	}
}

func TestEventEmitter_EmitAfterClose(t *testing.T) {
	e := NewEventEmitter(1, nil, nil)
	e.Close()
	e.Close()
	e.Emit(StatusUpdate{})

	if _, ok := <-e.Events(); ok {
		t.Error("events channel should be closed and empty")
	}
}
