package state

import (
	"testing"
	"time"

	"github.com/ShayCichocki/queenflow/pkg/models"
)

func TestAgentStatuses(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now().UTC()
	records := []models.AgentStatusRecord{
		{AgentID: models.AgentImplementation, Status: models.AgentStatusIdle, LastActivityAt: now},
		{AgentID: models.AgentQueen, Status: models.AgentStatusAnalyzing, LastActivityAt: now},
		{AgentID: models.AgentResearch, Status: models.AgentStatusIdle, LastActivityAt: now},
	}
	for _, rec := range records {
		if err := db.SaveAgentStatus(rec); err != nil {
			t.Fatalf("SaveAgentStatus failed: %v", err)
		}
	}

	// Upsert
	if err := db.SaveAgentStatus(models.AgentStatusRecord{
		AgentID: models.AgentQueen, Status: models.AgentStatusComplete, LastActivityAt: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("SaveAgentStatus upsert failed: %v", err)
	}

	got, err := db.ListAgentStatuses()
	if err != nil {
		t.Fatalf("ListAgentStatuses failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].AgentID != models.AgentQueen || got[0].Status != models.AgentStatusComplete {
		t.Errorf("first record = %+v, want queen complete", got[0])
	}
	if got[2].AgentID != models.AgentImplementation {
		t.Errorf("records not in pipeline order: %+v", got)
	}
}

func TestSaveAgentStatus_RejectsIllegal(t *testing.T) {
	db := setupTestDB(t)
	err := db.SaveAgentStatus(models.AgentStatusRecord{AgentID: "overlord", Status: models.AgentStatusIdle, LastActivityAt: time.Now()})
	if err == nil {
		t.Error("expected CHECK constraint failure for unknown agent")
	}
}

func TestMemories(t *testing.T) {
	db := setupTestDB(t)
	s := createSession(t, db, "x")

	low := &Memory{AgentID: models.AgentQueen, SessionID: s.ID, Type: MemoryTask, Content: "low", Importance: 3}
	high := &Memory{AgentID: models.AgentQueen, SessionID: s.ID, Type: MemoryInsight, Content: "high", Importance: 9,
		Tags: []string{"implementation", "plan"}}
	other := &Memory{AgentID: models.AgentResearch, Type: MemoryTask, Content: "other"}

	for _, m := range []*Memory{low, high, other} {
		if err := db.AddMemory(m); err != nil {
			t.Fatalf("AddMemory failed: %v", err)
		}
		if m.ID == "" {
			t.Error("AddMemory should assign an ID")
		}
	}

	got, err := db.ListMemories(models.AgentQueen, 10)
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d memories, want 2", len(got))
	}
	if got[0].Content != "high" {
		t.Errorf("most important memory should come first, got %q", got[0].Content)
	}
	if len(got[0].Tags) != 2 || got[0].Tags[1] != "plan" {
		t.Errorf("Tags = %v", got[0].Tags)
	}
	if got[0].SessionID != s.ID {
		t.Errorf("SessionID = %q", got[0].SessionID)
	}

	research, _ := db.ListMemories(models.AgentResearch, 10)
	if len(research) != 1 || research[0].Importance != 5 || research[0].SessionID != "" {
		t.Errorf("research memories = %+v", research)
	}
}

func TestInteractions(t *testing.T) {
	db := setupTestDB(t)
	s := createSession(t, db, "x")

	first := &Interaction{AgentID: models.AgentQueen, SessionID: s.ID, Type: InteractionTextInput, Content: "hello",
		Metadata: map[string]string{"orchestration": "true"}, CreatedAt: time.Now().Add(-time.Minute)}
	second := &Interaction{AgentID: models.AgentQueen, SessionID: s.ID, Type: InteractionAgentResponse, Content: "hi"}

	for _, i := range []*Interaction{first, second} {
		if err := db.AddInteraction(i); err != nil {
			t.Fatalf("AddInteraction failed: %v", err)
		}
	}

	got, err := db.ListInteractions(models.AgentQueen, 0)
	if err != nil {
		t.Fatalf("ListInteractions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d interactions, want 2", len(got))
	}
	if got[0].Type != InteractionAgentResponse {
		t.Errorf("newest interaction should come first, got %s", got[0].Type)
	}
	if got[1].Metadata["orchestration"] != "true" {
		t.Errorf("Metadata = %v", got[1].Metadata)
	}
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)

	s := createSession(t, db, "x")
	createSession(t, db, "y")
	if err := db.FailOrchestrationSession(s.ID, "x"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := db.SaveAgentStatus(models.AgentStatusRecord{AgentID: models.AgentQueen, Status: models.AgentStatusIdle, LastActivityAt: time.Now()}); err != nil {
		t.Fatalf("save status: %v", err)
	}
	if err := db.AddMemory(&Memory{AgentID: models.AgentQueen, Type: MemoryTask, Content: "m"}); err != nil {
		t.Fatalf("add memory: %v", err)
	}
	if err := db.AddInteraction(&Interaction{AgentID: models.AgentQueen, Type: InteractionTextInput, Content: "i"}); err != nil {
		t.Fatalf("add interaction: %v", err)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", stats.TotalSessions)
	}
	if stats.SessionsByStage[models.StageFailed] != 1 {
		t.Errorf("SessionsByStage = %v", stats.SessionsByStage)
	}
	if stats.AgentsByStatus[models.AgentStatusIdle] != 1 {
		t.Errorf("AgentsByStatus = %v", stats.AgentsByStatus)
	}
	if stats.TotalMemories != 1 || stats.TotalInteractions != 1 {
		t.Errorf("totals = %d memories, %d interactions", stats.TotalMemories, stats.TotalInteractions)
	}
}

func TestMemories_FilterAndSearch(t *testing.T) {
	db := setupTestDB(t)

	memories := []*Memory{
		{AgentID: models.AgentQueen, Type: MemoryTask, Content: "Deploy the API", Importance: 4},
		{AgentID: models.AgentQueen, Type: MemoryInsight, Content: "Latency budget is 100% used", Importance: 8},
		{AgentID: models.AgentQueen, Type: MemoryInsight, Content: "Cache warmup", Tags: []string{"deploy_plan"}},
		{AgentID: models.AgentResearch, Type: MemoryInsight, Content: "Deploy research"},
	}
	for _, m := range memories {
		if err := db.AddMemory(m); err != nil {
			t.Fatalf("AddMemory failed: %v", err)
		}
	}

	insights, err := db.ListMemoriesByType(models.AgentQueen, MemoryInsight, 10)
	if err != nil {
		t.Fatalf("ListMemoriesByType failed: %v", err)
	}
	if len(insights) != 2 {
		t.Fatalf("got %d insights, want 2", len(insights))
	}
	for _, m := range insights {
		if m.Type != MemoryInsight || m.AgentID != models.AgentQueen {
			t.Errorf("unexpected memory %+v", m)
		}
	}

	tests := []struct {
		term string
		want []string
	}{
		{"deploy", []string{"Cache warmup", "Deploy the API"}},
		{"100%", []string{"Latency budget is 100% used"}},
		{"%", []string{"Latency budget is 100% used"}},
		{"_plan", []string{"Cache warmup"}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got, err := db.SearchMemories(models.AgentQueen, tt.term, 10)
			if err != nil {
				t.Fatalf("SearchMemories failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, m := range got {
				if m.Content != tt.want[i] {
					t.Errorf("result %d = %q, want %q", i, m.Content, tt.want[i])
				}
			}
		})
	}
}

func TestAgentStats(t *testing.T) {
	db := setupTestDB(t)

	empty, err := db.AgentStats(models.AgentResearch)
	if err != nil {
		t.Fatalf("AgentStats failed: %v", err)
	}
	if empty.TotalMemories != 0 || empty.TotalInteractions != 0 || empty.AvgMemoryImportance != 0 || empty.LastActivity != nil {
		t.Errorf("empty stats = %+v", empty)
	}

	for _, imp := range []int{4, 8} {
		if err := db.AddMemory(&Memory{AgentID: models.AgentQueen, Type: MemoryTask, Content: "m", Importance: imp}); err != nil {
			t.Fatalf("add memory: %v", err)
		}
	}
	interactionAt := time.Now().UTC().Add(-time.Hour)
	if err := db.AddInteraction(&Interaction{AgentID: models.AgentQueen, Type: InteractionTextInput, Content: "i", CreatedAt: interactionAt}); err != nil {
		t.Fatalf("add interaction: %v", err)
	}

	stats, err := db.AgentStats(models.AgentQueen)
	if err != nil {
		t.Fatalf("AgentStats failed: %v", err)
	}
	if stats.AgentID != models.AgentQueen || stats.TotalMemories != 2 || stats.TotalInteractions != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AvgMemoryImportance != 6 {
		t.Errorf("AvgMemoryImportance = %v, want 6", stats.AvgMemoryImportance)
	}
	if stats.LastActivity == nil || !stats.LastActivity.Equal(interactionAt) {
		t.Errorf("LastActivity = %v, want newest interaction %v", stats.LastActivity, interactionAt)
	}

	statusAt := time.Now().UTC()
	if err := db.SaveAgentStatus(models.AgentStatusRecord{AgentID: models.AgentQueen, Status: models.AgentStatusIdle, LastActivityAt: statusAt}); err != nil {
		t.Fatalf("save status: %v", err)
	}
	stats, err = db.AgentStats(models.AgentQueen)
	if err != nil {
		t.Fatalf("AgentStats failed: %v", err)
	}
	if stats.LastActivity == nil || !stats.LastActivity.Equal(statusAt) {
		t.Errorf("LastActivity = %v, want status time %v", stats.LastActivity, statusAt)
	}
}
