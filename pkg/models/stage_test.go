package models

import "testing"

func TestStage_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		want bool
	}{
		{"analysis to research", StageAnalysis, StageResearch, true},
		{"research to implementation", StageResearch, StageImplementation, true},
		{"implementation to complete", StageImplementation, StageComplete, true},
		{"analysis to failed", StageAnalysis, StageFailed, true},
		{"implementation to failed", StageImplementation, StageFailed, true},
		{"research back to analysis", StageResearch, StageAnalysis, false},
		{"same stage", StageResearch, StageResearch, false},
		{"complete to failed", StageComplete, StageFailed, false},
		{"failed to analysis", StageFailed, StageAnalysis, false},
		{"unknown target", StageAnalysis, Stage("review"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
				t.Errorf("%s.CanAdvanceTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStage_NextAndAgent(t *testing.T) {
	want := []struct {
		stage Stage
		next  Stage
		agent AgentID
	}{
		{StageAnalysis, StageResearch, AgentQueen},
		{StageResearch, StageImplementation, AgentResearch},
		{StageImplementation, StageComplete, AgentImplementation},
	}

	for i, stage := range PipelineStages {
		if stage != want[i].stage {
			t.Fatalf("PipelineStages[%d] = %s, want %s", i, stage, want[i].stage)
		}
		if got := stage.Next(); got != want[i].next {
			t.Errorf("%s.Next() = %s, want %s", stage, got, want[i].next)
		}
		if got := stage.Agent(); got != want[i].agent {
			t.Errorf("%s.Agent() = %s, want %s", stage, got, want[i].agent)
		}
	}

	if got := StageComplete.Next(); got != StageComplete {
		t.Errorf("complete.Next() = %s, want complete", got)
	}
}

func TestStage_Terminal(t *testing.T) {
	for _, s := range []Stage{StageComplete, StageFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range PipelineStages {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
