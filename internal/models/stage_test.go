package models

import "testing"

func TestStagesOrder(t *testing.T) {
	want := []Stage{
		StageGoalSetting,
		StageExceptionExploration,
		StageScalingQuestion,
		StageMiracleQuestion,
		StageActionPlanning,
	}
	if len(Stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(Stages))
	}
	for i, s := range want {
		if Stages[i] != s {
			t.Errorf("stage %d: expected %s, got %s", i, s, Stages[i])
		}
	}
}

func TestIsValidStage(t *testing.T) {
	for _, s := range Stages {
		if !IsValidStage(s) {
			t.Errorf("%s must be valid", s)
		}
	}
	if IsValidStage("") || IsValidStage("别的阶段") {
		t.Error("unknown stages must be invalid")
	}
}
