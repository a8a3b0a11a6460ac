package flow

import (
	"testing"

	"github.com/kindpath/sfbtcoach/internal/models"
)

func TestNextStage_Advances(t *testing.T) {
	cases := []struct {
		current models.Stage
		want    models.Stage
	}{
		{models.StageGoalSetting, models.StageExceptionExploration},
		{models.StageExceptionExploration, models.StageScalingQuestion},
		{models.StageScalingQuestion, models.StageMiracleQuestion},
		{models.StageMiracleQuestion, models.StageActionPlanning},
	}
	for _, c := range cases {
		if got := NextStage(c.current); got != c.want {
			t.Errorf("NextStage(%s) = %s, want %s", c.current, got, c.want)
		}
	}
}

func TestNextStage_ClampsAtTerminal(t *testing.T) {
	if got := NextStage(models.StageActionPlanning); got != models.StageActionPlanning {
		t.Errorf("terminal stage must not advance, got %s", got)
	}
}

func TestNextStage_UnknownResets(t *testing.T) {
	if got := NextStage("不存在的阶段"); got != models.StageGoalSetting {
		t.Errorf("unknown stage must reset to first, got %s", got)
	}
	if got := NextStage(""); got != models.StageGoalSetting {
		t.Errorf("empty stage must reset to first, got %s", got)
	}
}
