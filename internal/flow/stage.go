// Package flow implements the SFBT dialogue policy: stage progression,
// prompt composition, generation orchestration with bounded retry, and the
// per-turn dialogue flow that ties them together.
package flow

import "github.com/kindpath/sfbtcoach/internal/models"

// NextStage returns the stage following current in the SFBT progression.
// Advancement is one step at a time, clamped at the terminal stage; an
// unknown or missing stage resets to the first stage.
func NextStage(current models.Stage) models.Stage {
	idx := -1
	for i, s := range models.Stages {
		if s == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.Stages[0]
	}
	if idx+1 < len(models.Stages) {
		return models.Stages[idx+1]
	}
	return models.Stages[len(models.Stages)-1]
}
