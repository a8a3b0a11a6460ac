// Package models defines SFBT stage values shared across modules.
package models

// Stage identifies one of the five ordered SFBT counseling stages.
// Stage values are stored verbatim, so they match the counseling corpus
// language rather than being translated identifiers.
type Stage string

const (
	// StageGoalSetting is the first stage: establishing what the child wants to change.
	StageGoalSetting Stage = "目标设定阶段"
	// StageExceptionExploration explores moments when the problem was absent or weaker.
	StageExceptionExploration Stage = "例外探索阶段"
	// StageScalingQuestion asks the child to rate progress on a 0-10 scale.
	StageScalingQuestion Stage = "量表问题阶段"
	// StageMiracleQuestion imagines a sudden positive change to surface goals.
	StageMiracleQuestion Stage = "奇迹问题阶段"
	// StageActionPlanning is the terminal stage: concrete next small steps.
	StageActionPlanning Stage = "行动计划阶段"
)

// Stages lists all SFBT stages in progression order. The last entry is
// terminal: advancement clamps there.
var Stages = []Stage{
	StageGoalSetting,
	StageExceptionExploration,
	StageScalingQuestion,
	StageMiracleQuestion,
	StageActionPlanning,
}

// IsValidStage reports whether s is one of the five known stages.
func IsValidStage(s Stage) bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}
