// Package xprules converts a domain activity into a signed XP amount.
//
// Rules are pure: given the same source, action and context they always
// return the same amount. Per-domain behaviour lives in strategies keyed by
// source; tuning comes from a Table that can be loaded from a file.
package xprules

import (
	"strings"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
)

// ReversePrefix marks an action as the reversal of a forward action.
const ReversePrefix = "reverse_"

// Known sources.
const (
	SourceTask        = "task"
	SourceNutrition   = "nutrition"
	SourceWeight      = "weight"
	SourceAchievement = "achievement"
)

// Known forward actions.
const (
	ActionTaskCompleted      = "task_completed"
	ActionMealLogged         = "meal_logged"
	ActionFoodCreated        = "food_created"
	ActionWeightLogged       = "weight_logged"
	ActionAchievementClaimed = "achievement_claimed"
)

// Difficulty tags for task events.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Upper bounds on caller-supplied context values.
const (
	MaxStreak          = 36500
	MaxDailyCount      = 10000
	MaxMacroCompletion = 1000
	MaxXPReward        = 1_000_000
)

// Context carries the domain-specific fields of an event.
type Context struct {
	// Streak is the caller's current streak length in days.
	Streak int `json:"streak,omitempty"`

	// MilestoneHit names a milestone crossed by this event. The caller
	// guarantees it was just crossed.
	MilestoneHit string `json:"milestoneHit,omitempty"`

	// DailyCount is the 1-based ordinal of this action today.
	// Zero means unknown and is treated as the first occurrence.
	DailyCount int `json:"dailyCount,omitempty"`

	// MacroCompletion is the day's macro target completion in percent.
	MacroCompletion float64 `json:"macroCompletion,omitempty"`

	Difficulty string `json:"difficulty,omitempty"`
	Category   string `json:"category,omitempty"`

	// ReversalOf is the token of the forward event being reversed.
	ReversalOf string `json:"reversalOf,omitempty"`

	// XPReward is used by the achievement source.
	XPReward int `json:"xpReward,omitempty"`

	UnlockedExercise string `json:"unlockedExercise,omitempty"`
	Description      string `json:"description,omitempty"`

	// Signals carry streak and completed-count data for achievement checks.
	Signals progress.Signals `json:"signals,omitempty"`
}

// IsReversal reports whether the action reverses a forward action.
func IsReversal(action string) bool {
	return strings.HasPrefix(action, ReversePrefix)
}

// ForwardAction strips the reversal prefix.
func ForwardAction(action string) string {
	return strings.TrimPrefix(action, ReversePrefix)
}

// ReverseAction returns the reversal form of a forward action.
func ReverseAction(action string) string {
	if IsReversal(action) {
		return action
	}
	return ReversePrefix + action
}
