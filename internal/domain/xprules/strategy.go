package xprules

import (
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// STRATEGIES
// One strategy per source. Each receives the forward action only; reversal
// negation is handled by the Calculator.
// ══════════════════════════════════════════════════════════════════════════════

// Breakdown explains how an amount was assembled.
type Breakdown struct {
	Base       int     `json:"base"`
	Streak     int     `json:"streak"`
	Multiplier float64 `json:"multiplier"`
	Macro      int     `json:"macro"`
	Milestone  int     `json:"milestone"`
	Capped     bool    `json:"capped"`
	Total      int     `json:"total"`
}

// Strategy computes the forward magnitude of one source's actions.
type Strategy interface {
	// Source returns the source key the strategy serves.
	Source() string

	// Compute returns the breakdown for a forward action.
	// ok is false when the action is not handled by this strategy.
	Compute(action string, ctx Context) (b Breakdown, ok bool)
}

// streakBonus saturates at StreakMax. The day count is bounded before the
// multiplication so huge streaks cannot overflow.
func streakBonus(rules SourceRules, streak int) int {
	if streak <= 0 || rules.StreakPerDay <= 0 || rules.StreakMax <= 0 {
		return 0
	}
	days := min(streak, (rules.StreakMax+rules.StreakPerDay-1)/rules.StreakPerDay)
	return min(days*rules.StreakPerDay, rules.StreakMax)
}

func milestoneBonus(rules SourceRules, ctx Context) int {
	if ctx.MilestoneHit == "" {
		return 0
	}
	return rules.MilestoneBonus
}

// overCap - превышен ли дневной лимит этим действием.
func overCap(rule ActionRule, dailyCount int) bool {
	return rule.DailyCap > 0 && dailyCount > rule.DailyCap
}

// ─────────────────────────────────────────────────────────────────────────────
// Task
// ─────────────────────────────────────────────────────────────────────────────

type taskStrategy struct {
	rules SourceRules
}

func (s taskStrategy) Source() string { return SourceTask }

func (s taskStrategy) Compute(action string, ctx Context) (Breakdown, bool) {
	rule, ok := s.rules.Actions[action]
	if !ok {
		return Breakdown{}, false
	}

	b := Breakdown{Multiplier: 1}
	if overCap(rule, ctx.DailyCount) {
		b.Capped = true
	} else {
		b.Base = rule.Base
		b.Streak = streakBonus(s.rules, ctx.Streak)
	}

	if m, ok := s.rules.Multipliers[ctx.Difficulty]; ok {
		b.Multiplier = m
	}
	subtotal := int(math.Round(float64(b.Base+b.Streak) * b.Multiplier))

	b.Milestone = milestoneBonus(s.rules, ctx)
	b.Total = subtotal + b.Milestone
	return b, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Nutrition
// ─────────────────────────────────────────────────────────────────────────────

type nutritionStrategy struct {
	rules SourceRules
}

func (s nutritionStrategy) Source() string { return SourceNutrition }

func (s nutritionStrategy) Compute(action string, ctx Context) (Breakdown, bool) {
	rule, ok := s.rules.Actions[action]
	if !ok {
		return Breakdown{}, false
	}

	b := Breakdown{Multiplier: 1}
	if action != ActionMealLogged {
		// Food-database contributions earn the flat base only.
		b.Base = rule.Base
		b.Total = b.Base
		return b, true
	}

	// The streak bonus counts as base for capping purposes.
	if overCap(rule, ctx.DailyCount) {
		b.Capped = true
	} else {
		b.Base = rule.Base
		b.Streak = streakBonus(s.rules, ctx.Streak)
	}

	if s.rules.MacroBonus > 0 && ctx.MacroCompletion >= s.rules.MacroThreshold {
		b.Macro = s.rules.MacroBonus
	}
	b.Milestone = milestoneBonus(s.rules, ctx)
	b.Total = b.Base + b.Streak + b.Macro + b.Milestone
	return b, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Weight
// ─────────────────────────────────────────────────────────────────────────────

type weightStrategy struct {
	rules SourceRules
}

func (s weightStrategy) Source() string { return SourceWeight }

func (s weightStrategy) Compute(action string, ctx Context) (Breakdown, bool) {
	rule, ok := s.rules.Actions[action]
	if !ok {
		return Breakdown{}, false
	}

	b := Breakdown{Multiplier: 1}
	if overCap(rule, ctx.DailyCount) {
		b.Capped = true
	} else {
		b.Base = rule.Base
		b.Streak = streakBonus(s.rules, ctx.Streak)
	}
	b.Milestone = milestoneBonus(s.rules, ctx)
	b.Total = b.Base + b.Streak + b.Milestone
	return b, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Achievement
// ─────────────────────────────────────────────────────────────────────────────

type achievementStrategy struct {
	rules SourceRules
}

func (s achievementStrategy) Source() string { return SourceAchievement }

func (s achievementStrategy) Compute(action string, ctx Context) (Breakdown, bool) {
	if _, ok := s.rules.Actions[action]; !ok {
		return Breakdown{}, false
	}
	reward := min(max(ctx.XPReward, 0), MaxXPReward)
	return Breakdown{Base: reward, Multiplier: 1, Total: reward}, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Generic
// ─────────────────────────────────────────────────────────────────────────────

// tableStrategy serves sources added through the tuning file only.
// It applies base, daily cap, streak and milestone.
type tableStrategy struct {
	source string
	rules  SourceRules
}

func (s tableStrategy) Source() string { return s.source }

func (s tableStrategy) Compute(action string, ctx Context) (Breakdown, bool) {
	return weightStrategy{rules: s.rules}.Compute(action, ctx)
}
