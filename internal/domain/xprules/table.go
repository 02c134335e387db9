package xprules

import (
	"fmt"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TUNING TABLE
// ══════════════════════════════════════════════════════════════════════════════

// Table holds every tunable XP constant. The zero value is not usable;
// start from DefaultTable and override.
type Table struct {
	// DefaultXP is awarded for unknown source/action combinations.
	DefaultXP int `toml:"default_xp" json:"default_xp"`

	Sources map[string]SourceRules `toml:"sources" json:"sources"`
}

// SourceRules are the constants of one domain.
type SourceRules struct {
	Actions map[string]ActionRule `toml:"actions" json:"actions"`

	StreakPerDay int `toml:"streak_per_day" json:"streak_per_day"`
	StreakMax    int `toml:"streak_max" json:"streak_max"`

	MilestoneBonus int `toml:"milestone_bonus" json:"milestone_bonus"`

	MacroBonus     int     `toml:"macro_bonus" json:"macro_bonus"`
	MacroThreshold float64 `toml:"macro_threshold" json:"macro_threshold"`

	// Multipliers maps a difficulty tag to a factor on base+streak.
	Multipliers map[string]float64 `toml:"multipliers" json:"multipliers"`
}

// ActionRule is the base amount and daily cap of one forward action.
type ActionRule struct {
	Base int `toml:"base" json:"base"`

	// DailyCap limits base XP to the first N occurrences per day. 0 disables it.
	DailyCap int `toml:"daily_cap" json:"daily_cap"`
}

// DefaultTable returns the canonical rule set.
func DefaultTable() Table {
	return Table{
		DefaultXP: 5,
		Sources: map[string]SourceRules{
			SourceTask: {
				Actions: map[string]ActionRule{
					ActionTaskCompleted: {Base: 10},
				},
				StreakPerDay:   2,
				StreakMax:      20,
				MilestoneBonus: 50,
				Multipliers: map[string]float64{
					DifficultyEasy:   0.75,
					DifficultyMedium: 1.0,
					DifficultyHard:   1.5,
				},
			},
			SourceNutrition: {
				Actions: map[string]ActionRule{
					ActionMealLogged:  {Base: 5, DailyCap: 5},
					ActionFoodCreated: {Base: 15},
				},
				StreakPerDay:   1,
				StreakMax:      10,
				MilestoneBonus: 25,
				MacroBonus:     10,
				MacroThreshold: 90,
			},
			SourceWeight: {
				Actions: map[string]ActionRule{
					ActionWeightLogged: {Base: 5, DailyCap: 1},
				},
				StreakPerDay:   1,
				StreakMax:      10,
				MilestoneBonus: 100,
			},
			SourceAchievement: {
				Actions: map[string]ActionRule{
					ActionAchievementClaimed: {},
				},
			},
		},
	}
}

// Validate checks that every constant is in range.
func (t Table) Validate() error {
	if t.DefaultXP < 0 {
		return shared.NewDomainError("xprules", "Table.Validate", shared.ErrNegativeValue, "default_xp must be >= 0")
	}
	for source, rules := range t.Sources {
		if rules.StreakPerDay < 0 || rules.StreakMax < 0 {
			return shared.NewDomainError("xprules", "Table.Validate", shared.ErrNegativeValue,
				fmt.Sprintf("%s: streak constants must be >= 0", source))
		}
		if rules.MilestoneBonus < 0 || rules.MacroBonus < 0 {
			return shared.NewDomainError("xprules", "Table.Validate", shared.ErrNegativeValue,
				fmt.Sprintf("%s: bonuses must be >= 0", source))
		}
		for tag, m := range rules.Multipliers {
			if m <= 0 {
				return shared.NewDomainError("xprules", "Table.Validate", shared.ErrValueOutOfRange,
					fmt.Sprintf("%s: multiplier %q must be > 0", source, tag))
			}
		}
		for action, rule := range rules.Actions {
			if IsReversal(action) {
				return shared.NewDomainError("xprules", "Table.Validate", shared.ErrInvalidInput,
					fmt.Sprintf("%s: %q is a reversal action; only forward actions are configured", source, action))
			}
			if rule.Base < 0 || rule.DailyCap < 0 {
				return shared.NewDomainError("xprules", "Table.Validate", shared.ErrNegativeValue,
					fmt.Sprintf("%s.%s: base and daily_cap must be >= 0", source, action))
			}
		}
	}
	return nil
}

// Merge overlays non-zero values of other onto a copy of t.
// Sources and actions present in other replace the matching fields only.
func (t Table) Merge(other Table) Table {
	out := Table{DefaultXP: t.DefaultXP, Sources: make(map[string]SourceRules, len(t.Sources))}
	for k, v := range t.Sources {
		out.Sources[k] = v.clone()
	}
	if other.DefaultXP != 0 {
		out.DefaultXP = other.DefaultXP
	}

	for name, o := range other.Sources {
		cur, ok := out.Sources[name]
		if !ok {
			out.Sources[name] = o.clone()
			continue
		}
		if o.StreakPerDay != 0 {
			cur.StreakPerDay = o.StreakPerDay
		}
		if o.StreakMax != 0 {
			cur.StreakMax = o.StreakMax
		}
		if o.MilestoneBonus != 0 {
			cur.MilestoneBonus = o.MilestoneBonus
		}
		if o.MacroBonus != 0 {
			cur.MacroBonus = o.MacroBonus
		}
		if o.MacroThreshold != 0 {
			cur.MacroThreshold = o.MacroThreshold
		}
		for tag, m := range o.Multipliers {
			cur.Multipliers[tag] = m
		}
		for action, rule := range o.Actions {
			cur.Actions[action] = rule
		}
		out.Sources[name] = cur
	}
	return out
}

func (s SourceRules) clone() SourceRules {
	c := s
	c.Actions = make(map[string]ActionRule, len(s.Actions))
	for k, v := range s.Actions {
		c.Actions[k] = v
	}
	c.Multipliers = make(map[string]float64, len(s.Multipliers))
	for k, v := range s.Multipliers {
		c.Multipliers[k] = v
	}
	return c
}
