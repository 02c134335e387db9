package xprules

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultTable())
	require.NoError(t, err)
	return c
}

func TestTask_StreakAndMilestone(t *testing.T) {
	c := defaultCalc(t)

	res := c.Calculate(SourceTask, ActionTaskCompleted, Context{Streak: 7, MilestoneHit: "streak_7"})
	assert.True(t, res.Known)
	assert.Equal(t, 10+14+50, res.Amount)
	assert.Equal(t, 14, res.Breakdown.Streak)
	assert.Equal(t, 50, res.Breakdown.Milestone)
}

func TestTask_StreakCap(t *testing.T) {
	c := defaultCalc(t)

	res := c.Calculate(SourceTask, ActionTaskCompleted, Context{Streak: 40})
	assert.Equal(t, 30, res.Amount)
}

func TestStreakBonus_HugeStreakSaturates(t *testing.T) {
	c := defaultCalc(t)

	cases := map[string]struct {
		source, action string
		ctx            Context
		streak, total  int
	}{
		"task":      {SourceTask, ActionTaskCompleted, Context{Streak: math.MaxInt/2 + 1}, 20, 30},
		"nutrition": {SourceNutrition, ActionMealLogged, Context{Streak: math.MaxInt, DailyCount: 1}, 10, 15},
		"weight":    {SourceWeight, ActionWeightLogged, Context{Streak: math.MaxInt - 1}, 10, 15},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := c.Calculate(tc.source, tc.action, tc.ctx)
			assert.Equal(t, tc.streak, res.Breakdown.Streak)
			assert.Equal(t, tc.total, res.Amount)
		})
	}

	rev := c.Calculate(SourceTask, ReverseAction(ActionTaskCompleted), Context{Streak: math.MaxInt})
	assert.Equal(t, -30, rev.Amount)
}

func TestAchievementReward_Bounded(t *testing.T) {
	c := defaultCalc(t)

	res := c.Calculate(SourceAchievement, ActionAchievementClaimed, Context{XPReward: math.MaxInt})
	assert.Equal(t, MaxXPReward, res.Amount)
}

func TestTask_DifficultyMultiplier(t *testing.T) {
	c := defaultCalc(t)

	hard := c.Calculate(SourceTask, ActionTaskCompleted, Context{Difficulty: DifficultyHard, Streak: 2, MilestoneHit: "m"})
	// (10 + 4) * 1.5 + 50; milestone is outside the multiplier.
	assert.Equal(t, 71, hard.Amount)

	easy := c.Calculate(SourceTask, ActionTaskCompleted, Context{Difficulty: DifficultyEasy})
	assert.Equal(t, 8, easy.Amount)

	unknown := c.Calculate(SourceTask, ActionTaskCompleted, Context{Difficulty: "brutal"})
	assert.Equal(t, 10, unknown.Amount)
}

func TestNutrition_DailyCap(t *testing.T) {
	c := defaultCalc(t)

	total := 0
	amounts := make([]int, 0, 6)
	for i := 1; i <= 6; i++ {
		res := c.Calculate(SourceNutrition, ActionMealLogged, Context{DailyCount: i})
		amounts = append(amounts, res.Amount)
		total += res.Amount
	}
	assert.Equal(t, []int{5, 5, 5, 5, 5, 0}, amounts)
	assert.Equal(t, 25, total)
}

func TestNutrition_BonusesExemptFromCap(t *testing.T) {
	c := defaultCalc(t)

	res := c.Calculate(SourceNutrition, ActionMealLogged, Context{
		DailyCount:      6,
		Streak:          30,
		MacroCompletion: 95,
		MilestoneHit:    "meals_50",
	})
	assert.True(t, res.Breakdown.Capped)
	assert.Equal(t, 0, res.Breakdown.Base)
	assert.Equal(t, 0, res.Breakdown.Streak)
	assert.Equal(t, 10+25, res.Amount)

	under := c.Calculate(SourceNutrition, ActionMealLogged, Context{DailyCount: 2, Streak: 30, MacroCompletion: 89.9})
	assert.Equal(t, 5+10, under.Amount)
}

func TestNutrition_FoodCreated(t *testing.T) {
	c := defaultCalc(t)

	res := c.Calculate(SourceNutrition, ActionFoodCreated, Context{DailyCount: 40, Streak: 5})
	assert.Equal(t, 15, res.Amount)
}

func TestWeight_OncePerDay(t *testing.T) {
	c := defaultCalc(t)

	first := c.Calculate(SourceWeight, ActionWeightLogged, Context{DailyCount: 1, Streak: 3})
	assert.Equal(t, 8, first.Amount)

	second := c.Calculate(SourceWeight, ActionWeightLogged, Context{DailyCount: 2, Streak: 3, MilestoneHit: "goal"})
	assert.Equal(t, 100, second.Amount)
}

func TestAchievementReward(t *testing.T) {
	c := defaultCalc(t)

	res := c.Calculate(SourceAchievement, ActionAchievementClaimed, Context{XPReward: 250})
	assert.Equal(t, 250, res.Amount)
}

func TestReversal_MirrorsForward(t *testing.T) {
	c := defaultCalc(t)

	contexts := []struct {
		source, action string
		ctx            Context
	}{
		{SourceTask, ActionTaskCompleted, Context{Streak: 9, Difficulty: DifficultyHard, MilestoneHit: "x"}},
		{SourceNutrition, ActionMealLogged, Context{DailyCount: 3, MacroCompletion: 92, Streak: 4}},
		{SourceNutrition, ActionMealLogged, Context{DailyCount: 7}},
		{SourceWeight, ActionWeightLogged, Context{DailyCount: 1, Streak: 12}},
		{"sleep", "slept", Context{}},
	}
	for _, tc := range contexts {
		fwd := c.Calculate(tc.source, tc.action, tc.ctx)
		rev := c.Calculate(tc.source, ReverseAction(tc.action), tc.ctx)
		assert.False(t, fwd.Reversal)
		assert.True(t, rev.Reversal)
		assert.Equal(t, -fwd.Amount, rev.Amount, "%s/%s", tc.source, tc.action)
	}
}

func TestUnknownFallsBackToDefault(t *testing.T) {
	c := defaultCalc(t)

	res := c.Calculate("sleep", "slept", Context{Streak: 100})
	assert.False(t, res.Known)
	assert.Equal(t, 5, res.Amount)

	res = c.Calculate(SourceTask, "task_archived", Context{})
	assert.False(t, res.Known)
	assert.Equal(t, 5, res.Amount)
}

func TestDeterministic(t *testing.T) {
	c := defaultCalc(t)
	ctx := Context{Streak: 3, DailyCount: 2, MacroCompletion: 91}

	first := c.Calculate(SourceNutrition, ActionMealLogged, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Calculate(SourceNutrition, ActionMealLogged, ctx))
	}
}

func TestTable_Validate(t *testing.T) {
	table := DefaultTable()
	require.NoError(t, table.Validate())

	bad := DefaultTable()
	bad.Sources[SourceTask].Multipliers[DifficultyHard] = 0
	assert.Error(t, bad.Validate())

	_, err := NewCalculator(Table{DefaultXP: -1})
	assert.Error(t, err)

	rev := Table{Sources: map[string]SourceRules{"x": {Actions: map[string]ActionRule{"reverse_y": {Base: 1}}}}}
	assert.Error(t, rev.Validate())
}

func TestTable_Merge(t *testing.T) {
	override := Table{
		DefaultXP: 3,
		Sources: map[string]SourceRules{
			SourceNutrition: {Actions: map[string]ActionRule{ActionMealLogged: {Base: 6, DailyCap: 3}}},
			"sleep":         {Actions: map[string]ActionRule{"slept": {Base: 4, DailyCap: 1}}},
		},
	}
	merged := DefaultTable().Merge(override)
	require.NoError(t, merged.Validate())

	c, err := NewCalculator(merged)
	require.NoError(t, err)

	assert.Equal(t, 3, c.Calculate("unknown", "x", Context{}).Amount)
	assert.Equal(t, 6, c.Calculate(SourceNutrition, ActionMealLogged, Context{DailyCount: 3}).Amount)
	assert.Equal(t, 0, c.Calculate(SourceNutrition, ActionMealLogged, Context{DailyCount: 4}).Amount)
	assert.Equal(t, 15, c.Calculate(SourceNutrition, ActionFoodCreated, Context{}).Amount)
	assert.Equal(t, 10, c.Calculate(SourceNutrition, ActionMealLogged, Context{DailyCount: 1, Streak: 4}).Amount)
	assert.Equal(t, 4, c.Calculate("sleep", "slept", Context{DailyCount: 1}).Amount)
	assert.True(t, c.HasDailyCap("sleep", "reverse_slept"))

	// The default table is untouched.
	assert.Equal(t, 5, DefaultTable().Sources[SourceNutrition].Actions[ActionMealLogged].Base)
}
