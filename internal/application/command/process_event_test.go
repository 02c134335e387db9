package command

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/memory"
)

func TestProcessEvent_StreakMilestoneMakesAchievementPending(t *testing.T) {
	f := newFixture(t, nil, nil)

	res, err := f.events.Handle(context.Background(), taskEvent("t1", 7, "streak_7"))
	require.NoError(t, err)

	assert.Equal(t, 10+14+50, res.XPAwarded)
	assert.Equal(t, 74, res.TotalXP)
	assert.Equal(t, []string{"streak_7"}, res.NewlyPending)
	require.NotNil(t, res.Category)
	assert.Equal(t, progress.CategoryPush, res.Category.Category)
	assert.Equal(t, 74, res.Category.XP)
	assert.Equal(t, 2, res.Category.Level)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 100-74, res.XPToNextLevel)

	p, err := f.store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 74, p.TotalXP)
	assert.Equal(t, []string{"streak_7"}, p.PendingAchievements)
	assert.Equal(t, 74, p.CategoryXP[progress.CategoryPush])

	txs, err := f.store.FindTransactions(context.Background(), progress.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, 74, txs[0].Amount)
	assert.Equal(t, "t1", txs[0].Token)

	assert.Contains(t, f.bus.types(), shared.EventXPAwarded)
	assert.Contains(t, f.bus.types(), shared.EventAchievementPending)
}

func TestProcessEvent_ThresholdCrossingInSameEvent(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t, "user-1", 950)

	res, err := f.events.Handle(context.Background(), ProcessEventCommand{
		Token: "b1", UserID: "user-1", Source: "bonus", Action: "granted", Timestamp: testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, res.XPAwarded)
	assert.Equal(t, 1050, res.TotalXP)
	assert.Equal(t, []string{"xp_milestone_1000"}, res.NewlyPending)
	assert.Equal(t, 950, res.Reversal.Before.TotalXP)
	assert.Equal(t, []string{"xp_milestone_1000"}, res.Reversal.After.Pending)
}

func TestProcessEvent_LevelUp(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t, "user-1", 350)

	res, err := f.events.Handle(context.Background(), ProcessEventCommand{
		Token: "b1", UserID: "user-1", Source: "bonus", Action: "granted", Timestamp: testNow,
	})
	require.NoError(t, err)

	assert.True(t, res.LeveledUp)
	assert.Equal(t, 3, res.Level)
	assert.Contains(t, f.bus.types(), shared.EventLevelUp)
}

func TestProcessEvent_DailyCapDerivedFromLog(t *testing.T) {
	f := newFixture(t, nil, nil)

	var amounts []int
	for i := 0; i < 6; i++ {
		res, err := f.events.Handle(context.Background(), ProcessEventCommand{
			UserID:    "user-1",
			Source:    xprules.SourceNutrition,
			Action:    xprules.ActionMealLogged,
			Timestamp: testNow.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		amounts = append(amounts, res.XPAwarded)
	}
	assert.Equal(t, []int{5, 5, 5, 5, 5, 0}, amounts)

	// A new calendar day resets the ordinal.
	res, err := f.events.Handle(context.Background(), ProcessEventCommand{
		UserID:    "user-1",
		Source:    xprules.SourceNutrition,
		Action:    xprules.ActionMealLogged,
		Timestamp: testNow.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.XPAwarded)
}

func TestProcessEvent_ReversalByRecomputation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	mealCtx := xprules.Context{Streak: 3, MacroCompletion: 95, DailyCount: 1}

	fwd, err := f.events.Handle(ctx, ProcessEventCommand{
		Token: "m1", UserID: "user-1", Source: xprules.SourceNutrition, Action: xprules.ActionMealLogged,
		Context: mealCtx, Timestamp: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 5+3+10, fwd.XPAwarded)

	rev, err := f.events.Handle(ctx, ProcessEventCommand{
		Token: "m1-undo", UserID: "user-1", Source: xprules.SourceNutrition, Action: "reverse_meal_logged",
		Context: mealCtx, Timestamp: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, -18, rev.XPAwarded)
	assert.Equal(t, 0, rev.TotalXP)
}

func TestProcessEvent_ExactReversal(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.events.Handle(ctx, taskEvent("t1", 7, "streak_7"))
	require.NoError(t, err)

	// The reversal context no longer mirrors the forward one.
	undo := ProcessEventCommand{
		Token: "t1-undo", UserID: "user-1", Source: xprules.SourceTask, Action: "reverse_task_completed",
		Context:   xprules.Context{ReversalOf: "t1"},
		Timestamp: testNow,
	}
	rev, err := f.events.Handle(ctx, undo)
	require.NoError(t, err)
	assert.Equal(t, -74, rev.XPAwarded)
	assert.Equal(t, 0, rev.TotalXP)
	require.NotNil(t, rev.Category)
	assert.Equal(t, 0, rev.Category.XP)

	undo.Token = "t1-undo-again"
	_, err = f.events.Handle(ctx, undo)
	assert.ErrorIs(t, err, shared.ErrAlreadyReverse)
	assert.True(t, shared.IsConflict(err))
}

func TestProcessEvent_ReversalOfMissingOriginalFallsBack(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t, "user-1", 100)

	res, err := f.events.Handle(context.Background(), ProcessEventCommand{
		Token: "x-undo", UserID: "user-1", Source: xprules.SourceTask, Action: "reverse_task_completed",
		Context:   xprules.Context{ReversalOf: "purged-token"},
		Timestamp: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, -10, res.XPAwarded)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, WarningOriginalMissing, res.Warnings[0].Code)
}

func TestProcessEvent_ClampsAtZeroAndStillRecordsTransaction(t *testing.T) {
	f := newFixture(t, nil, nil)

	res, err := f.events.Handle(context.Background(), ProcessEventCommand{
		Token: "r0", UserID: "user-1", Source: xprules.SourceTask, Action: "reverse_task_completed", Timestamp: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.XPAwarded)
	assert.Equal(t, -10, res.Calculated)
	assert.Equal(t, 0, res.TotalXP)

	txs, err := f.store.FindTransactions(context.Background(), progress.TransactionFilter{UserID: "user-1", Token: "r0"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, 0, txs[0].Amount)
}

func TestProcessEvent_UnknownRuleUsesDefault(t *testing.T) {
	f := newFixture(t, nil, nil)

	res, err := f.events.Handle(context.Background(), ProcessEventCommand{
		UserID: "user-1", Source: "sleep", Action: "slept", Timestamp: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.XPAwarded)
	assert.NotEmpty(t, res.Token)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, WarningUnknownRule, res.Warnings[0].Code)
}

func TestProcessEvent_Validation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	cases := map[string]ProcessEventCommand{
		"missing user":     {Source: "task", Action: "task_completed"},
		"missing source":   {UserID: "user-1", Action: "task_completed"},
		"missing action":   {UserID: "user-1", Source: "task"},
		"unknown category": {UserID: "user-1", Source: "task", Action: "task_completed", Context: xprules.Context{Category: "cardio"}},
		"negative streak":  {UserID: "user-1", Source: "task", Action: "task_completed", Context: xprules.Context{Streak: -1}},
		"forward reversal": {UserID: "user-1", Source: "task", Action: "task_completed", Context: xprules.Context{ReversalOf: "t1"}},
		"huge streak":      {UserID: "user-1", Source: "task", Action: "task_completed", Context: xprules.Context{Streak: math.MaxInt/2 + 1}},
		"huge daily count": {UserID: "user-1", Source: "nutrition", Action: "meal_logged", Context: xprules.Context{DailyCount: xprules.MaxDailyCount + 1}},
		"huge macro":       {UserID: "user-1", Source: "nutrition", Action: "meal_logged", Context: xprules.Context{MacroCompletion: 1e12}},
		"huge reward":      {UserID: "user-1", Source: "task", Action: "task_completed", Context: xprules.Context{XPReward: xprules.MaxXPReward + 1}},
		"achievement":      {UserID: "user-1", Source: "achievement", Action: "achievement_claimed", Context: xprules.Context{XPReward: 500}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.events.Handle(ctx, cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), err.Error())
		})
	}

	_, err := f.store.Get(ctx, "user-1")
	assert.True(t, shared.IsNotFound(err), "nothing is persisted on validation failure")
}

func TestProcessEvent_MaxStreakNeverSubtracts(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.events.Handle(ctx, taskEvent("t1", 0, ""))
	require.NoError(t, err)

	res, err := f.events.Handle(ctx, taskEvent("t2", xprules.MaxStreak, ""))
	require.NoError(t, err)
	assert.Equal(t, 30, res.XPAwarded)
	assert.Equal(t, 20, res.Breakdown.Streak)
	assert.Equal(t, 40, res.TotalXP)
}

func TestProcessEvent_ReplayFromResultStore(t *testing.T) {
	f := newFixture(t, nil, &mapResults{})
	ctx := context.Background()

	first, err := f.events.Handle(ctx, taskEvent("t1", 7, "streak_7"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.events.Handle(ctx, taskEvent("t1", 7, "streak_7"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.XPAwarded, second.XPAwarded)
	assert.Equal(t, first.NewlyPending, second.NewlyPending)

	p, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 74, p.TotalXP)
}

func TestProcessEvent_ReplayFromLogWithoutResultStore(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.events.Handle(ctx, taskEvent("t1", 0, ""))
	require.NoError(t, err)

	again, err := f.events.Handle(ctx, taskEvent("t1", 0, ""))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 10, again.XPAwarded)
	assert.Equal(t, 10, again.TotalXP)
}

func TestProcessEvent_RetriesVersionConflicts(t *testing.T) {
	var repo *conflictingRepo
	f := newFixture(t, func(s *memory.Store) progress.Repository {
		repo = &conflictingRepo{Repository: s, remaining: 2}
		return repo
	}, nil)

	res, err := f.events.Handle(context.Background(), taskEvent("t1", 0, ""))
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalXP)
	assert.Equal(t, 3, repo.applies)
}

func TestProcessEvent_GivesUpAfterBoundedAttempts(t *testing.T) {
	var repo *conflictingRepo
	f := newFixture(t, func(s *memory.Store) progress.Repository {
		repo = &conflictingRepo{Repository: s, remaining: -1}
		return repo
	}, nil)
	store := f.store

	_, err := f.events.Handle(context.Background(), taskEvent("t1", 0, ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrTransient)
	assert.Equal(t, DefaultMaxApplyAttempts, repo.applies)

	_, err = store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	txs, _ := store.FindTransactions(context.Background(), progress.TransactionFilter{UserID: "user-1"})
	assert.Empty(t, txs, "no partial state")
}

func TestProcessEvent_PublishFailureIsWarning(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.bus.err = assert.AnError

	res, err := f.events.Handle(context.Background(), taskEvent("t1", 0, ""))
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalXP)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, WarningPublishFailed, res.Warnings[0].Code)
}

func TestProcessEvent_ConcurrentEventsForOneUser(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.events.Handle(ctx, taskEvent("", 0, ""))
			errs <- err
		}()
	}

	ok := 0
	for i := 0; i < n; i++ {
		if err := <-errs; err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, shared.ErrTransient)
		}
	}

	p, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	txs, err := f.store.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, ok*10, p.TotalXP)
	assert.Len(t, txs, ok)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, IdempotencyKey("u", "t"), IdempotencyKey("u", "t"))
	assert.NotEqual(t, IdempotencyKey("u", "t"), IdempotencyKey("u2", "t"))
	assert.NotEqual(t, IdempotencyKey("ab", "c"), IdempotencyKey("a", "bc"))
}
