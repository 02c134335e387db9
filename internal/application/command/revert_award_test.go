package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

func TestRevertAward_RestoresXPAndPending(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	fwd, err := f.events.Handle(ctx, taskEvent("t1", 7, "streak_7"))
	require.NoError(t, err)

	res, err := f.reverts.Handle(ctx, RevertAwardCommand{UserID: "user-1", Data: fwd.Reversal})
	require.NoError(t, err)
	assert.Equal(t, -74, res.XPReverted)
	assert.Equal(t, 0, res.TotalXP)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, []string{"streak_7"}, res.RemovedPending)

	p, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalXP)
	assert.Equal(t, 0, p.CategoryXP[progress.CategoryPush])
	assert.Empty(t, p.PendingAchievements)

	txs, err := f.store.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1", ReversalOf: "t1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, RevertTokenPrefix+"t1", txs[0].Token)
	assert.Equal(t, "reverse_task_completed", txs[0].Action)

	assert.Contains(t, f.bus.types(), shared.EventReverted)
}

func TestRevertAward_SecondRevertRejected(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	fwd, err := f.events.Handle(ctx, taskEvent("t1", 0, ""))
	require.NoError(t, err)
	cmd := RevertAwardCommand{UserID: "user-1", Data: fwd.Reversal}

	_, err = f.reverts.Handle(ctx, cmd)
	require.NoError(t, err)

	_, err = f.reverts.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrAlreadyReverse)

	p, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalXP)
}

func TestRevertAward_ClaimedAchievementsStayClaimed(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	fwd, err := f.events.Handle(ctx, taskEvent("t1", 7, "streak_7"))
	require.NoError(t, err)
	_, err = f.claims.Handle(ctx, ClaimAchievementCommand{UserID: "user-1", AchievementID: "streak_7"})
	require.NoError(t, err)

	res, err := f.reverts.Handle(ctx, RevertAwardCommand{UserID: "user-1", Data: fwd.Reversal})
	require.NoError(t, err)
	assert.Empty(t, res.RemovedPending)
	assert.Equal(t, 70, res.TotalXP)

	p, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"streak_7"}, p.Achievements)
}

func TestRevertAward_Validation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.reverts.Handle(ctx, RevertAwardCommand{UserID: "user-1"})
	assert.True(t, shared.IsValidation(err))

	_, err = f.reverts.Handle(ctx, RevertAwardCommand{UserID: "user-1", Data: ReversalData{Token: "t1", UserID: "user-2"}})
	assert.True(t, shared.IsValidation(err))
}

func TestRevertAward_UnknownTokenRejected(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.reverts.Handle(ctx, RevertAwardCommand{UserID: "user-1", Data: ReversalData{
		Token:         "never-issued",
		XPDelta:       -5000,
		Category:      progress.CategoryPush,
		CategoryDelta: -5000,
	}})
	assert.ErrorIs(t, err, shared.ErrTransactionAbsent)
	assert.True(t, shared.IsNotFound(err))

	p, err := f.store.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, p.TotalXP)
	assert.Zero(t, p.CategoryXP[progress.CategoryPush])
}

func TestRevertAward_IgnoresClientAmounts(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	fwd, err := f.events.Handle(ctx, taskEvent("t1", 0, ""))
	require.NoError(t, err)
	require.Equal(t, 10, fwd.XPAwarded)

	forged := fwd.Reversal
	forged.XPDelta = -5000
	forged.Category = progress.CategoryLegs
	forged.CategoryDelta = -3000

	res, err := f.reverts.Handle(ctx, RevertAwardCommand{UserID: "user-1", Data: forged})
	require.NoError(t, err)
	assert.Equal(t, -10, res.XPReverted)
	assert.Zero(t, res.TotalXP)

	p, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, p.TotalXP)
	assert.Zero(t, p.CategoryXP[progress.CategoryPush])
	assert.Zero(t, p.CategoryXP[progress.CategoryLegs])

	txs, err := f.store.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1", ReversalOf: "t1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, progress.CategoryPush, txs[0].Category)
	assert.Equal(t, -10, txs[0].Amount)
}
