// Package storetest holds the behaviour every progress.Store must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// Run exercises open against the store contract. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) progress.Store) {
	t.Run("GetOrCreate", func(t *testing.T) { testGetOrCreate(t, open(t)) })
	t.Run("ApplyVersioned", func(t *testing.T) { testApplyVersioned(t, open(t)) })
	t.Run("DuplicateToken", func(t *testing.T) { testDuplicateToken(t, open(t)) })
	t.Run("SingleReversal", func(t *testing.T) { testSingleReversal(t, open(t)) })
	t.Run("FindTransactions", func(t *testing.T) { testFindTransactions(t, open(t)) })
	t.Run("Summaries", func(t *testing.T) { testSummaries(t, open(t)) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, open(t)) })
	t.Run("ConcurrentApply", func(t *testing.T) { testConcurrentApply(t, open(t)) })
}

func award(p *progress.UserProgress, token string, xp int, at time.Time) progress.Mutation {
	return progress.Mutation{
		UserID:          p.UserID,
		ExpectedVersion: p.Version,
		XPDelta:         xp,
		Level:           progress.DefaultCalculator().Global.LevelFor(max(0, p.TotalXP+xp)),
		Category:        progress.CategoryPush,
		CategoryDelta:   xp,
		CategoryLevel:   progress.DefaultCalculator().Category.LevelFor(max(0, p.CategoryXP[progress.CategoryPush]+xp)),
		Transaction: progress.XpTransaction{
			ID:         uuid.NewString(),
			UserID:     p.UserID,
			Token:      token,
			Source:     "task",
			Action:     "task_completed",
			Category:   progress.CategoryPush,
			Amount:     xp,
			OccurredAt: at,
		},
		At: at,
	}
}

func testGetOrCreate(t *testing.T, s progress.Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "user-1")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)

	p, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalXP)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, int64(0), p.Version)
	assert.Len(t, p.CategoryXP, len(progress.AllCategories()))
	assert.Empty(t, p.PendingAchievements)

	again, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, p.Version, again.Version)
	assert.NoError(t, s.Health(ctx))
}

func testApplyVersioned(t *testing.T, s progress.Store) {
	ctx := context.Background()
	p, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	m := award(p, "t1", 150, base)
	m.AddPending = []string{"streak_7"}
	m.UnlockExercise = "diamond_pushup"
	saved, err := s.Apply(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 150, saved.TotalXP)
	assert.Equal(t, 2, saved.Level)
	assert.Equal(t, int64(1), saved.Version)
	assert.Equal(t, []string{"streak_7"}, saved.PendingAchievements)

	got, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, saved.TotalXP, got.TotalXP)
	assert.Equal(t, 150, got.CategoryXP[progress.CategoryPush])
	assert.Equal(t, []string{"diamond_pushup"}, got.CategoryProgress[progress.CategoryPush].UnlockedExercises)
	assert.Equal(t, []string{"streak_7"}, got.PendingAchievements)

	// Stale version.
	_, err = s.Apply(ctx, award(p, "t2", 10, base))
	assert.ErrorIs(t, err, shared.ErrVersionConflict)

	claim := award(got, "claim:streak_7", 70, base.Add(time.Minute))
	claim.AddClaimed = []string{"streak_7"}
	claimed, err := s.Apply(ctx, claim)
	require.NoError(t, err)
	assert.Empty(t, claimed.PendingAchievements)
	assert.Equal(t, []string{"streak_7"}, claimed.Achievements)

	txs, err := s.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, txs, 2, "the conflicting apply left no journal entry")
}

func testDuplicateToken(t *testing.T, s progress.Store) {
	ctx := context.Background()
	p, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	saved, err := s.Apply(ctx, award(p, "t1", 10, base))
	require.NoError(t, err)

	_, err = s.Apply(ctx, award(saved, "t1", 10, base))
	assert.ErrorIs(t, err, shared.ErrDuplicateToken)

	other, err := s.GetOrCreate(ctx, "user-2")
	require.NoError(t, err)
	_, err = s.Apply(ctx, award(other, "t1", 10, base))
	assert.NoError(t, err, "tokens are unique per user")
}

func testSingleReversal(t *testing.T, s progress.Store) {
	ctx := context.Background()
	p, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	p, err = s.Apply(ctx, award(p, "t1", 40, base))
	require.NoError(t, err)

	rev := award(p, "r1", -40, base.Add(time.Minute))
	rev.Transaction.ReversalOf = "t1"
	p, err = s.Apply(ctx, rev)
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalXP)

	again := award(p, "r2", -40, base.Add(2*time.Minute))
	again.Transaction.ReversalOf = "t1"
	_, err = s.Apply(ctx, again)
	assert.ErrorIs(t, err, shared.ErrAlreadyReverse)

	txs, err := s.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1", ReversalOf: "t1"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "r1", txs[0].Token)
}

func testFindTransactions(t *testing.T, s progress.Store) {
	ctx := context.Background()
	p, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	for i, at := range []time.Time{base.Add(2 * time.Hour), base, base.Add(time.Hour)} {
		m := award(p, uuid.NewString(), 10*(i+1), at)
		if i == 2 {
			m.Transaction.Source = "nutrition"
			m.Transaction.Action = "meal_logged"
		}
		p, err = s.Apply(ctx, m)
		require.NoError(t, err)
	}

	all, err := s.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{20, 30, 10}, []int{all[0].Amount, all[1].Amount, all[2].Amount})
	assert.True(t, all[0].OccurredAt.Equal(base))
	assert.Equal(t, progress.CategoryPush, all[0].Category)

	ranged, err := s.FindTransactions(ctx, progress.TransactionFilter{
		UserID: "user-1",
		Range:  shared.TimeRange{From: base, To: base.Add(2 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	nutrition, err := s.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1", Source: "nutrition"})
	require.NoError(t, err)
	require.Len(t, nutrition, 1)
	assert.Equal(t, "meal_logged", nutrition[0].Action)

	limited, err := s.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testSummaries(t *testing.T, s progress.Store) {
	ctx := context.Background()
	days := []progress.XpDailySummary{
		{UserID: "user-1", Date: "2024-03-08", TotalXP: 10, Sources: map[string]int{"task": 10}, Categories: map[progress.Category]int{"push": 10}},
		{UserID: "user-1", Date: "2024-03-09", TotalXP: 20, Sources: map[string]int{"task": 20}, Categories: map[progress.Category]int{}},
	}
	require.NoError(t, s.SaveDailySummaries(ctx, "user-1", days))

	days[1].TotalXP = 25
	days[1].Sources["nutrition"] = 5
	require.NoError(t, s.SaveDailySummaries(ctx, "user-1", days[1:]))

	got, err := s.FindDailySummaries(ctx, "user-1", "", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-03-08", got[0].Date)
	assert.Equal(t, 10, got[0].Categories[progress.CategoryPush])
	assert.Equal(t, 25, got[1].TotalXP)
	assert.Equal(t, 5, got[1].Sources["nutrition"])

	got, err = s.FindDailySummaries(ctx, "user-1", "2024-03-09", "2024-03-31")
	require.NoError(t, err)
	require.Len(t, got, 1)

	n, err := s.PurgeDailySummaries(ctx, "user-1", "2024-03-09")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testPurge(t *testing.T, s progress.Store) {
	ctx := context.Background()
	for _, user := range []string{"user-1", "user-2"} {
		p, err := s.GetOrCreate(ctx, user)
		require.NoError(t, err)
		p, err = s.Apply(ctx, award(p, "old", 10, base.AddDate(0, 0, -40)))
		require.NoError(t, err)
		_, err = s.Apply(ctx, award(p, "new", 10, base))
		require.NoError(t, err)
	}

	cutoff := base.AddDate(0, 0, -30)
	users, err := s.ListUsersWithTransactionsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, users)

	n, err := s.PurgeTransactions(ctx, "user-1", cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	users, err = s.ListUsersWithTransactionsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, users)

	p, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 20, p.TotalXP, "purging detail never changes totals")
}

func testConcurrentApply(t *testing.T, s progress.Store) {
	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p, err := s.Get(ctx, "user-1")
				if !assert.NoError(t, err) {
					return
				}
				_, err = s.Apply(ctx, award(p, uuid.NewString(), 5, base))
				if err == nil {
					return
				}
				if !assert.ErrorIs(t, err, shared.ErrVersionConflict) {
					return
				}
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p, err := s.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, workers*5, p.TotalXP, "no update lost")
	assert.Equal(t, int64(workers), p.Version)
}
