package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/history"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/memory"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/logger"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type mapCache struct {
	mu   sync.Mutex
	m    map[string][]byte
	sets int
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string][]byte{}
	}
	c.m[key] = value
	c.sets++
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

type entry struct {
	token    string
	xp       int
	category progress.Category
	at       time.Time
	pending  []string
	claimed  []string
}

// record applies entries directly to the store.
func record(t *testing.T, store *memory.Store, userID string, entries ...entry) {
	t.Helper()
	ctx := context.Background()
	calc := progress.DefaultCalculator()
	for _, e := range entries {
		p, err := store.GetOrCreate(ctx, userID)
		require.NoError(t, err)
		if e.at.IsZero() {
			e.at = testNow
		}
		m := progress.Mutation{
			UserID:          userID,
			ExpectedVersion: p.Version,
			XPDelta:         e.xp,
			Level:           calc.Global.LevelFor(p.TotalXP + e.xp),
			Category:        e.category,
			CategoryDelta:   e.xp,
			Transaction: progress.XpTransaction{
				ID: e.token, UserID: userID, Token: e.token, Source: "task", Action: "task_completed",
				Category: e.category, Amount: e.xp, OccurredAt: e.at,
			},
			AddPending: e.pending,
			AddClaimed: e.claimed,
			At:         e.at,
		}
		if e.category != "" {
			m.CategoryLevel = calc.Category.LevelFor(p.CategoryXP[e.category] + e.xp)
		}
		_, err = store.Apply(ctx, m)
		require.NoError(t, err)
	}
}

func TestOverview_BuildsStandingAndCaches(t *testing.T) {
	store := memory.New()
	record(t, store, "user-1",
		entry{token: "a", xp: 600, category: progress.CategoryPush, pending: []string{"level_5"}},
	)
	cache := &mapCache{}
	h := NewGetProgressOverviewHandler(store, progress.DefaultCalculator(), cache, logger.Discard())
	ctx := context.Background()

	dto, err := h.Handle(ctx, GetProgressOverviewQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, dto.Cached)
	assert.Equal(t, 600, dto.TotalXP)
	assert.Equal(t, 3, dto.Level)
	assert.Equal(t, 300, dto.XPToNextLevel)
	assert.Equal(t, []string{"level_5"}, dto.Pending)
	assert.Equal(t, []string{}, dto.Claimed)
	require.Len(t, dto.Categories, len(progress.AllCategories()))

	var push CategoryOverviewDTO
	for _, c := range dto.Categories {
		if c.Category == progress.CategoryPush {
			push = c
		}
	}
	assert.Equal(t, 4, push.Level)
	assert.Equal(t, progress.RankBeginner, push.Rank)

	again, err := h.Handle(ctx, GetProgressOverviewQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, dto.TotalXP, again.TotalXP)
	assert.Equal(t, 1, cache.sets)

	// Invalidation makes the next read hit the store.
	record(t, store, "user-1", entry{token: "b", xp: 10})
	require.NoError(t, cache.Delete(ctx, OverviewKey("user-1")))
	fresh, err := h.Handle(ctx, GetProgressOverviewQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
	assert.Equal(t, 610, fresh.TotalXP)
}

func TestOverview_UnknownUserIsZeroState(t *testing.T) {
	store := memory.New()
	h := NewGetProgressOverviewHandler(store, progress.DefaultCalculator(), nil, logger.Discard())

	dto, err := h.Handle(context.Background(), GetProgressOverviewQuery{UserID: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 0, dto.TotalXP)
	assert.Equal(t, 1, dto.Level)

	_, err = store.Get(context.Background(), "ghost")
	assert.True(t, shared.IsNotFound(err), "reads never create records")

	_, err = h.Handle(context.Background(), GetProgressOverviewQuery{})
	assert.True(t, shared.IsValidation(err))
}

func TestOverview_CorruptCacheEntryFallsBack(t *testing.T) {
	store := memory.New()
	record(t, store, "user-1", entry{token: "a", xp: 50})
	cache := &mapCache{m: map[string][]byte{OverviewKey("user-1"): []byte("{not json")}}
	h := NewGetProgressOverviewHandler(store, progress.DefaultCalculator(), cache, logger.Discard())

	dto, err := h.Handle(context.Background(), GetProgressOverviewQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, dto.Cached)
	assert.Equal(t, 50, dto.TotalXP)
}

func TestRankReport(t *testing.T) {
	store := memory.New()
	record(t, store, "user-1",
		entry{token: "a", xp: 600, category: progress.CategoryPush},
		entry{token: "b", xp: 200, category: progress.CategoryPull},
	)
	h := NewGetRankReportHandler(store, progress.DefaultCalculator())

	dto, err := h.Handle(context.Background(), GetRankReportQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 33, dto.BalanceScore)
	assert.Equal(t, progress.CategoryPush, dto.Strongest)

	for _, c := range dto.Categories {
		switch c.Category {
		case progress.CategoryPush:
			assert.Equal(t, progress.RankBeginner, c.Rank)
			assert.Equal(t, 900, c.XPToNextRank)
			assert.Equal(t, 75.0, c.Share)
		case progress.CategoryPull:
			assert.Equal(t, progress.RankNovice, c.Rank)
			assert.Equal(t, 25.0, c.Share)
		}
	}

	empty, err := h.Handle(context.Background(), GetRankReportQuery{UserID: "ghost"})
	require.NoError(t, err)
	assert.Zero(t, empty.BalanceScore)
	assert.Empty(t, empty.Strongest)
}

func TestHistory_MergesStoredAndLiveSummaries(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	record(t, store, "user-1",
		entry{token: "old", xp: 40, category: progress.CategoryLegs, at: testNow.Add(-10 * 24 * time.Hour)},
		entry{token: "y", xp: 15, category: progress.CategoryPush, at: testNow.Add(-24 * time.Hour)},
		entry{token: "t1", xp: 10, category: progress.CategoryPush, at: testNow.Add(-time.Hour)},
		entry{token: "t2", xp: 5, category: progress.CategoryCore, at: testNow.Add(-time.Minute)},
	)

	// Compact the oldest day: summary stays, detail goes.
	txs, err := store.FindTransactions(ctx, progress.TransactionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, store.SaveDailySummaries(ctx, "user-1", history.BuildDailySummaries("user-1", txs[:1], time.UTC)))
	_, err = store.PurgeTransactions(ctx, "user-1", testNow.Add(-5*24*time.Hour))
	require.NoError(t, err)

	h := NewGetHistoryHandler(store, store, time.UTC, func() time.Time { return testNow })
	dto, err := h.Handle(ctx, GetHistoryQuery{UserID: "user-1", Limit: 2})
	require.NoError(t, err)

	require.Len(t, dto.Transactions, 2)
	assert.True(t, dto.Truncated)
	assert.Equal(t, "t1", dto.Transactions[0].Token)
	assert.Equal(t, "t2", dto.Transactions[1].Token)

	require.Len(t, dto.Summaries, 3)
	assert.Equal(t, "2024-02-29", dto.Summaries[0].Date)
	assert.Equal(t, 70, dto.Totals.TotalXP)
	assert.Equal(t, 3, dto.Totals.Days)
	assert.Equal(t, 25, dto.Totals.Categories[progress.CategoryPush])
}

func TestHistory_Validation(t *testing.T) {
	store := memory.New()
	h := NewGetHistoryHandler(store, store, time.UTC, nil)

	_, err := h.Handle(context.Background(), GetHistoryQuery{UserID: "user-1", From: testNow, To: testNow.Add(-time.Hour)})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), GetHistoryQuery{UserID: "user-1", Limit: -1})
	assert.True(t, shared.IsValidation(err))
}

func TestAchievementBoard(t *testing.T) {
	store := memory.New()
	record(t, store, "user-1",
		entry{token: "a", xp: 1200, pending: []string{"xp_milestone_1000"}, claimed: []string{"streak_7"}},
	)
	catalog := achievement.DefaultCatalog()
	h := NewGetAchievementBoardHandler(store, catalog)

	dto, err := h.Handle(context.Background(), GetAchievementBoardQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, achievement.DefaultCatalogVersion, dto.CatalogVersion)
	assert.Len(t, dto.Entries, catalog.Len())
	assert.Equal(t, 1, dto.Counts[achievement.StatePending])
	assert.Equal(t, 1, dto.Counts[achievement.StateClaimed])
	assert.Equal(t, catalog.Len()-2, dto.Counts[achievement.StateLocked])

	pending, err := h.Handle(context.Background(), GetAchievementBoardQuery{UserID: "user-1", State: achievement.StatePending})
	require.NoError(t, err)
	require.Len(t, pending.Entries, 1)
	assert.Equal(t, "xp_milestone_1000", pending.Entries[0].ID)
	assert.Equal(t, 50, pending.Entries[0].XPReward)

	_, err = h.Handle(context.Background(), GetAchievementBoardQuery{UserID: "user-1", State: "hidden"})
	assert.True(t, shared.IsValidation(err))
}
