package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/memory"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/logger"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/retry"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return b.err
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType())
	}
	return out
}

type mapResults struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (r *mapResults) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.m[key]
	return v, ok, nil
}

func (r *mapResults) SetIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = map[string][]byte{}
	}
	if _, ok := r.m[key]; ok {
		return false, nil
	}
	r.m[key] = value
	return true, nil
}

// conflictingRepo fails the first n applies with a version conflict.
type conflictingRepo struct {
	progress.Repository
	mu        sync.Mutex
	remaining int
	applies   int
}

func (r *conflictingRepo) Apply(ctx context.Context, m progress.Mutation) (*progress.UserProgress, error) {
	r.mu.Lock()
	r.applies++
	if r.remaining != 0 {
		if r.remaining > 0 {
			r.remaining--
		}
		r.mu.Unlock()
		return nil, shared.ErrVersionConflict
	}
	r.mu.Unlock()
	return r.Repository.Apply(ctx, m)
}

type fixture struct {
	store   *memory.Store
	bus     *recordingBus
	rules   *xprules.Calculator
	engine  *Engine
	events  *ProcessEventHandler
	claims  *ClaimAchievementHandler
	reverts *RevertAwardHandler
	history *HistoryHandler
}

// newFixture builds handlers over a fresh memory store. wrap, when set,
// decorates the repository seen by the engine.
func newFixture(t *testing.T, wrap func(*memory.Store) progress.Repository, results ResultStore) *fixture {
	t.Helper()

	store := memory.New()
	var repo progress.Repository = store
	if wrap != nil {
		repo = wrap(store)
	}

	table := xprules.DefaultTable()
	table.Sources["bonus"] = xprules.SourceRules{Actions: map[string]xprules.ActionRule{"granted": {Base: 100}}}
	rules, err := xprules.NewCalculator(table)
	require.NoError(t, err)

	bus := &recordingBus{}
	catalog := achievement.DefaultCatalog()
	engine := NewEngine(EngineConfig{
		Repo:         repo,
		Catalog:      catalog,
		Publisher:    bus,
		Logger:       logger.Discard(),
		Now:          func() time.Time { return testNow },
		RetryOptions: []retry.Option{retry.WithSleep(retry.NoSleep)},
	})

	return &fixture{
		store:   store,
		bus:     bus,
		rules:   rules,
		engine:  engine,
		events:  NewProcessEventHandler(engine, rules, results, ProcessEventHandlerConfig{Location: time.UTC}),
		claims:  NewClaimAchievementHandler(engine, rules, catalog),
		reverts: NewRevertAwardHandler(engine),
		history: NewHistoryHandler(store, store, HistoryHandlerConfig{
			Location: time.UTC,
			Logger:   logger.Discard(),
			Now:      func() time.Time { return testNow },
		}),
	}
}

// seed gives the user xp without running achievement detection.
func (f *fixture) seed(t *testing.T, userID string, xp int) {
	t.Helper()
	ctx := context.Background()
	p, err := f.store.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	_, err = f.store.Apply(ctx, progress.Mutation{
		UserID:          userID,
		ExpectedVersion: p.Version,
		XPDelta:         xp,
		Level:           progress.DefaultCalculator().Global.LevelFor(p.TotalXP + xp),
		Transaction: progress.XpTransaction{
			ID: "seed", UserID: userID, Token: "seed", Source: "seed", Action: "seed",
			Amount: xp, OccurredAt: testNow.Add(-time.Hour),
		},
	})
	require.NoError(t, err)
}

func taskEvent(token string, streak int, milestone string) ProcessEventCommand {
	return ProcessEventCommand{
		Token:  token,
		UserID: "user-1",
		Source: xprules.SourceTask,
		Action: xprules.ActionTaskCompleted,
		Context: xprules.Context{
			Streak:       streak,
			MilestoneHit: milestone,
			Category:     "push",
		},
		Timestamp: testNow,
	}
}
