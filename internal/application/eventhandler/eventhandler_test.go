package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/query"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/notification"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/messaging"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/circuitbreaker"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/logger"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []*notification.Notification
	err  error
}

func (s *fakeSender) Send(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func newNotify(sender notification.Sender, breaker *circuitbreaker.CircuitBreaker, cfg NotifyConfig) *NotifyHandler {
	cfg.Now = func() time.Time { return testNow }
	return NewNotifyHandler(sender, breaker, logger.Discard(), cfg)
}

func TestNotifyHandler_BuildsNotifications(t *testing.T) {
	sender := &fakeSender{}
	h := newNotify(sender, nil, DefaultNotifyConfig())
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: logger.Discard()})
	require.NoError(t, h.Register(bus))

	pending := shared.NewAchievementPendingEvent("user-1", "streak_7", "One Week Strong", 70, false)
	pending.BaseEvent = pending.BaseEvent.WithCorrelationID("req-1")
	require.NoError(t, bus.Publish(pending))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("user-1", 1, 2, 144)))
	require.NoError(t, bus.Publish(shared.NewAchievementClaimedEvent("user-1", "streak_7", 70, 144)))
	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("user-1", "t1", "task", "task_completed", "", 10, 10)))

	require.Len(t, sender.sent, 3)

	assert.Equal(t, notification.TypeAchievementPending, sender.sent[0].Type)
	assert.Equal(t, "One Week Strong", sender.sent[0].Title)
	assert.Equal(t, "streak_7", sender.sent[0].Data["achievement_id"])
	assert.Equal(t, "req-1", sender.sent[0].CorrelationID)
	assert.Equal(t, notification.PriorityHigh, sender.sent[0].Priority)

	assert.Equal(t, "Level 2!", sender.sent[1].Title)
	assert.Equal(t, "144 XP earned so far", sender.sent[1].Body)
	assert.Equal(t, "+70 XP", sender.sent[2].Body)
	assert.Equal(t, testNow, sender.sent[2].CreatedAt)
}

func TestNotifyHandler_RemoteEventPayload(t *testing.T) {
	sender := &fakeSender{}
	h := newNotify(sender, nil, DefaultNotifyConfig())

	data, err := messaging.Encode("other", shared.NewLevelUpEvent("user-1", 4, 5, 1700))
	require.NoError(t, err)
	_, remote, err := messaging.Decode(data)
	require.NoError(t, err)

	require.NoError(t, h.Handle(remote))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Level 5!", sender.sent[0].Title)
	assert.Equal(t, "5", sender.sent[0].Data["level"])
}

func TestNotifyHandler_Backfilled(t *testing.T) {
	sender := &fakeSender{}
	cfg := DefaultNotifyConfig()
	cfg.NotifyBackfilled = false
	h := newNotify(sender, nil, cfg)

	require.NoError(t, h.Handle(shared.NewAchievementPendingEvent("user-1", "level_5", "Getting Started", 100, true)))
	assert.Empty(t, sender.sent)

	h = newNotify(sender, nil, DefaultNotifyConfig())
	require.NoError(t, h.Handle(shared.NewAchievementPendingEvent("user-1", "level_5", "Getting Started", 100, true)))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, notification.PriorityLow, sender.sent[0].Priority)
}

func TestNotifyHandler_BreakerDropsWhileOpen(t *testing.T) {
	sender := &fakeSender{err: errors.New("push gateway down")}
	breaker := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Hour))
	h := newNotify(sender, breaker, DefaultNotifyConfig())
	ev := shared.NewLevelUpEvent("user-1", 1, 2, 100)

	assert.Error(t, h.Handle(ev))
	assert.Error(t, h.Handle(ev))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	sender.err = nil
	assert.NoError(t, h.Handle(ev), "dropped while open")
	assert.Empty(t, sender.sent)
}

type mapCache struct {
	mu      sync.Mutex
	m       map[string][]byte
	deletes []string
	err     error
}

func (c *mapCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (c *mapCache) Set(context.Context, string, []byte) error         { return nil }
func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.deletes = append(c.deletes, key)
	return nil
}

func TestCacheInvalidator(t *testing.T) {
	cache := &mapCache{}
	h := NewCacheInvalidator(cache, logger.Discard())
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: logger.Discard()})
	require.NoError(t, h.Register(bus))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("user-1", "t1", "task", "task_completed", "", 10, 10)))
	require.NoError(t, bus.Publish(shared.NewRevertedEvent("user-2", "t9", -10, nil)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("user-3", 1, 2, 100)))

	assert.Equal(t, []string{query.OverviewKey("user-1"), query.OverviewKey("user-2")}, cache.deletes)

	cache.err = errors.New("redis down")
	assert.Error(t, h.Handle(shared.NewXPAwardedEvent("user-1", "t2", "task", "task_completed", "", 10, 20)))
}
