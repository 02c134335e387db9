package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/query"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// CACHE INVALIDATION HANDLER
// Сбрасывает кеш обзора прогресса после любого изменения записи.
// ═══════════════════════════════════════════════════════════════════════════

// CacheInvalidator удаляет устаревшие записи кеша чтения.
type CacheInvalidator struct {
	cache   query.Cache
	logger  *slog.Logger
	timeout time.Duration
}

// NewCacheInvalidator создаёт обработчик.
func NewCacheInvalidator(cache query.Cache, logger *slog.Logger) *CacheInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheInvalidator{
		cache:   cache,
		logger:  logger.With(slog.String("component", "cache_invalidator")),
		timeout: 2 * time.Second,
	}
}

// Register подписывает обработчик на все события, меняющие запись.
func (h *CacheInvalidator) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventXPAwarded,
		shared.EventReverted,
		shared.EventAchievementPending,
		shared.EventAchievementClaimed,
	} {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle удаляет обзор пользователя из кеша.
func (h *CacheInvalidator) Handle(event shared.Event) error {
	userID := event.AggregateID()
	if userID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Delete(ctx, query.OverviewKey(userID)); err != nil {
		return fmt.Errorf("invalidate overview of %s: %w", userID, err)
	}
	h.logger.Debug("overview invalidated", slog.String("user_id", userID))
	return nil
}
