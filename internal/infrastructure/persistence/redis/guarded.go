package redis

import (
	"context"

	"github.com/lfmcagency/fitness-tracker-sub001/pkg/circuitbreaker"
)

// GuardedCache wraps the overview cache with a circuit breaker. While the
// breaker is open reads are misses and writes are skipped, so the read side
// falls back to the progress store instead of waiting on Redis timeouts.
type GuardedCache struct {
	store   *Store
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedCache creates a GuardedCache. A nil breaker selects the cache preset.
func NewGuardedCache(store *Store, breaker *circuitbreaker.CircuitBreaker) *GuardedCache {
	if breaker == nil {
		breaker = circuitbreaker.CacheBreaker(nil)
	}
	return &GuardedCache{store: store, breaker: breaker}
}

// Get returns a miss while the breaker is open.
func (c *GuardedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		data []byte
		ok   bool
	)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, ok, err = c.store.Get(ctx, key)
		return err
	})
	if circuitbreaker.Rejected(err) {
		return nil, false, nil
	}
	return data, ok, err
}

// Set is skipped while the breaker is open.
func (c *GuardedCache) Set(ctx context.Context, key string, value []byte) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, key, value)
	})
	if circuitbreaker.Rejected(err) {
		return nil
	}
	return err
}

// Delete reports an open breaker so callers can log the missed invalidation.
func (c *GuardedCache) Delete(ctx context.Context, key string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, key)
	})
}
