package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfmcagency/fitness-tracker-sub001/pkg/circuitbreaker"
)

// fakeClient keeps values in a map and records TTLs.
type fakeClient struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return redis.NewStringResult("", c.err)
	}
	v, ok := c.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *fakeClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return redis.NewStatusResult("", c.err)
	}
	c.data[key] = string(value.([]byte))
	c.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (c *fakeClient) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return redis.NewBoolResult(false, c.err)
	}
	if _, ok := c.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	c.data[key] = string(value.([]byte))
	c.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (c *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, c.err)
}

func TestStore_CacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	cache, err := NewOverviewCache(client, 0)
	require.NoError(t, err)

	_, ok, err := cache.Get(ctx, "progress:overview:user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "progress:overview:user-1", []byte(`{"total_xp":10}`)))
	assert.Equal(t, TTLOverviewCache, client.ttls["cache:progress:overview:user-1"])

	got, ok, err := cache.Get(ctx, "progress:overview:user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"total_xp":10}`, string(got))

	require.NoError(t, cache.Delete(ctx, "progress:overview:user-1"))
	_, ok, err = cache.Get(ctx, "progress:overview:user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetIfAbsentKeepsFirst(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	results, err := NewResultStore(client, time.Hour)
	require.NoError(t, err)

	ok, err := results.SetIfAbsent(ctx, "event:abc", []byte("first"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = results.SetIfAbsent(ctx, "event:abc", []byte("second"))
	require.NoError(t, err)
	assert.False(t, ok)

	got, _, err := results.Get(ctx, "event:abc")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	assert.Equal(t, time.Hour, client.ttls["idem:event:abc"])
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store, err := NewStore(client, "x:", 0)
	require.NoError(t, err)

	_, _, err = store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	_, err = NewStore(client, "x:", -time.Second)
	assert.ErrorIs(t, err, ErrCacheInvalidTTL)

	boom := errors.New("connection reset")
	client.err = boom
	_, _, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	_, err = store.SetIfAbsent(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Delete(ctx, "k"), boom)
}

func TestGuardedCache_OpensAndFallsBack(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	overview, err := NewOverviewCache(client, time.Minute)
	require.NoError(t, err)

	breaker := circuitbreaker.New("test-cache",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithTimeout(time.Hour),
	)
	cache := NewGuardedCache(overview, breaker)

	require.NoError(t, cache.Set(ctx, "u1", []byte("v")))
	got, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))

	boom := errors.New("connection refused")
	client.err = boom
	_, _, err = cache.Get(ctx, "u1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, cache.Set(ctx, "u1", []byte("v")), boom)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	got, ok, err = cache.Get(ctx, "u1")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, cache.Set(ctx, "u1", []byte("v")))
	assert.ErrorIs(t, cache.Delete(ctx, "u1"), circuitbreaker.ErrCircuitOpen)
}
