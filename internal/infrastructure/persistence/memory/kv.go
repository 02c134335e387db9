package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default bounds for KV.
const (
	DefaultKVSize = 10_000
	DefaultKVTTL  = 5 * time.Minute
)

// KV is a bounded in-process key store with per-entry TTL. It serves as
// query.Cache and command.ResultStore in single-node mode. Least recently
// used entries are evicted when the size bound is reached.
type KV struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, []byte]
}

// NewKV creates a KV holding at most size entries for ttl each. Zero values
// select the defaults.
func NewKV(size int, ttl time.Duration) *KV {
	if size <= 0 {
		size = DefaultKVSize
	}
	if ttl <= 0 {
		ttl = DefaultKVTTL
	}
	return &KV{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns a copy of the stored value.
func (c *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

// Set stores a copy of value.
func (c *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, slices.Clone(value))
	return nil
}

// SetIfAbsent stores value unless a live entry exists.
func (c *KV) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Peek(key); ok {
		return false, nil
	}
	c.lru.Add(key, slices.Clone(value))
	return true, nil
}

// Delete removes key.
func (c *KV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (c *KV) Len() int {
	return c.lru.Len()
}
