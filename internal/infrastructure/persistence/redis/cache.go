// Package redis implements the shared Redis stores of the progress engine.
//
// Key components:
//   - Store: byte-value key store with TTL, used for the progress overview
//     cache and the idempotency result store
//   - NewClient: connection setup shared with the event bus transport
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")

	// ErrCacheInvalidTTL is returned when an invalid TTL is provided.
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEY PREFIXES AND TTLs
// ══════════════════════════════════════════════════════════════════════════════

// Key prefixes for namespacing Redis keys.
const (
	// PrefixCache namespaces read-side cache entries.
	PrefixCache = "cache:"

	// PrefixIdempotency namespaces stored event results.
	PrefixIdempotency = "idem:"

	// PrefixNotification namespaces per-user notification inboxes.
	PrefixNotification = "notifications:"
)

// Default TTL values.
const (
	// TTLOverviewCache bounds staleness of cached progress overviews.
	TTLOverviewCache = 5 * time.Minute

	// TTLIdempotency is how long a processed token keeps its stored result.
	TTLIdempotency = 7 * 24 * time.Hour
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Client is the subset of go-redis commands the stores use.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Client = (*redis.Client)(nil)

// Store is a byte-value key store under one prefix with one TTL. It serves
// as query.Cache and command.ResultStore.
type Store struct {
	client Client
	prefix string
	ttl    time.Duration
}

// NewStore creates a Store. A zero ttl keeps entries until deleted.
func NewStore(client Client, prefix string, ttl time.Duration) (*Store, error) {
	if ttl < 0 {
		return nil, ErrCacheInvalidTTL
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}, nil
}

// NewOverviewCache creates the read-side cache.
func NewOverviewCache(client Client, ttl time.Duration) (*Store, error) {
	if ttl == 0 {
		ttl = TTLOverviewCache
	}
	return NewStore(client, PrefixCache, ttl)
}

// NewResultStore creates the idempotency result store.
func NewResultStore(client Client, ttl time.Duration) (*Store, error) {
	if ttl == 0 {
		ttl = TTLIdempotency
	}
	return NewStore(client, PrefixIdempotency, ttl)
}

func (s *Store) key(key string) (string, error) {
	if key == "" {
		return "", ErrCacheKeyEmpty
	}
	return s.prefix + key, nil
}

// Get returns the value stored under key. A missing key is not an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, false, err
	}

	data, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", k, err)
	}
	return data, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, k, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

// SetIfAbsent stores value only when key is not present (SETNX). It reports
// whether the value was written.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	k, err := s.key(key)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, k, value, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", k, err)
	}
	return ok, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", k, err)
	}
	return nil
}
