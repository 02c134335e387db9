// Package retry re-runs an operation with capped exponential backoff.
//
// Two callers use it. The award engine re-runs an optimistic progress write
// after a version conflict, and the webhook sender re-posts notifications the
// endpoint rejected with 429 or 5xx. Context cancellation is never retried.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Permanent marks err as final. Do stops at once and returns err itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Hinted is implemented by errors that carry a wait requested by the other
// side, such as a Retry-After header. A positive hint replaces the computed
// backoff, capped at Backoff.Max.
type Hinted interface {
	RetryAfter() time.Duration
}

// Backoff describes the wait between attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter spreads each delay by up to this fraction in both directions.
	Jitter float64
}

// Delay returns the wait after failed attempt n (1-based). sample is a
// uniform value in [0, 1).
func (b Backoff) Delay(n int, sample float64) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n-1))
	if b.Max > 0 {
		d = min(d, float64(b.Max))
	}
	d += d * b.Jitter * (2*sample - 1)
	return time.Duration(max(d, 0))
}

// Config holds retry configuration.
type Config struct {
	// MaxAttempts counts the first attempt.
	MaxAttempts int

	Backoff Backoff

	// RetryIf selects retryable errors. Nil retries every error that is
	// neither permanent nor a context error.
	RetryIf func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// Option configures a Retrier.
type Option func(*Config)

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithRetryIf sets the retry predicate.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

// WithOnRetry sets a callback invoked before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// WithSleep replaces the wait between attempts, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		if fn != nil {
			c.Sleep = fn
		}
	}
}

// NoSleep skips waiting between attempts.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Retrier runs operations under one Config. Safe for concurrent use.
type Retrier struct {
	config Config
}

// New creates a Retrier: 3 attempts, 100ms doubling up to 5s, 10% jitter.
func New(opts ...Option) *Retrier {
	config := Config{
		MaxAttempts: 3,
		Backoff:     Backoff{Initial: 100 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2, Jitter: 0.1},
		Sleep:       sleepContext,
		Rand:        rand.Float64,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do runs operation until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent. The last error is returned as is.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= r.config.MaxAttempts || !r.retryable(err) {
			return err
		}

		delay := r.delay(attempt, err)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if r.config.Sleep(ctx, delay) != nil {
			return err
		}
	}
}

func (r *Retrier) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.config.RetryIf == nil {
		return true
	}
	return r.config.RetryIf(err)
}

func (r *Retrier) delay(attempt int, err error) time.Duration {
	var hinted Hinted
	if errors.As(err, &hinted) {
		if d := hinted.RetryAfter(); d > 0 {
			if m := r.config.Backoff.Max; m > 0 {
				return min(d, m)
			}
			return d
		}
	}
	return r.config.Backoff.Delay(attempt, r.config.Rand())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ApplyRetrier retries optimistic progress writes. Conflicts clear in
// milliseconds; wide jitter spreads competing writers for one user.
func ApplyRetrier(maxAttempts int, retryIf func(error) bool, extra ...Option) *Retrier {
	opts := []Option{
		WithMaxAttempts(maxAttempts),
		WithRetryIf(retryIf),
		func(c *Config) {
			c.Backoff = Backoff{Initial: 5 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2, Jitter: 0.5}
		},
	}
	return New(append(opts, extra...)...)
}

// DeliveryRetrier retries outbound notification posts. Retry-After hints
// from the endpoint are honoured up to 30s.
func DeliveryRetrier(maxAttempts int, initial time.Duration, retryIf func(error) bool, extra ...Option) *Retrier {
	opts := []Option{
		WithMaxAttempts(maxAttempts),
		WithRetryIf(retryIf),
		func(c *Config) {
			c.Backoff = Backoff{Initial: initial, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2}
		},
	}
	return New(append(opts, extra...)...)
}
