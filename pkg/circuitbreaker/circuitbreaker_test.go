package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var (
	errDown = errors.New("connection refused")
	fail    = func(context.Context) error { return errDown }
	ok      = func(context.Context) error { return nil }
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string

	cb := New("test",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, Rejected(err))
	assert.False(t, called)

	clock.Advance(11 * time.Second)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := New("run", WithFailureThreshold(2))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenTrials(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New("trial",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithTimeout(time.Second),
		WithClock(clock.Now),
	)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)

	// A second caller arriving during the trial call is turned away.
	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrTooManyRequests)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Trial calls run one after another until the success threshold.
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New("reopen", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	// The cool-down restarts from the failed trial call.
	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestCircuitBreaker_CallerCancellationIsNeutral(t *testing.T) {
	cb := New("cancel", WithFailureThreshold(1))
	ctx := context.Background()

	err := cb.Execute(ctx, func(context.Context) error {
		return fmt.Errorf("send: %w", context.Canceled)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	rejectedPayload := errors.New("400 bad payload")
	cb := New("filter", WithFailureThreshold(1), WithIsFailure(func(err error) bool {
		return !errors.Is(err, rejectedPayload)
	}))

	_ = cb.Execute(context.Background(), func(context.Context) error { return rejectedPayload })
	assert.Equal(t, StateClosed, cb.State())
}

func TestPresets(t *testing.T) {
	var names []string
	record := func(name string, _, _ State) { names = append(names, name) }

	n := NotificationBreaker(record)
	assert.Equal(t, "notification", n.Name())
	for i := 0; i < 3; i++ {
		_ = n.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateOpen, n.State())

	c := CacheBreaker(record)
	for i := 0; i < 4; i++ {
		_ = c.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateClosed, c.State())
	_ = c.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, c.State())

	assert.Equal(t, []string{"notification", "cache"}, names)
	assert.False(t, Rejected(errDown))
}
