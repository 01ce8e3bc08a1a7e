package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := New("standings",
		WithFailureThreshold(3),
		WithCoolDown(time.Minute),
		WithClock(clock.Now),
		WithOnStateChange(func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, called)
	assert.Equal(t, 1, cb.Counts().Rejected)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := New("standings", WithFailureThreshold(2))

	require.Error(t, cb.Execute(context.Background(), fail))
	require.NoError(t, cb.Execute(context.Background(), succeed))
	require.Error(t, cb.Execute(context.Background(), fail))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	cb := New("standings",
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithCoolDown(30*time.Second),
		WithClock(clock.Now),
	)

	require.Error(t, cb.Execute(context.Background(), fail))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	cb := New("standings", WithFailureThreshold(1), WithCoolDown(time.Second), WithClock(clock.Now))

	require.Error(t, cb.Execute(context.Background(), fail))
	clock.Advance(2 * time.Second)
	require.Error(t, cb.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	cb := New("standings", WithFailureThreshold(1), WithCoolDown(time.Second), WithClock(clock.Now))

	require.Error(t, cb.Execute(context.Background(), fail))
	clock.Advance(2 * time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return cb.Execute(ctx, succeed)
	})
	assert.ErrorIs(t, err, ErrTooManyProbes)
}

func TestCircuitBreaker_IsFailureFilters(t *testing.T) {
	cb := New("standings",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, context.Canceled) }),
	)

	assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Counts().TotalFailures)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
