package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestBreaker(clock *fakeClock, transitions *[]State) *CircuitBreaker {
	cb := NewCircuitBreaker(&Config{
		Name:                "prices",
		MinCalls:            4,
		FailureThreshold:    0.5,
		ConsecutiveFailures: 3,
		Timeout:             time.Minute,
		HalfOpenMaxCalls:    2,
		OnStateChange: func(name string, from, to State) {
			*transitions = append(*transitions, to)
		},
	})
	cb.now = clock.Now
	return cb
}

func fail(ctx context.Context) error    { return errUpstream }
func succeed(ctx context.Context) error { return nil }

func TestCircuitBreakerLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var transitions []State
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	require.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.t = clock.t.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var transitions []State
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.t = clock.t.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerFailureRate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var transitions []State
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	// alternating results never reach three consecutive failures
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.GetState(), "below minimum call count")
	_ = cb.Execute(ctx, succeed)
	assert.Equal(t, StateClosed, cb.GetState())
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.GetState(), "3 of 5 calls failed")
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var transitions []State
	cb := newTestBreaker(clock, &transitions)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Zero(t, cb.GetStats().Failures)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestManager(t *testing.T) {
	m := NewManager(nil)
	a := m.Get("indexer")
	assert.Same(t, a, m.Get("indexer"))
	assert.NotSame(t, a, m.Get("prices"))

	_ = a.Execute(context.Background(), fail)
	stats := m.Stats()
	require.Contains(t, stats, "indexer")
	assert.Equal(t, 1, stats["indexer"].Failures)
	assert.Equal(t, StateClosed, stats["prices"].State)
}
