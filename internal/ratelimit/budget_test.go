package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, total, reserved int) (*BudgetTracker, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tracker, err := NewBudgetTracker(&BudgetTrackerConfig{
		Redis:          client,
		TotalBudget:    total,
		ReservedBudget: reserved,
		BaseDelay:      time.Millisecond,
		MaxDelay:       4 * time.Millisecond,
	})
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestTryConsumeSeparatePools(t *testing.T) {
	tracker, _ := newTestTracker(t, 10, 6)
	ctx := context.Background()

	ok, wait := tracker.TryConsume(ctx, 6, PriorityHigh)
	assert.True(t, ok)
	assert.Zero(t, wait)

	ok, wait = tracker.TryConsume(ctx, 1, PriorityHigh)
	assert.False(t, ok, "reserved pool is exhausted")
	assert.Positive(t, wait)

	ok, _ = tracker.TryConsume(ctx, 4, PriorityLow)
	assert.True(t, ok, "shared pool is independent")

	stats, err := tracker.GetUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalUsed)
	assert.Equal(t, 6, stats.ReservedUsed)
	assert.Equal(t, 4, stats.SharedUsed)
	assert.Equal(t, 4, stats.SharedBudget)
}

func TestTryConsumeNewWindowResets(t *testing.T) {
	tracker, now := newTestTracker(t, 4, 2)
	ctx := context.Background()

	ok, _ := tracker.TryConsume(ctx, 2, PriorityLow)
	require.True(t, ok)
	ok, _ = tracker.TryConsume(ctx, 1, PriorityLow)
	require.False(t, ok)

	*now = now.Add(time.Second)
	ok, _ = tracker.TryConsume(ctx, 2, PriorityLow)
	assert.True(t, ok)
}

func TestTryConsumeZeroUnits(t *testing.T) {
	tracker, _ := newTestTracker(t, 4, 2)
	ok, wait := tracker.TryConsume(context.Background(), 0, PriorityLow)
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestWaitHonorsCancellation(t *testing.T) {
	tracker, _ := newTestTracker(t, 2, 1)
	tracker.windowSize = time.Hour

	require.NoError(t, tracker.Wait(context.Background(), 1, PriorityLow))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tracker.Wait(ctx, 1, PriorityLow)
	assert.ErrorIs(t, err, ErrContextCancelled)
}

func TestRecordDeniedBackoff(t *testing.T) {
	tracker, _ := newTestTracker(t, 2, 1)

	assert.Equal(t, time.Millisecond, tracker.recordDenied())
	assert.Equal(t, 2*time.Millisecond, tracker.recordDenied())
	assert.Equal(t, 4*time.Millisecond, tracker.recordDenied())
	assert.Equal(t, 4*time.Millisecond, tracker.recordDenied(), "capped")
}

func TestConfigValidate(t *testing.T) {
	_, err := NewBudgetTracker(&BudgetTrackerConfig{})
	assert.Error(t, err)

	_, err = NewBudgetTracker(&BudgetTrackerConfig{
		Redis:          redis.NewClient(&redis.Options{Addr: "localhost:0"}),
		TotalBudget:    5,
		ReservedBudget: 6,
	})
	assert.Error(t, err)
}

func TestPriorityContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, PriorityHigh, PriorityFrom(ctx))
	assert.Equal(t, PriorityLow, PriorityFrom(WithPriority(ctx, PriorityLow)))
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, 2, Cost("activities"))
	assert.Equal(t, 1, Cost("unknown"))
}
