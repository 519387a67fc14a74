package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-valuator/internal/errors"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithExponentialBackoff(t *testing.T) {
	t.Run("succeeds after transient provider failures", func(t *testing.T) {
		calls := 0
		result := WithExponentialBackoff(context.Background(), fastConfig(), func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errors.NewProviderError("indexer", stderrors.New("502"))
			}
			return nil
		})

		assert.True(t, result.Success)
		assert.Equal(t, 3, result.Attempts)
		assert.Equal(t, 3, calls)
		assert.NoError(t, result.LastError)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		result := WithExponentialBackoff(context.Background(), fastConfig(), func(ctx context.Context, attempt int) error {
			calls++
			return errors.NewInvalidAddressError("0xzz")
		})

		assert.False(t, result.Success)
		assert.Equal(t, 1, calls)
		assert.True(t, errors.IsUserError(result.LastError))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		result := WithExponentialBackoff(context.Background(), fastConfig(), func(ctx context.Context, attempt int) error {
			return errors.NewProviderTimeoutError("prices")
		})

		assert.False(t, result.Success)
		assert.Equal(t, 3, result.Attempts)
	})

	t.Run("honors cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := fastConfig()
		cfg.InitialDelay = time.Hour
		cfg.MaxDelay = time.Hour

		result := WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
			cancel()
			return errors.NewProviderError("prices", nil)
		})

		assert.False(t, result.Success)
		assert.ErrorIs(t, result.LastError, context.Canceled)
	})

	t.Run("custom predicate", func(t *testing.T) {
		cfg := fastConfig()
		cfg.ShouldRetry = func(error) bool { return true }

		calls := 0
		err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
			calls++
			return stderrors.New("plain")
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateDelay(cfg, tt.attempt))
	}

	cfg.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := calculateDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
