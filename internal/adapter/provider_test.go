package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpointSet(t *testing.T) {
	_, err := NewEndpointSet("", "http://fallback")
	require.Error(t, err)

	e, err := NewEndpointSet("http://primary/", "")
	require.NoError(t, err)
	assert.Equal(t, "http://primary", e.Current(), "trailing slash is trimmed")
}

func TestEndpointSetFailover(t *testing.T) {
	e, err := NewEndpointSet("http://primary", "http://fallback")
	require.NoError(t, err)
	e.SetHealthThresholds(3, 0.5)

	assert.False(t, e.RecordFailure())
	assert.False(t, e.RecordFailure())
	assert.True(t, e.RecordFailure(), "third consecutive failure fails over")
	assert.Equal(t, "http://fallback", e.Current())

	h := e.Health()
	assert.Equal(t, int64(1), h.Failovers)
	assert.Zero(t, h.TotalRequests, "stats restart on the new endpoint")
	assert.True(t, h.IsHealthy)

	e.Reset()
	assert.Equal(t, "http://primary", e.Current())
}

func TestEndpointSetSuccessResetsStreak(t *testing.T) {
	e, err := NewEndpointSet("http://primary", "http://fallback")
	require.NoError(t, err)
	e.SetHealthThresholds(2, 0.1)

	e.RecordFailure()
	e.RecordSuccess(10 * time.Millisecond)
	assert.False(t, e.RecordFailure())
	assert.Equal(t, "http://primary", e.Current())

	h := e.Health()
	assert.Equal(t, 10*time.Millisecond, h.AverageLatency)
	assert.InDelta(t, 1.0/3.0, h.SuccessRate, 1e-9)
}

func TestEndpointSetSuccessRate(t *testing.T) {
	e, err := NewEndpointSet("http://primary", "http://fallback")
	require.NoError(t, err)
	e.SetHealthThresholds(100, 0.5)

	for i := 0; i < 4; i++ {
		e.RecordSuccess(time.Millisecond)
	}
	failedOver := false
	for i := 0; i < 6; i++ {
		failedOver = e.RecordFailure() || failedOver
	}
	assert.True(t, failedOver, "rate below half over ten requests is unhealthy")
	assert.Equal(t, "http://fallback", e.Current())
}

func TestEndpointSetWithoutFallback(t *testing.T) {
	e, err := NewEndpointSet("http://primary", "")
	require.NoError(t, err)
	e.SetHealthThresholds(1, 0.5)

	assert.False(t, e.RecordFailure())
	assert.Equal(t, "http://primary", e.Current())
	assert.Error(t, e.Failover())
	assert.False(t, e.IsHealthy())
}
