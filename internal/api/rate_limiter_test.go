package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "clients have separate buckets")
	assert.Same(t, rl.getLimiter("a"), rl.getLimiter("a"))
}

func TestRateLimiter_MinimumBurst(t *testing.T) {
	rl := NewRateLimiter(60, 0)
	assert.Equal(t, 1, rl.burst)
	assert.True(t, rl.Allow("a"))
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	assert.Equal(t, "203.0.113.7", clientKey(r))

	r.Header.Set("X-Client-ID", "dashboard")
	assert.Equal(t, "dashboard", clientKey(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientKey(r))
}
