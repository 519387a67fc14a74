package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-valuator/internal/circuitbreaker"
	apperrors "github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/retry"
)

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

func testShared(m *metrics.Metrics) Shared {
	return Shared{Retry: fastRetry(), Metrics: m, Logger: logging.NewNopLogger()}
}

// countingServer answers every request with status and body and counts hits
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestUpstreamDo(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantHits  int32
		wantErr   bool
		retryable bool
		notFound  bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"value":"1"}`, wantHits: 1},
		{name: "not found", status: http.StatusNotFound, body: `{}`, wantHits: 1, wantErr: true, notFound: true},
		{name: "server error is retried", status: http.StatusBadGateway, body: `oops`, wantHits: 2, wantErr: true, retryable: true},
		{name: "rate limited is retried", status: http.StatusTooManyRequests, body: ``, wantHits: 2, wantErr: true, retryable: true},
		{name: "bad request is not retried", status: http.StatusBadRequest, body: `nope`, wantHits: 1, wantErr: true},
		{name: "malformed body", status: http.StatusOK, body: `{"value":`, wantHits: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := countingServer(t, tt.status, tt.body)
			up := newUpstream("test", time.Second, 0, testShared(nil))

			var out struct {
				Value string `json:"value"`
			}
			err := up.do(context.Background(), request{op: "Get", method: "GET", path: srv.URL}, &out)

			assert.Equal(t, tt.wantHits, atomic.LoadInt32(hits))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "1", out.Value)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.notFound, isNotFound(err))
			if tt.retryable {
				assert.True(t, apperrors.IsRetryable(err))
			}
		})
	}
}

func TestUpstreamMetrics(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	srv, _ := countingServer(t, http.StatusServiceUnavailable, ``)
	up := newUpstream("flaky", time.Second, 0, testShared(m))

	err = up.do(context.Background(), request{op: "Get", method: "GET", path: srv.URL}, nil)
	require.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("flaky", "error")))
}

func TestUpstreamBreakerOpens(t *testing.T) {
	srv, hits := countingServer(t, http.StatusInternalServerError, ``)

	breakers := circuitbreaker.NewManager(func(name string) *circuitbreaker.Config {
		cfg := circuitbreaker.DefaultConfig(name)
		cfg.ConsecutiveFailures = 2
		cfg.Timeout = time.Minute
		return cfg
	})
	shared := testShared(nil)
	shared.Breakers = breakers
	up := newUpstream("down", time.Second, 0, shared)

	require.Error(t, up.do(context.Background(), request{op: "Get", method: "GET", path: srv.URL}, nil))
	assert.Equal(t, circuitbreaker.StateOpen, breakers.Get("down").GetState())

	err := up.do(context.Background(), request{op: "Get", method: "GET", path: srv.URL}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits), "open circuit short-circuits the call")
}

func TestUpstreamHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up := newUpstream("slow", 5*time.Second, 0, testShared(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := up.do(ctx, request{op: "Get", method: "GET", path: srv.URL}, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestTruncate(t *testing.T) {
	short := []byte("short")
	assert.Equal(t, "short", truncate(short))

	long := make([]byte, maxErrorBody+10)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(long), maxErrorBody+3)
}
