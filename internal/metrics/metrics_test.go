package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveBranch("balances", 0.2, true)
	m.ObserveBranch("balances", 0.1, false)
	m.CountPrice("quoted")
	m.CountPrice("quoted")
	m.CountSnapshot(true)
	m.ObserveUpstream("indexer", 0.3, errors.New("boom"))
	m.SetCircuitOpen("indexer", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BranchDegraded.WithLabelValues("balances")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PriceResolutions.WithLabelValues("quoted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsBuilt.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("indexer", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("indexer")))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBranch("x", 1, true)
		m.CountPrice("unknown")
		m.CountSnapshot(false)
		m.CountCache("hit")
		m.ObserveUpstream("prices", 1, nil)
		m.SetCircuitOpen("prices", false)
		m.ObserveHTTP("/health", "200", 0.01)
		m.CountPositions("scanner", 2)
	})
}
