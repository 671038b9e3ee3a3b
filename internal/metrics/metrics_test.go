package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// Second registration is tolerated
	require.NoError(t, Register(reg))

	SyncRuns.WithLabelValues("success").Inc()
	SearchRequests.WithLabelValues(PathFilter).Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "refcache_sync_runs_total")
	assert.Contains(t, names, "refcache_search_requests_total")
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(StaleDiscarded)
	StaleDiscarded.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StaleDiscarded))

	ReplicaRecords.Set(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(ReplicaRecords))
}
