package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetState(t *testing.T) {
	m := New()
	all := []string{"DISCONNECTED", "CONNECTED", "POLLING"}

	m.SetState("CONNECTED", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncState.WithLabelValues("CONNECTED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SyncState.WithLabelValues("POLLING")))

	m.SetState("POLLING", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SyncState.WithLabelValues("CONNECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncState.WithLabelValues("POLLING")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.SetState("CONNECTED", all) })
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.VersionsInserted.WithLabelValues("design", "create").Inc()
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["content_sync_versions_inserted_total"])
}
