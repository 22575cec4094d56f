package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FeedDelta("messages", "insert")
	m.FeedDelta("messages", "insert")
	m.FeedDelta("room_members", "delete")
	m.Refetch("messages")
	m.StaleDiscard()
	m.SnapshotPublished()
	m.FetchError("members")
	m.ConflictIgnored("reaction")
	m.ObserveFetch("messages", time.Now().Add(-10*time.Millisecond))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.feedDeltas.WithLabelValues("messages", "insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedDeltas.WithLabelValues("room_members", "delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refetches.WithLabelValues("messages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleDiscards))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshotsPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues("members")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictsIgnored.WithLabelValues("reaction")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "roomsync_fetch_duration_seconds")
	assert.Contains(t, names, "roomsync_feed_deltas_total")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FeedDelta("messages", "insert")
		m.Refetch("members")
		m.StaleDiscard()
		m.SnapshotPublished()
		m.FetchError("typing")
		m.ConflictIgnored("member")
		m.ObserveFetch("typing", time.Now())
	})
}
