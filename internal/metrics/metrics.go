// Package metrics holds the prometheus collectors of the sync engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomsync"

// Metrics groups every collector the coordinator updates.
type Metrics struct {
	feedDeltas         *prometheus.CounterVec
	refetches          *prometheus.CounterVec
	staleDiscards      prometheus.Counter
	snapshotsPublished prometheus.Counter
	fetchErrors        *prometheus.CounterVec
	conflictsIgnored   *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		feedDeltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_deltas_total",
			Help:      "Change-feed deltas accepted by the open room, by topic and op.",
		}, []string{"topic", "op"}),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refetches_total",
			Help:      "Authoritative refetches issued, by kind.",
		}, []string{"kind"}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_discards_total",
			Help:      "Async results dropped because their room session had ended.",
		}),
		snapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Room snapshots published to watchers.",
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed reads, by kind.",
		}, []string{"kind"}),
		conflictsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_ignored_total",
			Help:      "Duplicate inserts swallowed as benign races, by kind.",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of backend reads, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.feedDeltas,
			m.refetches,
			m.staleDiscards,
			m.snapshotsPublished,
			m.fetchErrors,
			m.conflictsIgnored,
			m.fetchDuration,
		)
	}
	return m
}

func (m *Metrics) FeedDelta(topic, op string) {
	if m == nil {
		return
	}
	m.feedDeltas.WithLabelValues(topic, op).Inc()
}

func (m *Metrics) Refetch(kind string) {
	if m == nil {
		return
	}
	m.refetches.WithLabelValues(kind).Inc()
}

func (m *Metrics) StaleDiscard() {
	if m == nil {
		return
	}
	m.staleDiscards.Inc()
}

func (m *Metrics) SnapshotPublished() {
	if m == nil {
		return
	}
	m.snapshotsPublished.Inc()
}

func (m *Metrics) FetchError(kind string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConflictIgnored(kind string) {
	if m == nil {
		return
	}
	m.conflictsIgnored.WithLabelValues(kind).Inc()
}

// ObserveFetch records the time elapsed since start for a read of kind.
func (m *Metrics) ObserveFetch(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
