package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type factMetrics struct {
	facts    *prometheus.CounterVec
	sequence prometheus.Gauge
	gaps     prometheus.Counter
	dropped  *prometheus.CounterVec
	failures prometheus.Counter
}

var (
	factMetricsOnce sync.Once
	factRegistry    *factMetrics
)

// Facts returns the metrics registry tracking the staking fact log.
func Facts() *factMetrics {
	factMetricsOnce.Do(func() {
		factRegistry = &factMetrics{
			facts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "facts",
				Name:      "archived_total",
				Help:      "Facts archived by the indexer, segmented by type.",
			}, []string{"type"}),
			sequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "facts",
				Name:      "archived_sequence",
				Help:      "Highest fact sequence number written to the archive.",
			}),
			gaps: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "facts",
				Name:      "gaps_total",
				Help:      "Sequence gaps observed while archiving facts.",
			}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "facts",
				Name:      "stream_closed_total",
				Help:      "Live fact streams closed, segmented by reason.",
			}, []string{"reason"}),
			failures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "facts",
				Name:      "archive_failures_total",
				Help:      "Failed archive writes retried by the indexer.",
			}),
		}
		prometheus.MustRegister(factRegistry.facts, factRegistry.sequence, factRegistry.gaps, factRegistry.dropped, factRegistry.failures)
	})
	return factRegistry
}

// RecordArchived tracks a fact written to the archive.
func (m *factMetrics) RecordArchived(factType string, sequence uint64) {
	if m == nil {
		return
	}
	factType = strings.TrimSpace(factType)
	if factType == "" {
		factType = "unknown"
	}
	m.facts.WithLabelValues(factType).Inc()
	m.sequence.Set(float64(sequence))
}

// RecordGap counts a discontinuity in the archived sequence.
func (m *factMetrics) RecordGap() {
	if m == nil {
		return
	}
	m.gaps.Inc()
}

// RecordStreamClosed counts websocket streams ended for reason.
func (m *factMetrics) RecordStreamClosed(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// RecordArchiveFailure counts a failed archive write.
func (m *factMetrics) RecordArchiveFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
