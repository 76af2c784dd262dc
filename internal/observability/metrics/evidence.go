package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EvidenceMetrics records retrieval, index cache and circuit breaker
// outcomes. It satisfies ports.RetrievalObserver and ports.CacheObserver.
type EvidenceMetrics struct {
	service string

	dimensionsTotal    *prometheus.CounterVec
	dimensionChunks    *prometheus.HistogramVec
	expansionsTotal    *prometheus.CounterVec
	assembleTotal      *prometheus.CounterVec
	assembleDuration   *prometheus.HistogramVec
	indexCacheTotal    *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
}

func NewEvidenceMetrics(service string, registerer prometheus.Registerer) *EvidenceMetrics {
	dimensionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "retrieval",
			Name:      "dimensions_total",
			Help:      "Total retrieved dimensions by status.",
		},
		[]string{"service", "status"},
	)
	dimensionChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evidence",
			Subsystem: "retrieval",
			Name:      "dimension_chunks",
			Help:      "Distribution of chunks kept per successful dimension.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	expansionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "retrieval",
			Name:      "expansions_total",
			Help:      "Total query expansion attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	assembleTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "bundle",
			Name:      "assembled_total",
			Help:      "Total assembled evidence bundles by whether evidence was found.",
		},
		[]string{"service", "evidence"},
	)
	assembleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evidence",
			Subsystem: "bundle",
			Name:      "assemble_duration_seconds",
			Help:      "Evidence bundle assembly duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service"},
	)
	indexCacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "index_cache",
			Name:      "lookups_total",
			Help:      "Total index cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation.",
		},
		[]string{"service", "operation", "from", "to"},
	)

	registerer.MustRegister(
		dimensionsTotal,
		dimensionChunks,
		expansionsTotal,
		assembleTotal,
		assembleDuration,
		indexCacheTotal,
		breakerTransitions,
	)

	return &EvidenceMetrics{
		service:            service,
		dimensionsTotal:    dimensionsTotal,
		dimensionChunks:    dimensionChunks,
		expansionsTotal:    expansionsTotal,
		assembleTotal:      assembleTotal,
		assembleDuration:   assembleDuration,
		indexCacheTotal:    indexCacheTotal,
		breakerTransitions: breakerTransitions,
	}
}

func (m *EvidenceMetrics) ObserveDimension(status string, chunks int) {
	if status == "" {
		status = "unknown"
	}
	m.dimensionsTotal.WithLabelValues(m.service, status).Inc()
	if chunks > 0 {
		m.dimensionChunks.WithLabelValues(m.service).Observe(float64(chunks))
	}
}

func (m *EvidenceMetrics) ObserveExpansion(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.expansionsTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *EvidenceMetrics) ObserveAssemble(duration time.Duration, noEvidence bool) {
	found := "found"
	if noEvidence {
		found = "none"
	}
	m.assembleTotal.WithLabelValues(m.service, found).Inc()
	m.assembleDuration.WithLabelValues(m.service).Observe(duration.Seconds())
}

func (m *EvidenceMetrics) ObserveIndexCache(result string) {
	if result == "" {
		result = "unknown"
	}
	m.indexCacheTotal.WithLabelValues(m.service, result).Inc()
}

// ObserveBreakerState matches resilience.StateObserver.
func (m *EvidenceMetrics) ObserveBreakerState(operation, from, to string) {
	m.breakerTransitions.WithLabelValues(m.service, operation, from, to).Inc()
}
