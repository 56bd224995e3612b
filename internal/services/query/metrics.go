package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of the query service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	queries  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	skips    *prometheus.CounterVec
	sessions prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iot_query",
			Name:      "queries_total",
			Help:      "Queries handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "iot_query",
			Name:      "query_duration_seconds",
			Help:      "Time spent answering a query.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iot_query",
			Name:      "samples_skipped_total",
			Help:      "Reading documents left out because a value was missing or not numeric.",
		}, []string{"role"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iot_query",
			Name:      "sessions_total",
			Help:      "TCP client connections accepted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queries, m.latency, m.skips, m.sessions)
	}
	return m
}

func (m *Metrics) observe(kind, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(kind, outcome).Inc()
	m.latency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) skipped(role string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(role).Inc()
}

func (m *Metrics) session() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}
