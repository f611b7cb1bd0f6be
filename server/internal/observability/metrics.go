package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the service counters and histograms on a prometheus
// registry.
type Metrics struct {
	registry *prometheus.Registry

	analysesTotal     *prometheus.CounterVec
	aggregationsTotal *prometheus.CounterVec
	searchesTotal     *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		analysesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrace",
			Name:      "analyses_total",
			Help:      "Capture analyses by outcome.",
		}, []string{"outcome"}),
		aggregationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrace",
			Name:      "aggregations_total",
			Help:      "Interval aggregations by interval and outcome.",
		}, []string{"interval", "outcome"}),
		searchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrace",
			Name:      "searches_total",
			Help:      "Searches by result kind.",
		}, []string{"kind"}),
		modelCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "retrace",
			Name:      "model_call_duration_seconds",
			Help:      "Latency of vision, chat and embedding calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"model_kind"}),
	}
}

// Registry returns the prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAnalysis counts one capture analysis.
func (m *Metrics) RecordAnalysis(outcome string) {
	m.analysesTotal.WithLabelValues(outcome).Inc()
}

// RecordAggregation counts one aggregation attempt.
func (m *Metrics) RecordAggregation(interval, outcome string) {
	m.aggregationsTotal.WithLabelValues(interval, outcome).Inc()
}

// RecordSearch counts one executed search by result kind.
func (m *Metrics) RecordSearch(kind string) {
	m.searchesTotal.WithLabelValues(kind).Inc()
}

// ObserveModelCall records the latency of one provider call.
func (m *Metrics) ObserveModelCall(kind string, duration time.Duration) {
	m.modelCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
