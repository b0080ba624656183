// Package metrics exposes Prometheus instrumentation for the view pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultMiss  = "miss"
)

// Metrics groups the collectors used across packages. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SourceFetches  *prometheus.CounterVec
	SourceDuration *prometheus.HistogramVec
	DetailLookups  *prometheus.CounterVec
	Epochs         *prometheus.CounterVec
	LateDropped    *prometheus.CounterVec
	ViewQueries    *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduops",
			Name:      "source_fetches_total",
			Help:      "Source collection fetches by view, source and result.",
		}, []string{"view", "source", "result"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eduops",
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of source collection fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view", "source"}),
		DetailLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduops",
			Name:      "detail_lookups_total",
			Help:      "Detail look-ups by view and result.",
		}, []string{"view", "result"}),
		Epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduops",
			Name:      "dataset_epochs_total",
			Help:      "Dataset epochs started per view.",
		}, []string{"view"}),
		LateDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduops",
			Name:      "late_results_dropped_total",
			Help:      "Fetch results discarded because their epoch was superseded.",
		}, []string{"view", "source"}),
		ViewQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduops",
			Name:      "view_queries_total",
			Help:      "View queries by view and resulting status.",
		}, []string{"view", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SourceFetches, m.SourceDuration, m.DetailLookups, m.Epochs, m.LateDropped, m.ViewQueries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one source fetch.
func (m *Metrics) ObserveFetch(view, src string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.SourceFetches.WithLabelValues(view, src, result).Inc()
	m.SourceDuration.WithLabelValues(view, src).Observe(d.Seconds())
}

// AddDetails records detail look-up outcomes.
func (m *Metrics) AddDetails(view string, found, missed, failed int) {
	if m == nil {
		return
	}
	m.DetailLookups.WithLabelValues(view, ResultOK).Add(float64(found))
	m.DetailLookups.WithLabelValues(view, ResultMiss).Add(float64(missed))
	m.DetailLookups.WithLabelValues(view, ResultError).Add(float64(failed))
}

// IncEpoch records a new dataset epoch.
func (m *Metrics) IncEpoch(view string) {
	if m == nil {
		return
	}
	m.Epochs.WithLabelValues(view).Inc()
}

// IncLateDropped records a discarded stale result.
func (m *Metrics) IncLateDropped(view, src string) {
	if m == nil {
		return
	}
	m.LateDropped.WithLabelValues(view, src).Inc()
}

// IncQuery records a served view query.
func (m *Metrics) IncQuery(view, status string) {
	if m == nil {
		return
	}
	m.ViewQueries.WithLabelValues(view, status).Inc()
}
