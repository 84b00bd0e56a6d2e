// Package metrics exposes orchestration and watcher activity as Prometheus
// metrics on a dedicated registry.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kamir/global-schema-registry/internal/schema"
)

const namespace = "gsr"

// Metrics records orchestrator observations. It implements
// orchestrator.Observer.
type Metrics struct {
	registry *prometheus.Registry

	subjectChecks   *prometheus.CounterVec
	bulkRuns        prometheus.Counter
	bulkDuration    prometheus.Histogram
	bulkLastResults *prometheus.GaugeVec
	healthy         *prometheus.GaugeVec
	healthLatency   *prometheus.GaugeVec
	modeSets        *prometheus.CounterVec
	watchEvents     *prometheus.CounterVec
	watchErrors     prometheus.Counter
	watchOffset     prometheus.Gauge
}

// New creates a metrics set on a fresh registry. Every metric carries a
// constant service label. Go and process collectors are added when
// runtime is true.
func New(service string, runtime bool) *Metrics {
	reg := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, reg)

	m := &Metrics{
		registry: reg,
		subjectChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subject_checks_total",
			Help:      "Total number of subject compatibility checks by outcome",
		}, []string{"registry", "result"}),
		bulkRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_checks_total",
			Help:      "Total number of bulk compatibility runs",
		}),
		bulkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_check_duration_seconds",
			Help:      "Wall-clock duration of bulk compatibility runs",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		bulkLastResults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulk_check_last_results",
			Help:      "Counts from the most recent bulk compatibility run",
		}, []string{"result"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_healthy",
			Help:      "1 if the last health probe of the registry succeeded",
		}, []string{"registry"}),
		healthLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_health_response_seconds",
			Help:      "Response time of the last health probe",
		}, []string{"registry"}),
		modeSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_changes_total",
			Help:      "Total number of compatibility mode changes by status",
		}, []string{"registry", "status"}),
		watchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Total number of _schemas events processed by type",
		}, []string{"type"}),
		watchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_errors_total",
			Help:      "Total number of watcher errors",
		}),
		watchOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_last_offset",
			Help:      "Last processed _schemas offset",
		}),
	}

	wrapped.MustRegister(
		m.subjectChecks,
		m.bulkRuns,
		m.bulkDuration,
		m.bulkLastResults,
		m.healthy,
		m.healthLatency,
		m.modeSets,
		m.watchEvents,
		m.watchErrors,
		m.watchOffset,
	)
	if runtime {
		wrapped.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SubjectChecked counts one subject check.
func (m *Metrics) SubjectChecked(check schema.SubjectCheck) {
	result := "incompatible"
	switch {
	case len(check.Errors) > 0:
		result = "error"
	case check.Compatible:
		result = "compatible"
	}
	m.subjectChecks.WithLabelValues(check.RegistryID, result).Inc()
}

// BulkCheckCompleted records a finished bulk run.
func (m *Metrics) BulkCheckCompleted(r *schema.BulkCheckResult) {
	m.bulkRuns.Inc()
	m.bulkDuration.Observe(r.Duration.Seconds())
	m.bulkLastResults.WithLabelValues("total").Set(float64(r.TotalChecked))
	m.bulkLastResults.WithLabelValues("compatible").Set(float64(r.Compatible))
	m.bulkLastResults.WithLabelValues("incompatible").Set(float64(r.Incompatible))
	m.bulkLastResults.WithLabelValues("error").Set(float64(r.Errors))
}

// HealthObserved records the latest probe of a registry.
func (m *Metrics) HealthObserved(registryID string, status *schema.HealthStatus) {
	v := 0.0
	if status.Healthy {
		v = 1
	}
	m.healthy.WithLabelValues(registryID).Set(v)
	m.healthLatency.WithLabelValues(registryID).Set(status.ResponseTimeMS / 1000)
}

// ModeSet counts a mode change. Free-form error statuses collapse into
// "error".
func (m *Metrics) ModeSet(registryID, subject, status string) {
	if strings.HasPrefix(status, "error") {
		status = "error"
	}
	m.modeSets.WithLabelValues(registryID, status).Inc()
}

// WatchEvent counts a processed _schemas record.
func (m *Metrics) WatchEvent(kind string, offset int64) {
	m.watchEvents.WithLabelValues(kind).Inc()
	m.watchOffset.Set(float64(offset))
}

// WatchError counts a watcher failure.
func (m *Metrics) WatchError() {
	m.watchErrors.Inc()
}
