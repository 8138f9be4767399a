// Package metrics exposes prometheus instrumentation for the usage ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics holds the ledger's prometheus collectors.
type Metrics struct {
	EventsRecorded     *prometheus.CounterVec
	EventsDeduplicated *prometheus.CounterVec
	QuotaDenied        *prometheus.CounterVec
	ReconcileMismatch  prometheus.Counter
}

// Module provides the registered metrics.
var Module = fx.Provide(New)

// New registers the ledger collectors on the default registry.
func New() *Metrics {
	m := &Metrics{
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "usage_events_recorded_total",
			Help:      "Usage events appended to the ledger.",
		}, []string{"action", "status"}),
		EventsDeduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "usage_events_deduplicated_total",
			Help:      "Record calls recognized as idempotent retries.",
		}, []string{"action"}),
		QuotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "quota_denied_total",
			Help:      "Quota checks that returned not allowed.",
		}, []string{"action"}),
		ReconcileMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "reconcile_mismatches_total",
			Help:      "Mismatches found by reconciliation runs.",
		}),
	}

	prometheus.MustRegister(
		m.EventsRecorded,
		m.EventsDeduplicated,
		m.QuotaDenied,
		m.ReconcileMismatch,
	)

	return m
}

// IncRecorded counts one appended event.
func (m *Metrics) IncRecorded(action, status string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(action, status).Inc()
}

// IncDeduplicated counts one idempotent retry.
func (m *Metrics) IncDeduplicated(action string) {
	if m == nil {
		return
	}
	m.EventsDeduplicated.WithLabelValues(action).Inc()
}

// IncQuotaDenied counts one denied quota check.
func (m *Metrics) IncQuotaDenied(action string) {
	if m == nil {
		return
	}
	m.QuotaDenied.WithLabelValues(action).Inc()
}

// AddReconcileMismatches counts mismatches surfaced by a reconcile run.
func (m *Metrics) AddReconcileMismatches(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReconcileMismatch.Add(float64(n))
}
