// Package metrics exposes the service and sync instrumentation as
// Prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. It satisfies core.MetricsRecorder and
// reconcile.Observer.
type Metrics struct {
	Operations        *prometheus.CounterVec   // service operations by name and status
	OperationDuration *prometheus.HistogramVec // service operation latency in seconds
	SyncBatches       *prometheus.CounterVec   // sync batches by outcome (accepted, conflict, failed)
	ArchivedEntries   prometheus.Counter       // audit entries written to the archive
}

// New registers the collectors on reg, or on the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zacharie",
				Name:      "operations_total",
				Help:      "Service operations by name and status (success, error)",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "zacharie",
				Name:      "operation_duration_seconds",
				Help:      "Service operation latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		SyncBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zacharie",
				Name:      "sync_batches_total",
				Help:      "FEI batches handled by the sync engine by outcome",
			},
			[]string{"outcome"},
		),
		ArchivedEntries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "zacharie",
				Name:      "audit_archived_entries_total",
				Help:      "Audit entries written to the archive",
			},
		),
	}
}

// Observe records one service operation.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveBatch records the outcome of one sync batch.
func (m *Metrics) ObserveBatch(outcome string) {
	m.SyncBatches.WithLabelValues(outcome).Inc()
}

// ObserveArchived counts audit entries written to the archive.
func (m *Metrics) ObserveArchived(n int) {
	m.ArchivedEntries.Add(float64(n))
}
