package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"zacharie/internal/core"
	"zacharie/internal/metrics"
	"zacharie/internal/reconcile"
)

var (
	_ core.MetricsRecorder = (*metrics.Metrics)(nil)
	_ reconcile.Observer   = (*metrics.Metrics)(nil)
)

func TestObserveCountsByStatus(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.Observe(context.Background(), "commit_transfer", true, 3*time.Millisecond)
	m.Observe(context.Background(), "commit_transfer", false, time.Millisecond)
	m.Observe(context.Background(), "commit_transfer", false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("commit_transfer", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("commit_transfer", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestObserveBatchAndArchive(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.ObserveBatch(reconcile.OutcomeAccepted)
	m.ObserveBatch(reconcile.OutcomeConflict)
	m.ObserveBatch(reconcile.OutcomeAccepted)
	m.ObserveBatch(reconcile.OutcomeRejected)
	m.ObserveArchived(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncBatches.WithLabelValues(reconcile.OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncBatches.WithLabelValues(reconcile.OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncBatches.WithLabelValues(reconcile.OutcomeRejected)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ArchivedEntries))
}

func TestServiceReportsToRegistry(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(true), core.WithMetricsRecorder(m))
	_, err := svc.ListAudit(context.Background(), "ZACH-UNKNOWN")
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("list_audit", "success")))
}
