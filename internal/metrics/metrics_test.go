package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordInvoice("created")
	m.RecordInvoice("created")
	m.RecordInvoice("InvalidAmount")
	m.RecordTokenRefresh("success")
	m.RecordReconcileDeleted(3)
	m.RecordReconcileDeleted(0)
	m.RecordReconcileFailOpen()
	m.RecordCRMWriteBack("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.invoices.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invoices.WithLabelValues("InvalidAmount")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconcileDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileFailOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.crmSync.WithLabelValues("failed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInvoice("created")
		m.RecordTokenRefresh("failed")
		m.RecordReconcileDeleted(1)
		m.RecordReconcileFailOpen()
		m.RecordCRMWriteBack("ok")
	})
}
