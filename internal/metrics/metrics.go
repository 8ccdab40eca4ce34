package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qbbridge"

// Metrics exposes application-level instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tokenRefreshes    *prometheus.CounterVec
	invoices          *prometheus.CounterVec
	reconcileDeleted  prometheus.Counter
	reconcileFailOpen prometheus.Counter
	crmSync           *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "QuickBooks refresh-token exchanges by result.",
		}, []string{"result"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_create_total",
			Help:      "Invoice creation attempts by outcome kind.",
		}, []string{"outcome"}),
		reconcileDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_deleted_total",
			Help:      "Local invoice records removed because QuickBooks no longer reports them valid.",
		}),
		reconcileFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_fail_open_total",
			Help:      "Reconciliations that kept every record because verification failed.",
		}),
		crmSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_writeback_total",
			Help:      "CRM deal write-backs by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.tokenRefreshes, m.invoices, m.reconcileDeleted, m.reconcileFailOpen, m.crmSync)
	return m
}

func (m *Metrics) RecordTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(strings.TrimSpace(result)).Inc()
}

func (m *Metrics) RecordInvoice(outcome string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(strings.TrimSpace(outcome)).Inc()
}

func (m *Metrics) RecordReconcileDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconcileDeleted.Add(float64(n))
}

func (m *Metrics) RecordReconcileFailOpen() {
	if m == nil {
		return
	}
	m.reconcileFailOpen.Inc()
}

func (m *Metrics) RecordCRMWriteBack(result string) {
	if m == nil {
		return
	}
	m.crmSync.WithLabelValues(strings.TrimSpace(result)).Inc()
}
