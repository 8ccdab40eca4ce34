// invoice/sync_worker.go
package invoice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eGGnogSC/qbbridge/internal/metrics"
)

const defaultSyncBatch = 50

// SyncWorker retries CRM write-backs for invoices persisted with the pending flag.
type SyncWorker struct {
	store    Store
	crm      CRM
	opts     Options
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewSyncWorker(store Store, crm CRM, opts Options, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *SyncWorker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if opts.InvoiceNumberProperty == "" {
		opts.InvoiceNumberProperty = "qb_invoice_number"
	}
	if opts.InvoiceURLProperty == "" {
		opts.InvoiceURLProperty = "qb_invoice_url"
	}
	return &SyncWorker{
		store:    store,
		crm:      crm,
		opts:     opts,
		interval: interval,
		batch:    defaultSyncBatch,
		metrics:  m,
		log:      log.Named("invoice.sync"),
	}
}

// Start runs RunOnce every interval until ctx is cancelled.
func (w *SyncWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.RunOnce(ctx); err != nil {
					w.log.Warn("write-back sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// RunOnce pushes one batch of pending records to the CRM and returns how many
// were synced.
func (w *SyncWorker) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.store.ListPendingSync(ctx, w.batch)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		log := w.log.With(zap.String("dealId", rec.DealID), zap.String("invoiceNumber", rec.InvoiceNumber))
		err := w.crm.UpdateDeal(ctx, rec.DealID, map[string]string{
			w.opts.InvoiceNumberProperty: rec.InvoiceNumber,
			w.opts.InvoiceURLProperty:    rec.InvoiceURL,
		})
		if err != nil {
			w.metrics.RecordCRMWriteBack("failed")
			log.Warn("CRM write-back retry failed", zap.Error(err))
			continue
		}
		w.metrics.RecordCRMWriteBack("ok")
		if err := w.store.MarkSynced(ctx, rec.ID); err != nil {
			log.Error("write-back succeeded but pending flag could not be cleared", zap.Error(err))
			continue
		}
		synced++
	}
	if synced > 0 {
		w.log.Info("CRM write-backs completed", zap.Int("synced", synced), zap.Int("pending", len(pending)))
	}
	return synced, nil
}
