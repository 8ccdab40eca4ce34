// invoice/reconciler.go
package invoice

import (
	"context"

	"go.uber.org/zap"

	"github.com/eGGnogSC/qbbridge/internal/apperr"
)

// ListInvoices returns the deal's invoices that QuickBooks still reports as
// valid, deleting local records for the rest. When verification cannot be
// trusted every record is kept and reported valid.
func (s *Service) ListInvoices(ctx context.Context, dealID string) ([]Record, error) {
	if dealID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "dealId is required")
	}
	log := s.log.With(zap.String("dealId", dealID))

	records, err := s.store.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to load invoices", err)
	}
	if len(records) == 0 {
		return []Record{}, nil
	}

	token, err := s.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, apperr.From(err)
	}

	numbers := make([]string, len(records))
	for i, rec := range records {
		numbers[i] = rec.InvoiceNumber
	}

	verified, err := s.accounting(token).VerifyInvoices(ctx, numbers)
	if err != nil {
		log.Warn("invoice verification failed; keeping all local records", zap.Error(err))
		s.metrics.RecordReconcileFailOpen()
		return markAll(records, true), nil
	}

	var (
		kept  = make([]Record, 0, len(records))
		stale []string
	)
	for _, rec := range records {
		valid, reported := verified[rec.InvoiceNumber]
		switch {
		case reported && valid:
			rec.Valid = true
			kept = append(kept, rec)
		case reported && !valid:
			stale = append(stale, rec.InvoiceNumber)
		case len(verified) > 0:
			// Absent from a usable answer: deleted remotely.
			stale = append(stale, rec.InvoiceNumber)
		default:
			rec.Valid = true
			kept = append(kept, rec)
		}
	}

	if len(stale) > 0 {
		deleted, err := s.store.DeleteByNumbers(ctx, stale)
		if err != nil {
			log.Error("failed to delete stale invoice records", zap.Strings("invoiceNumbers", stale), zap.Error(err))
		} else {
			s.metrics.RecordReconcileDeleted(int(deleted))
			log.Info("removed stale invoice records", zap.Strings("invoiceNumbers", stale), zap.Int64("deleted", deleted))
		}
	}
	return kept, nil
}

func markAll(records []Record, valid bool) []Record {
	for i := range records {
		records[i].Valid = valid
	}
	return records
}
