// invoice/repository.go
package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateInvoice is returned when an invoice number is already stored.
var ErrDuplicateInvoice = errors.New("invoice number already recorded")

// Repository is the gorm-backed Store.
type Repository struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewRepository(db *gorm.DB, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repository{db: db, timeout: timeout}
}

// Migrate creates or updates the invoice and mapping tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{}, &CustomerMapping{})
}

func (r *Repository) withTimeout(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(ctx), cancel
}

func (r *Repository) Create(ctx context.Context, rec *Record) error {
	db, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int64
	if err := db.Model(&Record{}).Where("invoice_number = ?", rec.InvoiceNumber).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check invoice number: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateInvoice, rec.InvoiceNumber)
	}
	if err := db.Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateInvoice, rec.InvoiceNumber)
		}
		return fmt.Errorf("failed to insert invoice %s: %w", rec.InvoiceNumber, err)
	}
	return nil
}

func (r *Repository) ListByDeal(ctx context.Context, dealID string) ([]Record, error) {
	db, cancel := r.withTimeout(ctx)
	defer cancel()

	var records []Record
	err := db.Where("deal_id = ?", dealID).
		Order("created_at desc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices for deal %s: %w", dealID, err)
	}
	return records, nil
}

func (r *Repository) DeleteByNumbers(ctx context.Context, numbers []string) (int64, error) {
	if len(numbers) == 0 {
		return 0, nil
	}
	db, cancel := r.withTimeout(ctx)
	defer cancel()

	res := db.Where("invoice_number IN ?", numbers).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete invoices: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListPendingSync returns the oldest records whose CRM write-back is outstanding.
func (r *Repository) ListPendingSync(ctx context.Context, limit int) ([]Record, error) {
	db, cancel := r.withTimeout(ctx)
	defer cancel()

	stmt := db.Where("crm_sync_pending = ?", true).Order("created_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	var records []Record
	if err := stmt.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending write-backs: %w", err)
	}
	return records, nil
}

func (r *Repository) MarkSynced(ctx context.Context, id uuid.UUID) error {
	db, cancel := r.withTimeout(ctx)
	defer cancel()

	err := db.Model(&Record{}).Where("id = ?", id).Update("crm_sync_pending", false).Error
	if err != nil {
		return fmt.Errorf("failed to clear pending flag on %s: %w", id, err)
	}
	return nil
}

// UpsertMapping stores m keyed by contact id; the last write wins.
func (r *Repository) UpsertMapping(ctx context.Context, m *CustomerMapping) error {
	db, cancel := r.withTimeout(ctx)
	defer cancel()

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contact_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"customer_id", "name", "email", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to upsert customer mapping for contact %s: %w", m.ContactID, err)
	}
	return nil
}

// GetMapping returns the mapping for a contact, or nil when none exists.
func (r *Repository) GetMapping(ctx context.Context, contactID string) (*CustomerMapping, error) {
	db, cancel := r.withTimeout(ctx)
	defer cancel()

	var m CustomerMapping
	err := db.Where("contact_id = ?", contactID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer mapping for contact %s: %w", contactID, err)
	}
	return &m, nil
}
