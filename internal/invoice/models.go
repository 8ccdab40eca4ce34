// invoice/models.go
package invoice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eGGnogSC/qbbridge/internal/auth"
	"github.com/eGGnogSC/qbbridge/pkg/hubspot"
	"github.com/eGGnogSC/qbbridge/pkg/qbclient"
)

// Record is the local projection of a QuickBooks invoice created for a deal.
type Record struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         string    `gorm:"index" json:"userId"`
	DealID         string    `gorm:"not null;index" json:"dealId"`
	ContactID      string    `gorm:"not null" json:"contactId"`
	CustomerID     string    `gorm:"not null" json:"customerId"`
	InvoiceNumber  string    `gorm:"not null;uniqueIndex" json:"invoiceNumber"`
	DocNumber      string    `json:"docNumber,omitempty"`
	InvoiceURL     string    `gorm:"not null" json:"invoiceUrl"`
	CRMSyncPending bool      `gorm:"not null;default:false;index" json:"crmSyncPending"`
	CreatedAt      time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	Valid bool `gorm:"-" json:"valid"`
}

func (Record) TableName() string { return "invoices" }

func (r *Record) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// CustomerMapping caches which QuickBooks customer a CRM contact resolved to.
type CustomerMapping struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ContactID  string    `gorm:"not null;uniqueIndex" json:"contactId"`
	CustomerID string    `gorm:"not null" json:"customerId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (CustomerMapping) TableName() string { return "customer_mappings" }

func (m *CustomerMapping) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// CreateRequest identifies the deal and contact to invoice.
type CreateRequest struct {
	UserID    string
	DealID    string
	ContactID string
}

// Result is what a successful invoice creation reports back.
type Result struct {
	InvoiceNumber  string `json:"invoiceNumber"`
	InvoiceURL     string `json:"invoiceUrl"`
	DocNumber      string `json:"docNumber,omitempty"`
	CRMSyncPending bool   `json:"crmSyncPending,omitempty"`
}

// TokenProvider hands out a valid shared QuickBooks token.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (*auth.SharedToken, error)
	RefreshToken(ctx context.Context) (*auth.SharedToken, error)
}

// CRM is the deal/contact side of the bridge.
type CRM interface {
	GetDeal(ctx context.Context, id string) (*hubspot.Deal, error)
	GetContact(ctx context.Context, id string) (*hubspot.Contact, error)
	UpdateDeal(ctx context.Context, id string, props map[string]string) error
}

// Accounting is the QuickBooks capability set the orchestrator and the
// reconciler rely on.
type Accounting interface {
	FindCustomerByEmail(ctx context.Context, email string) (*qbclient.Customer, error)
	CreateCustomer(ctx context.Context, in qbclient.Customer) (*qbclient.Customer, error)
	FirstItem(ctx context.Context) (*qbclient.Item, error)
	ListTaxCodes(ctx context.Context) ([]qbclient.TaxCode, error)
	FindTermByName(ctx context.Context, name string) (*qbclient.Term, error)
	CreateInvoice(ctx context.Context, in qbclient.Invoice) (*qbclient.Invoice, error)
	VerifyInvoices(ctx context.Context, ids []string) (map[string]bool, error)
	InvoiceURL(id string) string
}

// AccountingFactory binds an Accounting gateway to the current token.
type AccountingFactory func(token *auth.SharedToken) Accounting

// QuickBooksFactory returns a factory producing sessions of base.
func QuickBooksFactory(base *qbclient.Client) AccountingFactory {
	return func(token *auth.SharedToken) Accounting {
		return base.WithSession(token.AccessToken, token.RealmID)
	}
}

// Store persists invoice records and customer mappings.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	ListByDeal(ctx context.Context, dealID string) ([]Record, error)
	DeleteByNumbers(ctx context.Context, numbers []string) (int64, error)
	ListPendingSync(ctx context.Context, limit int) ([]Record, error)
	MarkSynced(ctx context.Context, id uuid.UUID) error
	UpsertMapping(ctx context.Context, m *CustomerMapping) error
	GetMapping(ctx context.Context, contactID string) (*CustomerMapping, error)
}

// Options configures invoice composition.
type Options struct {
	TaxCodeID             string
	TaxCodeNames          []string
	BypassTax             bool
	PaymentTerm           string
	DueDays               int
	InvoiceNumberProperty string
	InvoiceURLProperty    string
}
