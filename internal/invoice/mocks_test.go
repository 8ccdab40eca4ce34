package invoice

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eGGnogSC/qbbridge/internal/auth"
	"github.com/eGGnogSC/qbbridge/pkg/hubspot"
	"github.com/eGGnogSC/qbbridge/pkg/qbclient"
)

// -- Mocks --

type tokenMock struct {
	mock.Mock
}

func (m *tokenMock) GetValidToken(ctx context.Context) (*auth.SharedToken, error) {
	args := m.Called(ctx)
	if tok := args.Get(0); tok != nil {
		return tok.(*auth.SharedToken), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *tokenMock) RefreshToken(ctx context.Context) (*auth.SharedToken, error) {
	args := m.Called(ctx)
	if tok := args.Get(0); tok != nil {
		return tok.(*auth.SharedToken), args.Error(1)
	}
	return nil, args.Error(1)
}

type crmMock struct {
	mock.Mock
}

func (m *crmMock) GetDeal(ctx context.Context, id string) (*hubspot.Deal, error) {
	args := m.Called(ctx, id)
	if d := args.Get(0); d != nil {
		return d.(*hubspot.Deal), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *crmMock) GetContact(ctx context.Context, id string) (*hubspot.Contact, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*hubspot.Contact), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *crmMock) UpdateDeal(ctx context.Context, id string, props map[string]string) error {
	return m.Called(ctx, id, props).Error(0)
}

type accountingMock struct {
	mock.Mock
}

func (m *accountingMock) FindCustomerByEmail(ctx context.Context, email string) (*qbclient.Customer, error) {
	args := m.Called(ctx, email)
	if c := args.Get(0); c != nil {
		return c.(*qbclient.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *accountingMock) CreateCustomer(ctx context.Context, in qbclient.Customer) (*qbclient.Customer, error) {
	args := m.Called(ctx, in)
	if c := args.Get(0); c != nil {
		return c.(*qbclient.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *accountingMock) FirstItem(ctx context.Context) (*qbclient.Item, error) {
	args := m.Called(ctx)
	if it := args.Get(0); it != nil {
		return it.(*qbclient.Item), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *accountingMock) ListTaxCodes(ctx context.Context) ([]qbclient.TaxCode, error) {
	args := m.Called(ctx)
	if codes := args.Get(0); codes != nil {
		return codes.([]qbclient.TaxCode), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *accountingMock) FindTermByName(ctx context.Context, name string) (*qbclient.Term, error) {
	args := m.Called(ctx, name)
	if term := args.Get(0); term != nil {
		return term.(*qbclient.Term), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *accountingMock) CreateInvoice(ctx context.Context, in qbclient.Invoice) (*qbclient.Invoice, error) {
	args := m.Called(ctx, in)
	if inv := args.Get(0); inv != nil {
		return inv.(*qbclient.Invoice), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *accountingMock) VerifyInvoices(ctx context.Context, ids []string) (map[string]bool, error) {
	args := m.Called(ctx, ids)
	if res := args.Get(0); res != nil {
		return res.(map[string]bool), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *accountingMock) InvoiceURL(id string) string {
	return m.Called(id).String(0)
}

// -- Helpers --

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
