// invoice/service.go
package invoice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/eGGnogSC/qbbridge/internal/apperr"
	"github.com/eGGnogSC/qbbridge/internal/metrics"
	"github.com/eGGnogSC/qbbridge/pkg/hubspot"
	"github.com/eGGnogSC/qbbridge/pkg/qbclient"
)

const (
	defaultGivenName  = "Unknown"
	defaultFamilyName = "Customer"
	maxMemoLength     = 1000
)

// Service drives invoice creation and reconciliation for CRM deals.
type Service struct {
	tokens     TokenProvider
	crm        CRM
	accounting AccountingFactory
	store      Store
	opts       Options
	taxCodes   []TaxCodeResolver
	terms      []TermResolver
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithTaxCodeResolvers replaces the default tax code strategy list.
func WithTaxCodeResolvers(r ...TaxCodeResolver) ServiceOption {
	return func(s *Service) { s.taxCodes = r }
}

// WithTermResolvers replaces the default payment term strategy list.
func WithTermResolvers(r ...TermResolver) ServiceOption {
	return func(s *Service) { s.terms = r }
}

func NewService(tokens TokenProvider, crm CRM, accounting AccountingFactory, store Store, opts Options, log *zap.Logger, options ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DueDays <= 0 {
		opts.DueDays = 15
	}
	if opts.InvoiceNumberProperty == "" {
		opts.InvoiceNumberProperty = "qb_invoice_number"
	}
	if opts.InvoiceURLProperty == "" {
		opts.InvoiceURLProperty = "qb_invoice_url"
	}
	s := &Service{
		tokens:     tokens,
		crm:        crm,
		accounting: accounting,
		store:      store,
		opts:       opts,
		taxCodes:   DefaultTaxCodeResolvers(opts.TaxCodeNames),
		terms:      []TermResolver{NamedTerm(opts.PaymentTerm), DueAfter(opts.DueDays)},
		log:        log.Named("invoice.service"),
		now:        time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// CreateInvoice creates one QuickBooks invoice for a deal, writes the
// reference back to the CRM and records it locally. Every failure is returned
// as an *apperr.Error.
func (s *Service) CreateInvoice(ctx context.Context, req CreateRequest) (*Result, error) {
	res, err := s.createInvoice(ctx, req)
	if err != nil {
		e := apperr.From(err)
		s.metrics.RecordInvoice(string(e.Kind))
		log := s.log.With(zap.String("dealId", req.DealID), zap.String("contactId", req.ContactID), zap.String("kind", string(e.Kind)))
		if e.Status() >= 500 && e.Kind != apperr.RetryableAuthError {
			log.Error("invoice creation failed", zap.Error(err))
		} else {
			log.Warn("invoice creation rejected", zap.Error(err))
		}
		return nil, e
	}
	if res.CRMSyncPending {
		s.metrics.RecordInvoice("partial")
	} else {
		s.metrics.RecordInvoice("created")
	}
	return res, nil
}

func (s *Service) createInvoice(ctx context.Context, req CreateRequest) (*Result, error) {
	if req.DealID == "" || req.ContactID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "dealId and contactId are required")
	}

	token, err := s.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	acct := s.accounting(token)

	deal, err := s.crm.GetDeal(ctx, req.DealID)
	if err != nil {
		return nil, crmFailure("deal", req.DealID, err)
	}
	amount, err := parseAmount(deal.Amount)
	if err != nil {
		return nil, err
	}
	contact, err := s.crm.GetContact(ctx, req.ContactID)
	if err != nil {
		return nil, crmFailure("contact", req.ContactID, err)
	}
	if contact.ID == "" {
		contact.ID = req.ContactID
	}

	customerID, err := s.resolveCustomer(ctx, acct, contact)
	if err != nil {
		return nil, err
	}

	draft, err := s.compose(ctx, acct, deal, contact, customerID, amount)
	if err != nil {
		return nil, err
	}

	created, err := acct.CreateInvoice(ctx, *draft)
	if err != nil {
		if qbclient.IsAuthError(err) {
			return nil, s.authFailure(ctx, "create invoice", err)
		}
		return nil, apperr.Wrap(apperr.InvoiceCreationFailed,
			"Failed to create invoice in QuickBooks: "+remoteDetail(err), err)
	}
	if created == nil || created.ID == "" {
		return nil, apperr.New(apperr.IncompleteInvoiceResult, "QuickBooks did not return an invoice id")
	}
	invoiceURL := acct.InvoiceURL(created.ID)
	if invoiceURL == "" {
		return nil, apperr.New(apperr.IncompleteInvoiceResult, "QuickBooks did not return an invoice URL")
	}

	log := s.log.With(zap.String("dealId", req.DealID), zap.String("invoiceNumber", created.ID))
	pending := false
	if err := s.writeBack(ctx, req.DealID, created.ID, invoiceURL); err != nil {
		pending = true
		log.Error("invoice created but CRM write-back failed; queued for retry", zap.Error(err))
	}

	rec := &Record{
		UserID:         req.UserID,
		DealID:         req.DealID,
		ContactID:      req.ContactID,
		CustomerID:     customerID,
		InvoiceNumber:  created.ID,
		DocNumber:      created.DocNumber,
		InvoiceURL:     invoiceURL,
		CRMSyncPending: pending,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, apperr.Wrap(apperr.PersistFailed,
			fmt.Sprintf("Invoice %s was created in QuickBooks but could not be saved locally", created.ID), err)
	}

	log.Info("invoice created", zap.String("customerId", customerID), zap.Bool("crmSyncPending", pending))
	return &Result{
		InvoiceNumber:  created.ID,
		InvoiceURL:     invoiceURL,
		DocNumber:      created.DocNumber,
		CRMSyncPending: pending,
	}, nil
}

// resolveCustomer reuses the QuickBooks customer with the contact's email or
// creates one, then records the mapping.
func (s *Service) resolveCustomer(ctx context.Context, acct Accounting, contact *hubspot.Contact) (string, error) {
	email := strings.TrimSpace(contact.Email)

	var customer *qbclient.Customer
	if email != "" {
		found, err := acct.FindCustomerByEmail(ctx, email)
		if err != nil {
			return "", s.accountingFailure(ctx, "find customer", err)
		}
		customer = found
	} else if m, err := s.store.GetMapping(ctx, contact.ID); err != nil {
		s.log.Warn("customer mapping lookup failed", zap.String("contactId", contact.ID), zap.Error(err))
	} else if m != nil {
		customer = &qbclient.Customer{ID: m.CustomerID, DisplayName: m.Name}
	}

	if customer == nil {
		given := strings.TrimSpace(contact.FirstName)
		if given == "" {
			given = defaultGivenName
		}
		family := strings.TrimSpace(contact.LastName)
		if family == "" {
			family = defaultFamilyName
		}
		in := qbclient.Customer{
			GivenName:   given,
			FamilyName:  family,
			DisplayName: displayName(given, family, email),
		}
		if email != "" {
			in.PrimaryEmailAddr = &qbclient.EmailAddress{Address: email}
		}
		created, err := acct.CreateCustomer(ctx, in)
		if err != nil {
			return "", s.accountingFailure(ctx, "create customer", err)
		}
		if created == nil || created.ID == "" {
			return "", apperr.New(apperr.Internal, "QuickBooks did not return a customer id")
		}
		customer = created
		s.log.Info("created QuickBooks customer", zap.String("contactId", contact.ID), zap.String("customerId", created.ID))
	}

	mapping := &CustomerMapping{
		ContactID:  contact.ID,
		CustomerID: customer.ID,
		Name:       customer.DisplayName,
		Email:      email,
	}
	if err := s.store.UpsertMapping(ctx, mapping); err != nil {
		s.log.Warn("failed to store customer mapping", zap.String("contactId", contact.ID), zap.Error(err))
	}
	return customer.ID, nil
}

func (s *Service) compose(ctx context.Context, acct Accounting, deal *hubspot.Deal, contact *hubspot.Contact, customerID string, amount float64) (*qbclient.Invoice, error) {
	item, err := acct.FirstItem(ctx)
	if err != nil {
		return nil, s.accountingFailure(ctx, "find item", err)
	}
	if item == nil || item.ID == "" {
		return nil, apperr.New(apperr.NoItemsConfigured, "No items configured in QuickBooks")
	}

	serviceDate := ParseServiceDate(deal.CloseDate, s.now())
	detail := &qbclient.SalesItemLineDetail{
		ItemRef:     qbclient.ReferenceType{Value: item.ID, Name: item.Name},
		Qty:         1,
		UnitPrice:   amount,
		ServiceDate: serviceDate.Format(dateLayout),
	}
	taxCode, err := s.taxCode(ctx, acct)
	if err != nil {
		return nil, err
	}
	if taxCode != "" {
		detail.TaxCodeRef = &qbclient.ReferenceType{Value: taxCode}
	}

	inv := &qbclient.Invoice{
		CustomerRef: qbclient.ReferenceType{Value: customerID},
		Line: []qbclient.Line{{
			Amount:              amount,
			Description:         deal.Name,
			DetailType:          qbclient.SalesItemLineDetailType,
			SalesItemLineDetail: detail,
		}},
	}
	if email := strings.TrimSpace(contact.Email); email != "" {
		inv.BillEmail = &qbclient.EmailAddress{Address: email}
	}
	if memo := strings.TrimSpace(deal.Description); memo != "" {
		inv.CustomerMemo = &qbclient.MemoRef{Value: truncateRunes(memo, maxMemoLength)}
	}

	terms, err := s.resolveTerms(ctx, acct, serviceDate)
	if err != nil {
		return nil, err
	}
	inv.SalesTermRef = terms.TermRef
	inv.DueDate = terms.DueDate
	return inv, nil
}

func (s *Service) taxCode(ctx context.Context, acct Accounting) (string, error) {
	if s.opts.BypassTax {
		return "", nil
	}
	if s.opts.TaxCodeID != "" {
		return s.opts.TaxCodeID, nil
	}
	codes, err := acct.ListTaxCodes(ctx)
	if err != nil {
		if qbclient.IsAuthError(err) {
			return "", s.authFailure(ctx, "list tax codes", err)
		}
		s.log.Warn("tax code lookup failed; invoice will carry no tax code", zap.Error(err))
		return "", nil
	}
	return resolveTaxCode(codes, s.taxCodes), nil
}

func (s *Service) resolveTerms(ctx context.Context, acct Accounting, serviceDate time.Time) (Terms, error) {
	for _, resolve := range s.terms {
		terms, err := resolve(ctx, acct, serviceDate)
		if err != nil {
			if qbclient.IsAuthError(err) {
				return Terms{}, s.authFailure(ctx, "resolve terms", err)
			}
			s.log.Warn("payment term lookup failed", zap.Error(err))
			continue
		}
		if !terms.empty() {
			return terms, nil
		}
	}
	return Terms{}, nil
}

func (s *Service) writeBack(ctx context.Context, dealID, number, invoiceURL string) error {
	err := s.crm.UpdateDeal(ctx, dealID, map[string]string{
		s.opts.InvoiceNumberProperty: number,
		s.opts.InvoiceURLProperty:    invoiceURL,
	})
	if err != nil {
		s.metrics.RecordCRMWriteBack("failed")
		return err
	}
	s.metrics.RecordCRMWriteBack("ok")
	return nil
}

func (s *Service) accountingFailure(ctx context.Context, op string, err error) error {
	if qbclient.IsAuthError(err) {
		return s.authFailure(ctx, op, err)
	}
	return apperr.Wrap(apperr.Internal, "QuickBooks request failed: "+remoteDetail(err), fmt.Errorf("%s: %w", op, err))
}

// authFailure refreshes the shared token once and asks the caller to resubmit.
// The workflow itself is never replayed.
func (s *Service) authFailure(ctx context.Context, op string, err error) error {
	s.log.Warn("QuickBooks rejected the access token; refreshing", zap.String("op", op), zap.Error(err))
	if _, rerr := s.tokens.RefreshToken(ctx); rerr != nil {
		s.log.Error("token refresh after auth failure did not succeed", zap.Error(rerr))
	}
	return apperr.Retryable("QuickBooks authorization expired. Please retry the request.", apperr.DefaultRetryAfter,
		fmt.Errorf("%s: %w", op, err))
}

func crmFailure(kind, id string, err error) error {
	if hubspot.IsNotFound(err) {
		return apperr.Wrap(apperr.NotFound, fmt.Sprintf("HubSpot %s %s not found", kind, id), err)
	}
	return apperr.Wrap(apperr.Internal, fmt.Sprintf("Failed to fetch %s from HubSpot", kind), err)
}

// parseAmount requires a finite number that is still greater than zero once
// rounded to cents.
func parseAmount(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperr.Newf(apperr.InvalidAmount, "Invalid deal amount for invoice. Received: %q", raw)
	}
	v = math.Round(v*100) / 100
	if v <= 0 {
		return 0, apperr.Newf(apperr.InvalidAmount, "Invalid deal amount for invoice. Received: %q", raw)
	}
	return v, nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func remoteDetail(err error) string {
	var apiErr *qbclient.APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{apiErr.Message, apiErr.Detail} {
		if p != "" && (len(parts) == 0 || parts[len(parts)-1] != p) {
			parts = append(parts, p)
		}
	}
	if apiErr.Element != "" {
		parts = append(parts, "element "+apiErr.Element)
	}
	if len(parts) == 0 {
		return apiErr.Error()
	}
	return strings.Join(parts, "; ")
}

func displayName(given, family, email string) string {
	name := given + " " + family
	if email != "" {
		name += " (" + email + ")"
	}
	return name
}
