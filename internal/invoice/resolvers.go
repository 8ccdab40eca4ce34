// invoice/resolvers.go
package invoice

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/eGGnogSC/qbbridge/pkg/qbclient"
)

const dateLayout = "2006-01-02"

// RegionalTaxCodeNames are tried after the configured names: US automated
// sales tax, Canada, UK and Australia defaults.
var RegionalTaxCodeNames = []string{"TAX", "NON", "GST", "HST ON", "20.0% S", "GST/HST"}

// TaxCodeResolver picks a tax code id from the company's active codes, or "".
type TaxCodeResolver func(codes []qbclient.TaxCode) string

// TaxCodeByNames matches names case-insensitively, in the given order.
func TaxCodeByNames(names ...string) TaxCodeResolver {
	return func(codes []qbclient.TaxCode) string {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			for _, code := range codes {
				if strings.EqualFold(code.Name, name) {
					return code.ID
				}
			}
		}
		return ""
	}
}

// FirstTaxCode returns the first code in the list.
func FirstTaxCode() TaxCodeResolver {
	return func(codes []qbclient.TaxCode) string {
		for _, code := range codes {
			if code.ID != "" {
				return code.ID
			}
		}
		return ""
	}
}

// DefaultTaxCodeResolvers is preferred names, then regional fallbacks, then
// whatever comes first.
func DefaultTaxCodeResolvers(preferred []string) []TaxCodeResolver {
	return []TaxCodeResolver{
		TaxCodeByNames(preferred...),
		TaxCodeByNames(RegionalTaxCodeNames...),
		FirstTaxCode(),
	}
}

func resolveTaxCode(codes []qbclient.TaxCode, resolvers []TaxCodeResolver) string {
	for _, resolve := range resolvers {
		if id := resolve(codes); id != "" {
			return id
		}
	}
	return ""
}

// Terms is either a term reference or an explicit due date.
type Terms struct {
	TermRef *qbclient.ReferenceType
	DueDate string
}

func (t Terms) empty() bool { return t.TermRef == nil && t.DueDate == "" }

// TermResolver chooses payment terms for an invoice with the given service date.
type TermResolver func(ctx context.Context, acct Accounting, serviceDate time.Time) (Terms, error)

// NamedTerm looks up a QuickBooks term by name.
func NamedTerm(name string) TermResolver {
	return func(ctx context.Context, acct Accounting, _ time.Time) (Terms, error) {
		if strings.TrimSpace(name) == "" {
			return Terms{}, nil
		}
		term, err := acct.FindTermByName(ctx, name)
		if err != nil || term == nil {
			return Terms{}, err
		}
		return Terms{TermRef: &qbclient.ReferenceType{Value: term.ID, Name: term.Name}}, nil
	}
}

// DueAfter sets an explicit due date days after the service date.
func DueAfter(days int) TermResolver {
	return func(_ context.Context, _ Accounting, serviceDate time.Time) (Terms, error) {
		return Terms{DueDate: serviceDate.AddDate(0, 0, days).Format(dateLayout)}, nil
	}
}

// ParseServiceDate reads a CRM date property: epoch seconds, epoch
// milliseconds, or an ISO-8601 date or timestamp. Anything else yields now.
func ParseServiceDate(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC()
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return now.UTC()
		}
		// Anything past year 5138 in seconds is treated as milliseconds.
		if n >= 1e11 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", dateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}
