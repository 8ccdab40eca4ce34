// qbclient/entities.go
package qbclient

import (
	"context"
	"fmt"
	"strings"
)

// FindCustomerByEmail returns the first customer whose primary email matches, or nil.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var resp struct {
		Customer []Customer `json:"Customer"`
	}
	q := fmt.Sprintf("select * from Customer where PrimaryEmailAddr = %s maxresults 1", quote(email))
	if err := c.Query(ctx, q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Customer) == 0 {
		return nil, nil
	}
	return &resp.Customer[0], nil
}

// CreateCustomer creates a customer record.
func (c *Client) CreateCustomer(ctx context.Context, in Customer) (*Customer, error) {
	var out Customer
	if err := c.create(ctx, "Customer", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FirstItem returns the first active catalog item, or nil when none exist.
func (c *Client) FirstItem(ctx context.Context) (*Item, error) {
	var resp struct {
		Item []Item `json:"Item"`
	}
	if err := c.Query(ctx, "select * from Item where Active = true maxresults 1", &resp); err != nil {
		return nil, err
	}
	if len(resp.Item) == 0 {
		return nil, nil
	}
	return &resp.Item[0], nil
}

// ListTaxCodes returns the active tax codes.
func (c *Client) ListTaxCodes(ctx context.Context) ([]TaxCode, error) {
	var resp struct {
		TaxCode []TaxCode `json:"TaxCode"`
	}
	if err := c.Query(ctx, "select * from TaxCode where Active = true", &resp); err != nil {
		return nil, err
	}
	return resp.TaxCode, nil
}

// FindTermByName returns the named payment term, or nil.
func (c *Client) FindTermByName(ctx context.Context, name string) (*Term, error) {
	var resp struct {
		Term []Term `json:"Term"`
	}
	q := fmt.Sprintf("select * from Term where Name = %s", quote(name))
	if err := c.Query(ctx, q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Term) == 0 {
		return nil, nil
	}
	return &resp.Term[0], nil
}

// CreateInvoice creates an invoice.
func (c *Client) CreateInvoice(ctx context.Context, in Invoice) (*Invoice, error) {
	var out Invoice
	if err := c.create(ctx, "Invoice", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// maxQueryResults is the largest page QuickBooks returns for one query.
const maxQueryResults = 1000

// VerifyInvoices checks invoice ids in as few queries as the result cap allows.
// Deleted invoices are absent from the result; voided ones are reported false.
func (c *Client) VerifyInvoices(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += maxQueryResults {
		end := start + maxQueryResults
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.verifyBatch(ctx, ids[start:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Client) verifyBatch(ctx context.Context, ids []string, result map[string]bool) error {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quote(id)
	}
	var resp struct {
		Invoice []Invoice `json:"Invoice"`
	}
	q := fmt.Sprintf("select Id, PrivateNote, TotalAmt, Balance from Invoice where Id in (%s) maxresults %d",
		strings.Join(quoted, ","), len(ids))
	if err := c.Query(ctx, q, &resp); err != nil {
		return err
	}
	for _, inv := range resp.Invoice {
		result[inv.ID] = !isVoided(inv)
	}
	return nil
}

func isVoided(inv Invoice) bool {
	return strings.Contains(strings.ToLower(inv.PrivateNote), "voided")
}
