// qbclient/models.go
package qbclient

// ReferenceType points at another QuickBooks entity.
type ReferenceType struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type EmailAddress struct {
	Address string `json:"Address,omitempty"`
}

type MemoRef struct {
	Value string `json:"value"`
}

type Customer struct {
	ID               string        `json:"Id,omitempty"`
	SyncToken        string        `json:"SyncToken,omitempty"`
	DisplayName      string        `json:"DisplayName,omitempty"`
	GivenName        string        `json:"GivenName,omitempty"`
	FamilyName       string        `json:"FamilyName,omitempty"`
	PrimaryEmailAddr *EmailAddress `json:"PrimaryEmailAddr,omitempty"`
	Active           bool          `json:"Active,omitempty"`
}

// Email returns the primary email address, if any.
func (c *Customer) Email() string {
	if c == nil || c.PrimaryEmailAddr == nil {
		return ""
	}
	return c.PrimaryEmailAddr.Address
}

type Item struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Type   string `json:"Type,omitempty"`
	Active bool   `json:"Active,omitempty"`
}

type TaxCode struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Active  bool   `json:"Active"`
	Taxable bool   `json:"Taxable"`
}

type Term struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	DueDays int    `json:"DueDays,omitempty"`
	Active  bool   `json:"Active"`
}

type SalesItemLineDetail struct {
	ItemRef     ReferenceType  `json:"ItemRef"`
	Qty         float64        `json:"Qty"`
	UnitPrice   float64        `json:"UnitPrice"`
	TaxCodeRef  *ReferenceType `json:"TaxCodeRef,omitempty"`
	ServiceDate string         `json:"ServiceDate,omitempty"`
}

type Line struct {
	ID                  string               `json:"Id,omitempty"`
	Amount              float64              `json:"Amount"`
	Description         string               `json:"Description,omitempty"`
	DetailType          string               `json:"DetailType"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
}

const SalesItemLineDetailType = "SalesItemLineDetail"

type Invoice struct {
	ID           string         `json:"Id,omitempty"`
	DocNumber    string         `json:"DocNumber,omitempty"`
	TxnDate      string         `json:"TxnDate,omitempty"`
	DueDate      string         `json:"DueDate,omitempty"`
	CustomerRef  ReferenceType  `json:"CustomerRef"`
	Line         []Line         `json:"Line"`
	BillEmail    *EmailAddress  `json:"BillEmail,omitempty"`
	CustomerMemo *MemoRef       `json:"CustomerMemo,omitempty"`
	SalesTermRef *ReferenceType `json:"SalesTermRef,omitempty"`
	PrivateNote  string         `json:"PrivateNote,omitempty"`
	TotalAmt     float64        `json:"TotalAmt,omitempty"`
	Balance      float64        `json:"Balance,omitempty"`
}
