// invoice/handlers.go
package invoice

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/eGGnogSC/qbbridge/internal/auth"
	"github.com/eGGnogSC/qbbridge/internal/httpx"
)

// Handler exposes invoice creation and listing over HTTP.
type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{service: service, log: log.Named("invoice.handler")}
}

type createBody struct {
	DealID    string `json:"dealId"`
	ContactID string `json:"contactId"`
}

// CreateInvoiceHandler reads dealId and contactId from the query string,
// falling back to a JSON body.
func (h *Handler) CreateInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	req := CreateRequest{
		UserID:    auth.GetUserID(r.Context()),
		DealID:    strings.TrimSpace(r.URL.Query().Get("dealId")),
		ContactID: strings.TrimSpace(r.URL.Query().Get("contactId")),
	}
	if (req.DealID == "" || req.ContactID == "") && r.Body != nil && r.ContentLength != 0 {
		var body createBody
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if req.DealID == "" {
				req.DealID = strings.TrimSpace(body.DealID)
			}
			if req.ContactID == "" {
				req.ContactID = strings.TrimSpace(body.ContactID)
			}
		}
	}
	if req.UserID == "" || req.DealID == "" || req.ContactID == "" {
		httpx.BadRequest(w, "userId, dealId and contactId are required")
		return
	}

	res, err := h.service.CreateInvoice(r.Context(), req)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	msg := "Invoice created"
	if res.CRMSyncPending {
		msg = "Invoice created; HubSpot update pending"
	}
	httpx.OK(w, res, msg)
}

// ListDealInvoicesHandler returns the reconciled invoices for a deal.
func (h *Handler) ListDealInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	dealID := strings.TrimSpace(mux.Vars(r)["dealId"])
	if dealID == "" || auth.GetUserID(r.Context()) == "" {
		httpx.BadRequest(w, "userId and dealId are required")
		return
	}

	records, err := h.service.ListInvoices(r.Context(), dealID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.OK(w, records, "")
}
