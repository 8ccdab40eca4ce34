// routes/invoice.go
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eGGnogSC/qbbridge/internal/auth"
	"github.com/eGGnogSC/qbbridge/internal/invoice"
)

// RegisterInvoiceRoutes registers invoice creation and per-deal listing.
func RegisterInvoiceRoutes(router *mux.Router, invoiceHandler *invoice.Handler, apiKey string) {
	r := router.PathPrefix("/invoice").Subrouter()
	r.Use(auth.APIKeyMiddleware(apiKey))
	r.Use(auth.UserMiddleware)
	r.HandleFunc("/create-invoice", invoiceHandler.CreateInvoiceHandler).Methods(http.MethodPost)
	r.HandleFunc("/deals/{dealId}", invoiceHandler.ListDealInvoicesHandler).Methods(http.MethodGet)
}
