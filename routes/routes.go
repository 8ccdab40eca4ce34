// routes/routes.go
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eGGnogSC/qbbridge/internal/auth"
	"github.com/eGGnogSC/qbbridge/internal/invoice"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Auth    *auth.Handler
	Invoice *invoice.Handler
	Health  http.HandlerFunc
	Metrics http.Handler
}

// SetupRoutes configures all API routes
func SetupRoutes(router *mux.Router, h Handlers, apiKey string) {
	if h.Health != nil {
		router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	}
	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}

	RegisterAuthRoutes(router, h.Auth, apiKey)
	RegisterInvoiceRoutes(router, h.Invoice, apiKey)
}
