// routes/auth.go
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eGGnogSC/qbbridge/internal/auth"
)

// RegisterAuthRoutes registers the QuickBooks connection routes. The OAuth
// callback is reached by Intuit's redirect and carries no API key.
func RegisterAuthRoutes(router *mux.Router, authHandler *auth.Handler, apiKey string) {
	qb := router.PathPrefix("/quickbooks").Subrouter()
	qb.HandleFunc("/callback", authHandler.CallbackHandler).Methods(http.MethodGet)

	protected := qb.NewRoute().Subrouter()
	protected.Use(auth.APIKeyMiddleware(apiKey))
	protected.Use(auth.UserMiddleware)
	protected.HandleFunc("/authUrl", authHandler.AuthURLHandler).Methods(http.MethodGet)
	protected.HandleFunc("/checkConnection", authHandler.CheckConnectionHandler).Methods(http.MethodGet)
	protected.HandleFunc("/refresh-token", authHandler.RefreshHandler).Methods(http.MethodGet, http.MethodPost)
	protected.HandleFunc("/invalidate-token", authHandler.InvalidateHandler).Methods(http.MethodPost)
}
