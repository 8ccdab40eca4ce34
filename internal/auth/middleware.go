// auth/middleware.go
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/eGGnogSC/qbbridge/internal/httpx"
)

// APIKeyHeader carries the caller-supplied API key.
const APIKeyHeader = "x-api-key"

// contextKey is a custom type for context keys
type contextKey string

// Context keys
const (
	UserIDKey contextKey = "user_id"
)

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// APIKeyMiddleware rejects requests whose x-api-key header does not match the
// configured key. A missing server-side key is a configuration error.
func APIKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				httpx.JSON(w, http.StatusInternalServerError, httpx.Envelope{
					Message: "API key is not configured on the server",
					Error:   "ServerMisconfigured",
				})
				return
			}
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				httpx.JSON(w, http.StatusUnauthorized, httpx.Envelope{
					Message: "Unauthorized",
					Error:   "Unauthorized",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserMiddleware copies the userId query parameter into the request context
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.URL.Query().Get("userId"); userID != "" {
			r = r.WithContext(context.WithValue(r.Context(), UserIDKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}
