// auth/handlers.go
package auth

import (
	"encoding/json"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/eGGnogSC/qbbridge/internal/apperr"
	"github.com/eGGnogSC/qbbridge/internal/httpx"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>QuickBooks</title></head>
<body>
{{if .Error}}<p>QuickBooks connection failed: {{.Error}}</p>{{else}}<p>QuickBooks connected. You can close this window.</p>
<script>
  if (window.opener) { window.opener.postMessage({ type: "quickbooks-connected" }, "*"); }
  setTimeout(function () { window.close(); }, 1000);
</script>{{end}}
</body>
</html>`))

// Handler provides HTTP handlers for auth flows
type Handler struct {
	service *Service
	log     *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(service *Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		service: service,
		log:     log.Named("auth.handler"),
	}
}

// AuthURLHandler returns the QuickBooks authorization URL
func (h *Handler) AuthURLHandler(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	if userID == "" {
		httpx.BadRequest(w, "userId is required")
		return
	}

	authURL, err := h.service.GetAuthorizationURL(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.OK(w, map[string]string{"authUrl": authURL}, "")
}

// CallbackHandler handles the OAuth callback from QuickBooks
func (h *Handler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := h.service.HandleCallback(r.Context(), query.Get("code"), query.Get("state"), query.Get("realmId"))
	if err != nil {
		h.log.Error("oauth callback failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = callbackPage.Execute(w, map[string]string{"Error": apperr.From(err).Message})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = callbackPage.Execute(w, map[string]string{})
}

// CheckConnectionHandler reports whether QuickBooks is connected
func (h *Handler) CheckConnectionHandler(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	if userID == "" {
		httpx.BadRequest(w, "userId is required")
		return
	}

	status, err := h.service.ConnectionStatus(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.OK(w, status, "")
}

// RefreshHandler forces a token refresh
func (h *Handler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	token, err := h.service.Invalidate(r.Context(), ModeRefreshNow)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.OK(w, map[string]any{
		"realmId":   token.RealmID,
		"expiresAt": token.ExpiresAt(),
	}, "Token refreshed")
}

// InvalidateHandler runs an administrative invalidation
func (h *Handler) InvalidateHandler(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" && r.Body != nil {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			mode = body.Mode
		}
	}
	if mode == "" {
		mode = string(ModeExpire)
	}

	if _, err := h.service.Invalidate(r.Context(), InvalidateMode(mode)); err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.OK(w, map[string]any{"success": true, "mode": mode}, "")
}
