// Package httpx writes the uniform JSON envelope used by every API route.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/eGGnogSC/qbbridge/internal/apperr"
)

// Envelope is the response body shape for all JSON routes.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func OK(w http.ResponseWriter, data any, message string) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

// Fail maps err to its status and writes only its human-readable message.
func Fail(w http.ResponseWriter, log *zap.Logger, err error) {
	e := apperr.From(err)
	status := e.Status()
	if e.RetryAfter > 0 {
		secs := int(e.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if log != nil && status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
	JSON(w, status, Envelope{Success: false, Message: e.Message, Error: string(e.Kind)})
}

// BadRequest reports a missing or malformed parameter.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, Envelope{Success: false, Message: message, Error: string(apperr.InvalidArgument)})
}
