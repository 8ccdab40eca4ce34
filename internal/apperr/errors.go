// Package apperr defines the error kinds surfaced by the token manager, the
// invoice orchestrator and the reconciler, and how each maps to HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	NotConnected            Kind = "NotConnected"
	IncompleteCredentials   Kind = "IncompleteCredentials"
	OAuthExchangeFailed     Kind = "OAuthExchangeFailed"
	InvalidClientRetried    Kind = "InvalidClientRetried"
	TokenRefreshFailed      Kind = "TokenRefreshFailed"
	InvalidAmount           Kind = "InvalidAmount"
	NoItemsConfigured       Kind = "NoItemsConfigured"
	InvoiceCreationFailed   Kind = "InvoiceCreationFailed"
	IncompleteInvoiceResult Kind = "IncompleteInvoiceResult"
	RetryableAuthError      Kind = "RetryableAuthError"
	NotFound                Kind = "NotFound"
	InvalidArgument         Kind = "InvalidArgument"
	PersistFailed           Kind = "PersistFailed"
	Internal                Kind = "Internal"
)

// DefaultRetryAfter is the delay suggested to callers after an auth-class failure.
const DefaultRetryAfter = 2 * time.Second

// Error is a classified, human-readable failure.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.New(NotConnected, ""))
// style comparisons work regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case NotConnected, IncompleteCredentials, InvalidAmount, InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case RetryableAuthError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Retryable builds the typed "resubmit after a short delay" result.
func Retryable(message string, after time.Duration, err error) *Error {
	if after <= 0 {
		after = DefaultRetryAfter
	}
	return &Error{Kind: RetryableAuthError, Message: message, RetryAfter: after, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// From converts any error into an *Error, defaulting to Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, "internal error", err)
}
