// Package auth is the public surface of the waypost session-sealing client.
// It coordinates the PKCE-protected OAuth initiation and callback flow with
// the backend, stores and refreshes the opaque session credential, and wraps
// outbound API calls with proactive and reactive token refresh.
package auth

import (
	"fmt"
	"net/http"
)

// Error describes an authentication related failure in a transport agnostic
// format.
type Error struct {
	// Code is a short machine readable identifier.
	Code string `json:"code,omitempty"`
	// Message is a human readable description of the failure.
	Message string `json:"message"`
	// Retryable indicates whether a retry might fix the issue automatically.
	Retryable bool `json:"retryable"`
	// HTTPStatus optionally records the HTTP status code behind the error.
	HTTPStatus int `json:"http_status,omitempty"`
	// Cause optionally carries the underlying error.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// StatusCode returns the HTTP status behind the error, if any.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.HTTPStatus
}

// Sentinel errors for the authentication taxonomy. Callers match them with
// errors.Is; wrapped instances carry additional detail.
var (
	// ErrNotAuthenticated reports that no credential is stored.
	ErrNotAuthenticated = &Error{Code: "not_authenticated", Message: "no stored credentials"}

	// ErrInvalidCallback reports a malformed OAuth redirect URL.
	ErrInvalidCallback = &Error{Code: "invalid_callback", Message: "callback URL carries neither an exchange code nor a sealed session"}

	// ErrMissingVerifier reports that no PKCE verifier exists for the flow,
	// meaning the attempt expired or the code was replayed.
	ErrMissingVerifier = &Error{Code: "missing_verifier", Message: "no stored verifier for this authorization attempt"}

	// ErrSessionExpiredUnrecoverable reports that the backend definitively
	// rejected the refresh; the session is gone, not transiently unavailable.
	ErrSessionExpiredUnrecoverable = &Error{Code: "session_expired", Message: "session refresh definitively rejected"}

	// ErrRefreshFailed reports that a refresh attempt did not produce a new
	// session; unlike ErrSessionExpiredUnrecoverable it may be transient.
	ErrRefreshFailed = &Error{Code: "refresh_failed", Message: "session refresh failed", Retryable: true}

	// ErrAuthenticationFailed reports that the retry budget for the
	// 401-then-refresh pattern is exhausted.
	ErrAuthenticationFailed = &Error{Code: "authentication_failed", Message: "authentication retries exhausted"}
)

// Is lets wrapped copies of the sentinel errors match via errors.Is by code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// NetworkError wraps a transport-level failure with no HTTP response.
// Always potentially retryable by the caller.
func NetworkError(err error) *Error {
	return &Error{
		Code:      "network_error",
		Message:   fmt.Sprintf("request failed: %v", err),
		Retryable: true,
		Cause:     err,
	}
}

// ServerError wraps a non-200 backend response.
func ServerError(status int, body []byte) *Error {
	msg := fmt.Sprintf("backend returned status %d", status)
	if len(body) > 0 {
		const maxBody = 256
		trimmed := string(body)
		if len(trimmed) > maxBody {
			trimmed = trimmed[:maxBody]
		}
		msg = fmt.Sprintf("%s: %s", msg, trimmed)
	}
	return &Error{
		Code:       "server_error",
		Message:    msg,
		Retryable:  status >= http.StatusInternalServerError,
		HTTPStatus: status,
	}
}

// ProtocolError wraps a malformed or unexpected response shape. Never
// retried; it indicates a backend contract change.
func ProtocolError(msg string) *Error {
	return &Error{Code: "protocol_error", Message: msg}
}

// APIError wraps a non-2xx status from an authenticated API call that is not
// part of the 401-then-refresh pattern.
func APIError(status int) *Error {
	return &Error{
		Code:       "api_error",
		Message:    fmt.Sprintf("api call returned status %d", status),
		HTTPStatus: status,
	}
}
