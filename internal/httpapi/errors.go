// Package httpapi is the HTTP adapter: routing, middleware, auth flows,
// the recipient portal, and the admin surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Error codes surfaced in the JSON envelope.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeInvalidOTP      = "INVALID_OTP"
	CodeInvalidCode     = "INVALID_CODE"
	CodeInactive        = "INACTIVE"
	CodeForbidden       = "FORBIDDEN"
	CodeNoPolicy        = "NO_POLICY"
	CodeMFARequired     = "MFA_REQUIRED"
	CodeNotFound        = "NOT_FOUND"
	CodeInUse           = "IN_USE"
	CodeNoStoragePath   = "NO_STORAGE_PATH"
	CodeMaxDownloads    = "MAX_DOWNLOADS_EXCEEDED"
	CodeCooldownActive  = "COOLDOWN_ACTIVE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeRateLimit       = "RATE_LIMIT"
	CodeTooManyAttempts = "TOO_MANY_ATTEMPTS"
	CodeSlowDown        = "SLOW_DOWN"
	CodeExpired         = "EXPIRED"
	CodeRevoked         = "REVOKED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeVerification    = "VERIFICATION_REQUIRED"
	CodeInternal        = "INTERNAL"
)

// apiError carries the HTTP surface of a failure through the handler
// stack.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

// httpError builds an error with an explicit surface.
func httpError(status int, code, message string) *apiError {
	return &apiError{Status: status, Code: code, Message: message}
}

type errorEnvelope struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError converts any error to the JSON envelope; unknown errors
// become 500 INTERNAL without leaking detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		if logger != nil {
			logger.Error("internal error", "error", err)
		}
		apiErr = httpError(http.StatusInternalServerError, CodeInternal, "internal error")
	}
	writeJSON(w, apiErr.Status, errorEnvelope{Status: "error", Code: apiErr.Code, Message: apiErr.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
