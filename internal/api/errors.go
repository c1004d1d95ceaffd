// Package api provides the HTTP handlers of the scanara API and the
// router that binds them to the access gate.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/scanara/internal/apperr"
	"github.com/onnwee/scanara/internal/middleware"
)

// MaxBodyBytes caps every request body.
const MaxBodyBytes = 100 << 20

// Error codes that do not come from an apperr.Kind.
const (
	// ErrCodeBadRequest indicates a body that is not valid JSON.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeRouteNotFound indicates no route matched.
	ErrCodeRouteNotFound = "route_not_found"

	// ErrCodeMethodNotAllowed indicates the route exists for other methods.
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// ErrCodeTooLarge indicates the body exceeded MaxBodyBytes.
	ErrCodeTooLarge = "payload_too_large"
)

// ErrorResponse is the failure envelope: {"error": code, "message": text}.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		// Engine failures keep their own code but surface as 500.
		return http.StatusInternalServerError
	}
}

// WriteError writes err in the failure envelope with the status of its kind.
// Internal errors are logged with their cause; clients only see the
// operation that failed.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeErrorCode(w, r, StatusFor(kind), string(kind), apperr.MessageOf(err))
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	middleware.SetErrorCode(r.Context(), code)
	writeJSON(w, r, status, ErrorResponse{Error: code, Message: message})
}

// writeJSON encodes payload with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// decodeJSON reads the capped body into dst. On failure it has already
// written the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(w, r, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return false
		}
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// NotFound answers unmatched routes in the failure envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorCode(w, r, http.StatusNotFound, ErrCodeRouteNotFound, "the requested resource was not found")
}
