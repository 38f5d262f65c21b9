package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/gateway"
	"github.com/nerrad567/vineyard-core/internal/handler/rest"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeUnprocessable  = "unprocessable"
	ErrCodeTimeout        = "timeout"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a registry, catalog or gateway error to a response.
// Unclassified errors are logged and reported as 500 without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("admin request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, gateway.ErrAlreadyRegistered),
		errors.Is(err, gateway.ErrInvalidTransition),
		errors.Is(err, registry.ErrDuplicate),
		errors.Is(err, registry.ErrDuplicateContext),
		errors.Is(err, registry.ErrConflict),
		errors.Is(err, catalog.ErrTypeImmutable),
		errors.Is(err, catalog.ErrResourceExists):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, gateway.ErrNoHandler),
		errors.Is(err, gateway.ErrAmbiguousHandler),
		errors.Is(err, rest.ErrInvalidDefinition),
		errors.Is(err, rest.ErrInvalidRoute),
		errors.Is(err, rest.ErrRouteConflict):
		return http.StatusUnprocessableEntity, ErrCodeUnprocessable
	case errors.Is(err, gateway.ErrInvalidRegistration),
		errors.Is(err, registry.ErrInvalid),
		errors.Is(err, catalog.ErrInvalidAPI),
		errors.Is(err, catalog.ErrInvalidResource):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
