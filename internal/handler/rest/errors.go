package rest

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Domain errors for the rest package.
var (
	// ErrInvalidRoute is returned when a resource cannot become a route:
	// missing attributes, a bad endpoint URL, an unsupported method or a
	// malformed path pattern.
	ErrInvalidRoute = errors.New("rest: invalid route")

	// ErrRouteConflict is returned when another resource already serves the
	// same method and path.
	ErrRouteConflict = errors.New("rest: route already published")

	// ErrInvalidDefinition is returned for a malformed header definition.
	ErrInvalidDefinition = errors.New("rest: invalid processing definition")
)

// errorBody is the JSON error response written by the backend.
type errorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	codeNotFound    = "not_found"
	codeUnavailable = "unavailable"
	codeBadGateway  = "bad_gateway"
	codeInternal    = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Status: status, Code: code, Message: message})
}
