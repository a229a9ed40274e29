// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stacklok/sheetsync-server/internal/service"
	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/table"
	"github.com/stacklok/sheetsync-server/internal/validators"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// StatusFromError maps a service error to the HTTP status it is reported with
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, service.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, table.ErrDuplicateColumnName):
		return http.StatusConflict
	case errors.Is(err, validators.ErrInvalidRequest),
		errors.Is(err, table.ErrInvalidColumn),
		errors.Is(err, sheets.ErrInvalidLocator):
		return http.StatusBadRequest
	case errors.Is(err, sheets.ErrSourceUnavailable),
		errors.Is(err, sheets.ErrSchemaMismatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err with the status from StatusFromError. Internal
// errors are logged and replaced with a generic message.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFromError(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteErrorResponse(w, "internal server error", code)
		return
	}
	WriteErrorResponse(w, err.Error(), code)
}
