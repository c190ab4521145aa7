//
//
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    any
	StatusCode int
}

// API error codes for transport/security conditions
var (
	ErrUnauthorized = errors.New("UNAUTHORIZED")
	ErrForbidden    = errors.New("FORBIDDEN")
)

// ToAPIError converts an error to an HTTP status code and JSON envelope.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	var verr *record.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, marshalErrorResponse("INVALID_INPUT", verr.Reason, map[string]any{
			"field": verr.Field,
		})
	case errors.Is(err, record.ErrInvalidInput):
		return http.StatusBadRequest, marshalErrorResponse("INVALID_INPUT", "Invalid input", nil)
	case errors.Is(err, record.ErrNotFound):
		return http.StatusNotFound, marshalErrorResponse("NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, record.ErrStorage):
		return http.StatusServiceUnavailable, marshalErrorResponse("STORAGE", "Storage is unavailable", nil)
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, marshalErrorResponse("UNAUTHORIZED", "Authentication required", nil)
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, marshalErrorResponse("FORBIDDEN", "Insufficient permissions", nil)
	}

	return http.StatusInternalServerError, marshalErrorResponse("INTERNAL", "Internal server error", nil)
}

// marshalErrorResponse creates a JSON error response with correlation ID.
func marshalErrorResponse(code, message string, details any) []byte {
	jsonBytes, err := json.Marshal(ErrorResponse(code, message, details))
	if err != nil {
		jsonBytes, _ = json.Marshal(ErrorResponse("INTERNAL", "Failed to marshal error response", nil))
	}
	return jsonBytes
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details any) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
