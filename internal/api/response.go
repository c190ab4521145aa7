//
//
package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Response represents the unified envelope format.
type Response struct {
	Result        string `json:"result"`
	Data          any    `json:"data,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// SuccessResponse creates a success response.
func SuccessResponse(data any) *Response {
	return &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: generateCorrelationID(),
	}
}

// ErrorResponse creates an error response.
func ErrorResponse(code, message string, details any) *Response {
	return &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: generateCorrelationID(),
	}
}

// WriteSuccess writes a 200 success response.
func WriteSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, SuccessResponse(data))
}

// WriteCreated writes a 201 success response.
func WriteCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, SuccessResponse(data))
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details any) {
	writeJSON(w, statusCode, ErrorResponse(code, message, details))
}

// writeAPIError maps err and writes it.
func writeAPIError(w http.ResponseWriter, err error) {
	status, body := ToAPIError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", map[string]any{
		"allowed": allowed,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(data, '\n'))
}

func generateCorrelationID() string {
	return uuid.NewString()
}
