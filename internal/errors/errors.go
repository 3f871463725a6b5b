package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RouterError is an error that can be serialized to a client response.
// The wire shape is {"error": "...", "details": "..."}.
type RouterError struct {
	Code       int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
	underlying error
}

func (e *RouterError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *RouterError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
func (e *RouterError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(e)
}

// Common errors, matching the router's client-visible taxonomy.
var (
	ErrInvalidBody = &RouterError{
		Code:    http.StatusBadRequest,
		Message: "Invalid request body",
	}

	ErrOriginNotAllowed = &RouterError{
		Code:    http.StatusForbidden,
		Message: "Origin not allowed",
	}

	ErrAssignBackend = &RouterError{
		Code:    http.StatusInternalServerError,
		Message: "Error assigning backend",
	}

	ErrRetrieveBackend = &RouterError{
		Code:    http.StatusInternalServerError,
		Message: "Error retrieving backend",
	}

	ErrCreateRequest = &RouterError{
		Code:    http.StatusInternalServerError,
		Message: "Error creating request",
	}

	ErrReachBackend = &RouterError{
		Code:    http.StatusBadGateway,
		Message: "Failed to reach backend service",
	}

	ErrReadResponseBody = &RouterError{
		Code:    http.StatusInternalServerError,
		Message: "Error reading response body",
	}

	ErrParseResponseBody = &RouterError{
		Code:    http.StatusInternalServerError,
		Message: "Error parsing response body",
	}

	ErrInternalServer = &RouterError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// New creates a new RouterError.
func New(code int, message string) *RouterError {
	return &RouterError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with a client-visible code and message.
func Wrap(err error, code int, message string) *RouterError {
	return &RouterError{
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// WithDetails returns a copy of the error with the details field set.
func (e *RouterError) WithDetails(details string) *RouterError {
	return &RouterError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		underlying: e.underlying,
	}
}

// WithMessage returns a copy of the error with a different message.
func (e *RouterError) WithMessage(message string) *RouterError {
	return &RouterError{
		Code:       e.Code,
		Message:    message,
		Details:    e.Details,
		underlying: e.underlying,
	}
}
