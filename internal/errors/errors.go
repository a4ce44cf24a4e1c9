// Package errors provides the HTTP error model of the plughub API: APIError for
// generic failures, ReasonError for license outcomes carrying a domain.Reason,
// and RFC 7807 ProblemDetails rendering through ErrorHandler.
package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError represents one failed field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for common scenarios
var (
	ErrInvalidRequest     = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrUnauthorized       = New(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	ErrForbidden          = New(http.StatusForbidden, "FORBIDDEN", "Access denied")
	ErrNotFound           = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrConflict           = New(http.StatusConflict, "CONFLICT", "Resource conflict")
	ErrPayloadTooLarge    = New(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
	ErrValidationFailed   = New(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Request validation failed")
	ErrRateLimitExceeded  = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
	ErrInternalServer     = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
)

// InvalidRequestWithError creates an invalid request error with details
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// NotFoundError creates a not found error naming the resource
func NotFoundError(resource string) *APIError {
	return New(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

// ConflictError creates a conflict error with a message
func ConflictError(message string) *APIError {
	return New(http.StatusConflict, "CONFLICT", message)
}

// NewValidationErrors creates a validation error from multiple fields
func NewValidationErrors(errs []ValidationError) *APIError {
	return NewWithDetails(
		http.StatusUnprocessableEntity,
		"VALIDATION_FAILED",
		"Request validation failed",
		errs,
	)
}
