package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"plughub/internal/infrastructure"
)

// Common error types following RFC 7807
const (
	TypeBadRequest       = "/errors/bad-request"
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeMethodNotAllowed = "/errors/method-not-allowed"
	TypeUnauthorized     = "/errors/unauthorized"
	TypeForbidden        = "/errors/forbidden"
	TypeRateLimit        = "/errors/rate-limit"
	TypeInternal         = "/errors/internal"
	TypeServiceDown      = "/errors/service-unavailable"
	TypeTimeout          = "/errors/timeout"
	TypeConflict         = "/errors/conflict"
	TypePayloadTooLarge  = "/errors/payload-too-large"
)

// TypeLicensePrefix prefixes problem types derived from a license reason
const TypeLicensePrefix = "/errors/license/"

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := h.ErrorToProblem(err, r)
	h.decorate(problem, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("type", problem.Type),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// decorate adds correlation members to every problem
func (h *ErrorHandler) decorate(problem *ProblemDetails, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	traceID := infrastructure.GetTraceID(ctx)
	if traceID == "" {
		traceID = reqID
	}
	problem.WithExtension("trace_id", traceID)
	if reqID != "" {
		problem.WithExtension("request_id", reqID)
	}
	problem.WithExtension("timestamp", time.Now().UTC().Format(time.RFC3339))
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var reasonErr *ReasonError
	if errors.As(err, &reasonErr) {
		return reasonToProblem(reasonErr, r)
	}

	if status, reason, ok := AuthFailure(err); ok {
		problemType := TypeUnauthorized
		if status == http.StatusForbidden {
			problemType = TypeForbidden
		}
		problem := NewProblemDetails(status, problemType, http.StatusText(status), err.Error(), r.URL.Path)
		if reason != "" {
			problem.WithExtension("reason", reason)
		}
		return problem
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErrorToProblem(apiErr, r)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		r.URL.Path,
	)
}

// reasonToProblem renders a license outcome
func reasonToProblem(e *ReasonError, r *http.Request) *ProblemDetails {
	status := e.Status()
	problem := NewProblemDetails(
		status,
		TypeLicensePrefix+string(e.Reason),
		http.StatusText(status),
		e.Detail,
		r.URL.Path,
	).WithExtension("reason", e.Reason)

	if link := e.Reason.Remediation(); link != "" {
		problem.WithExtension("remediation", link)
	}
	for k, v := range e.Extensions {
		problem.WithExtension(k, v)
	}
	return problem
}

// apiErrorToProblem converts APIError to ProblemDetails
func apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		problemType = TypeBadRequest
	case http.StatusUnprocessableEntity:
		problemType = TypeValidation
	case http.StatusNotFound:
		problemType = TypeNotFound
	case http.StatusUnauthorized:
		problemType = TypeUnauthorized
	case http.StatusForbidden:
		problemType = TypeForbidden
	case http.StatusConflict:
		problemType = TypeConflict
	case http.StatusRequestEntityTooLarge:
		problemType = TypePayloadTooLarge
	case http.StatusTooManyRequests:
		problemType = TypeRateLimit
	case http.StatusServiceUnavailable:
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered any) {
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	)
	h.decorate(problem, r)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	)
	h.decorate(problem, r)
	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllowed,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	)
	h.decorate(problem, r)
	render.Render(w, r, problem)
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
