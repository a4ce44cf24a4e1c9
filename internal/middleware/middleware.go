// Package middleware holds the HTTP middleware of the license server: request
// correlation, security headers, rate limits, timeouts, activation and admin
// authentication, request validation and OpenTelemetry instrumentation.
package middleware

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"plughub/internal/infrastructure"
)

// RequestIDHeader carries the correlation id in both directions
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds client supplied ids
const maxRequestIDLength = 128

// RequestID accepts or generates a request id and stores it where chi's
// GetReqID and the trace-aware logger can find it
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		ctx = infrastructure.WithTraceID(ctx, requestID)

		// An active span wins so logs and traces share one id
		if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
			ctx = infrastructure.WithTraceID(ctx, span.SpanContext().TraceID().String())
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// RealIP rewrites RemoteAddr from X-Real-IP or X-Forwarded-For
func RealIP(next http.Handler) http.Handler {
	return middleware.RealIP(next)
}

// ClientIP returns the host part of RemoteAddr
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Timeout bounds the request context. Handlers observe the deadline through
// their store and cache calls and render the resulting error themselves.
func Timeout(timeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
