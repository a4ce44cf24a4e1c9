package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody bounds how much of a failed request body is captured
const maxLoggedBody = 64 * 1024

// sensitiveFields are redacted before a request body reaches the logs
var sensitiveFields = []string{
	"api_key", "license_key", "activation_token", "secret", "token", "password", "signature",
}

// ErrorMiddleware logs every request and recovers from panics with a problem response
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "error_middleware")),
	}
}

// Handler returns the middleware handler function
func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var requestBody []byte
		if r.Body != nil && r.ContentLength > 0 && r.ContentLength < maxLoggedBody {
			requestBody, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.handler.HandlePanic(ww, r, rec)
			}
			m.logRequest(r, ww, start, requestBody)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (m *ErrorMiddleware) logRequest(r *http.Request, ww middleware.WrapResponseWriter, start time.Time, requestBody []byte) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.Int("bytes", ww.BytesWritten()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	}

	if status >= 400 && len(requestBody) > 0 {
		body := sanitizeRequestBody(requestBody)
		if len(body) > 500 {
			body = body[:500] + "..."
		}
		attrs = append(attrs, slog.String("request_body", body))
	}

	m.logger.LogAttrs(r.Context(), level, "http request", attrs...)
}

// sanitizeRequestBody removes secrets from a JSON request body
func sanitizeRequestBody(body []byte) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return "[non-json body omitted]"
	}

	for _, field := range sensitiveFields {
		if _, exists := data[field]; exists {
			data[field] = "[REDACTED]"
		}
	}

	sanitized, _ := json.Marshal(data)
	return string(sanitized)
}
