package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "plughub/internal/errors"
	"plughub/internal/license"
)

// SiteDomainHeader names the site presenting an activation token
const SiteDomainHeader = "X-Site-Domain"

type contextKey string

const subjectKey contextKey = "license_subject"

// Authenticator resolves activation tokens
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken, siteDomain string) (*license.Subject, error)
}

// ActivationAuth requires a bearer activation token bound to the X-Site-Domain
// header and stores the resolved subject in the request context
func ActivationAuth(auth Authenticator, errorHandler *apierrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := auth.Authenticate(r.Context(), BearerToken(r), r.Header.Get(SiteDomainHeader))
			if err != nil {
				errorHandler.HandleError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

// WithSubject stores an authenticated subject
func WithSubject(ctx context.Context, s *license.Subject) context.Context {
	return context.WithValue(ctx, subjectKey, s)
}

// SubjectFromContext returns the subject stored by ActivationAuth
func SubjectFromContext(ctx context.Context) (*license.Subject, bool) {
	s, ok := ctx.Value(subjectKey).(*license.Subject)
	return s, ok && s != nil
}

// BearerToken extracts the token of an Authorization: Bearer header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// AdminAuth guards the admin API with a static bearer token. An empty
// configured token disables every admin route.
func AdminAuth(token string, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "admin_auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := BearerToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.WarnContext(r.Context(), "admin authentication failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", ClientIP(r)),
					slog.Bool("token_present", presented != ""),
				)
				errorHandler.HandleError(w, r, apierrors.ErrAdminUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuditLog records every admin operation and its outcome
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "audit"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.InfoContext(r.Context(), "admin operation",
				slog.String("event_type", "admin_api"),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.String("remote_addr", ClientIP(r)),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
