package middleware

import (
	"fmt"
	"net/http"
)

// SecureHeaders provides configurable security headers for a JSON API
type SecureHeaders struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	CacheControl          string
}

// DefaultSecureHeaders returns headers suited to an API that serves no documents
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:            63072000, // 2 years
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		CacheControl:          "no-store",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// HSTS only means something over TLS
		if sh.HSTSMaxAge > 0 && r.TLS != nil {
			hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
			if sh.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", hsts)
		}

		setIf(h, "Content-Security-Policy", sh.ContentSecurityPolicy)
		setIf(h, "X-Frame-Options", sh.XFrameOptions)
		setIf(h, "X-Content-Type-Options", sh.XContentTypeOptions)
		setIf(h, "Referrer-Policy", sh.ReferrerPolicy)
		setIf(h, "Cache-Control", sh.CacheControl)

		next.ServeHTTP(w, r)
	})
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
