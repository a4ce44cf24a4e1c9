package errors

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"plughub/internal/shared/testutil"
)

func TestErrorMiddleware_RedactsSecrets(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	mw := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	body := `{"api_key":"phk_supersecretvalue","site_domain":"example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/activate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	records := handler.GetRecordsByLevel(slog.LevelWarn)
	if assert.Len(t, records, 1) {
		logged, _ := records[0].Attrs["request_body"].(string)
		assert.Contains(t, logged, "[REDACTED]")
		assert.Contains(t, logged, "example.com")
		assert.NotContains(t, logged, "supersecret")
	}
}

func TestErrorMiddleware_RecoversPanic(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	mw := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, handler.ContainsMessage("panic recovered"))
	testutil.AssertLogAttr(t, handler, "status", int64(http.StatusInternalServerError))
}

func TestErrorMiddleware_SuccessIsInfo(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	mw := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	mw.Handler(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	testutil.AssertLogContains(t, handler, slog.LevelInfo, "http request")
	testutil.AssertLogAttr(t, handler, "status", int64(http.StatusOK))
}

func TestSanitizeRequestBody(t *testing.T) {
	assert.Equal(t, "[non-json body omitted]", sanitizeRequestBody([]byte("api_key=abc")))
	assert.Equal(t, `{"activation_token":"[REDACTED]"}`, sanitizeRequestBody([]byte(`{"activation_token":"pha_x"}`)))
}
