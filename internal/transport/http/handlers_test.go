package http_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plughub/internal/config"
	apierrors "plughub/internal/errors"
	"plughub/internal/kv"
	"plughub/internal/license"
	"plughub/internal/middleware"
	"plughub/internal/security"
	"plughub/internal/services"
	"plughub/internal/shared/testutil"
	"plughub/internal/store"
	transport "plughub/internal/transport/http"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

const adminToken = "admin-token-0123456789abcdef"

type harness struct {
	t      *testing.T
	router chi.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	clock := testutil.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))

	s := store.NewMemoryStore()
	cache := kv.NewMemoryStore(clock.Now)
	metrics := license.NoopMetrics()
	catalog := license.NewCatalog(s, cache, 5*time.Minute, metrics, logger)
	issuer := security.NewTokenIssuer("plughub-test", 24*time.Hour).WithClock(clock.Now)

	activator := license.NewActivator(s, logger, metrics).WithClock(clock.Now)
	verifier := license.NewVerifier(s, catalog, issuer, 50, logger, metrics).WithClock(clock.Now)
	admin := license.NewAdmin(s, catalog, testutil.TestBcryptCost, logger)

	eh := apierrors.NewErrorHandler(logger, false)
	v := middleware.NewValidator(config.MaxRequestBodyBytes)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, render.SetContentType(render.ContentTypeJSON))
	transport.NewLicenseHandler(activator, verifier, v, eh, logger).Routes(r, transport.RouteOptions{
		InteractiveTimeout: 5 * time.Second,
		BatchTimeout:       5 * time.Second,
	})
	r.With(middleware.AdminAuth(adminToken, eh, logger)).
		Mount("/admin", transport.NewAdminHandler(admin, v, eh, logger).Routes())
	transport.NewHealthHandler(services.NewHealthService(nil, logger)).Routes(r)
	r.Method(http.MethodGet, "/metrics", transport.NewMetricsHandler(nil, eh))

	return &harness{t: t, router: r}
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) admin(method, path string, body any) *httptest.ResponseRecorder {
	return h.do(method, path, body, map[string]string{"Authorization": "Bearer " + adminToken})
}

func (h *harness) site(token, domain, path string, body any) *httptest.ResponseRecorder {
	return h.do(http.MethodPost, path, body, map[string]string{
		"Authorization":             "Bearer " + token,
		middleware.SiteDomainHeader: domain,
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (h *harness) newKey(req api.CreateKeyRequest) api.CreateKeyResponse {
	h.t.Helper()
	if req.Name == "" {
		req.Name = "customer"
	}
	if req.AccessScope == "" {
		req.AccessScope = domain.AccessAll
	}
	rec := h.admin(http.MethodPost, "/admin/keys", req)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.CreateKeyResponse](h.t, rec)
}

func (h *harness) newPlugin(req api.CreatePluginRequest) *domain.Plugin {
	h.t.Helper()
	if req.Name == "" {
		req.Name = req.Slug
	}
	rec := h.admin(http.MethodPost, "/admin/plugins", req)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*domain.Plugin](h.t, rec)
}

func (h *harness) activate(secret, site string) api.ActivateResponse {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/activate", api.ActivateRequest{APIKey: secret, SiteDomain: site}, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.ActivateResponse](h.t, rec)
}

func TestActivate(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{MaxActivations: 1})

	first := h.activate(key.Secret, "https://www.Site-A.example.com/shop")
	assert.True(t, first.Activated)
	assert.False(t, first.AlreadyActivated)
	assert.Equal(t, "site-a.example.com", first.SiteDomain)
	assert.True(t, strings.HasPrefix(first.ActivationToken, config.ActivationTokenPrefix))

	again := h.activate(key.Secret, "site-a.example.com")
	assert.True(t, again.AlreadyActivated)
	assert.Equal(t, first.ActivationToken, again.ActivationToken)

	rec := h.do(http.MethodPost, "/activate", api.ActivateRequest{APIKey: key.Secret, SiteDomain: "site-b.example.com"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	problem := decode[map[string]any](t, rec)
	assert.Equal(t, string(domain.ReasonMaxActivationsReached), problem["reason"])
	assert.Equal(t, []any{"site-a.example.com"}, problem["activated_domains"])
	assert.NotEmpty(t, problem["request_id"])
}

func TestActivate_Failures(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{})

	tests := []struct {
		name   string
		req    api.ActivateRequest
		status int
		reason domain.Reason
	}{
		{"missing key", api.ActivateRequest{SiteDomain: "shop.example.com"}, http.StatusUnprocessableEntity, ""},
		{"unknown key", api.ActivateRequest{APIKey: "phk_unknownunknownunknown", SiteDomain: "shop.example.com"}, http.StatusUnauthorized, domain.ReasonInvalidLicenseKey},
		{"bad domain", api.ActivateRequest{APIKey: key.Secret, SiteDomain: "http://"}, http.StatusUnprocessableEntity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/activate", tt.req, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.reason != "" {
				assert.Equal(t, string(tt.reason), decode[map[string]any](t, rec)["reason"])
			}
		})
	}

	t.Run("inactive key", func(t *testing.T) {
		rec := h.admin(http.MethodPatch, "/admin/keys/"+key.Key.ID.String()+"/status",
			api.UpdateKeyStatusRequest{Status: domain.KeyStatusInactive})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = h.do(http.MethodPost, "/activate", api.ActivateRequest{APIKey: key.Secret, SiteDomain: "shop.example.com"}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(domain.ReasonLicenseNotActive), decode[map[string]any](t, rec)["reason"])
	})
}

func TestDeactivate(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{MaxActivations: 1})
	act := h.activate(key.Secret, "site-a.example.com")

	rec := h.do(http.MethodPost, "/deactivate", api.DeactivateRequest{ActivationToken: act.ActivationToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.DeactivateResponse](t, rec).Success)

	rec = h.do(http.MethodPost, "/deactivate", api.DeactivateRequest{ActivationToken: act.ActivationToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[api.DeactivateResponse](t, rec).Success)

	// The freed slot can be used by another site, then released by key and URL.
	h.activate(key.Secret, "site-b.example.com")
	rec = h.do(http.MethodPost, "/deactivate", api.DeactivateRequest{LicenseKey: key.Secret, SiteURL: "https://site-b.example.com"}, nil)
	assert.True(t, decode[api.DeactivateResponse](t, rec).Success)

	rec = h.do(http.MethodPost, "/deactivate", api.DeactivateRequest{LicenseKey: key.Secret}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{})
	h.newPlugin(api.CreatePluginRequest{Slug: "acme-pro"})
	act := h.activate(key.Secret, "shop.example.com")

	signer, err := security.NewResponseSigner(act.ActivationToken)
	require.NoError(t, err)

	rec := h.site(act.ActivationToken, "shop.example.com", "/license/verify", api.VerifyRequest{PluginSlug: "acme-pro"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	signed := decode[api.SignedVerification](t, rec)
	require.NoError(t, signer.Verify(signed.Result, signed.Signature))

	result, err := signed.Decode()
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "acme-pro", result.PluginSlug)
	assert.NotEmpty(t, result.LicenseToken)

	t.Run("license outcome is still 200", func(t *testing.T) {
		rec := h.site(act.ActivationToken, "shop.example.com", "/license/verify", api.VerifyRequest{PluginSlug: "missing"})
		require.Equal(t, http.StatusOK, rec.Code)
		signed := decode[api.SignedVerification](t, rec)
		result, err := signed.Decode()
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, domain.ReasonPluginNotFound, result.Reason)
	})

	t.Run("authentication failures", func(t *testing.T) {
		rec := h.site("", "shop.example.com", "/license/verify", api.VerifyRequest{PluginSlug: "acme-pro"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = h.site(act.ActivationToken, "other.example.com", "/license/verify", api.VerifyRequest{PluginSlug: "acme-pro"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(domain.ReasonNotActivatedOnSite), decode[map[string]any](t, rec)["reason"])
	})
}

func TestVerifyBatch(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{})
	h.newPlugin(api.CreatePluginRequest{Slug: "a"})
	act := h.activate(key.Secret, "shop.example.com")

	rec := h.site(act.ActivationToken, "shop.example.com", "/license/verify-batch",
		api.VerifyBatchRequest{PluginSlugs: []string{"a", "b"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	batch := decode[api.BatchVerification](t, rec)
	signer, err := security.NewResponseSigner(act.ActivationToken)
	require.NoError(t, err)
	require.NoError(t, signer.Verify(batch.Results, batch.Signature))

	results, err := batch.Decode()
	require.NoError(t, err)
	assert.True(t, results["a"].Valid)
	assert.Equal(t, domain.ReasonPluginNotFound, results["b"].Reason)

	rec = h.site(act.ActivationToken, "shop.example.com", "/license/verify-batch", api.VerifyBatchRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInfo(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{Name: "agency", MaxActivations: 3})
	h.newPlugin(api.CreatePluginRequest{Slug: "acme-pro"})
	act := h.activate(key.Secret, "shop.example.com")

	rec := h.site(act.ActivationToken, "shop.example.com", "/license/info", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	signed := decode[api.SignedInfo](t, rec)
	signer, err := security.NewResponseSigner(act.ActivationToken)
	require.NoError(t, err)
	require.NoError(t, signer.Verify(signed.Info, signed.Signature))

	info, err := signed.Decode()
	require.NoError(t, err)
	assert.Equal(t, "agency", info.KeyName)
	assert.Equal(t, 1, info.ActiveCount)
	assert.Equal(t, "shop.example.com", info.SiteDomain)
}

func TestKillSwitch(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{})
	act := h.activate(key.Secret, "shop.example.com")

	blocked := func(req api.KillSwitchRequest) bool {
		rec := h.do(http.MethodPost, "/killswitch", req, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[api.KillSwitchResponse](t, rec).Blocked
	}

	assert.False(t, blocked(api.KillSwitchRequest{PluginSlug: "acme-pro"}), "missing token fails open")
	assert.False(t, blocked(api.KillSwitchRequest{ActivationToken: act.ActivationToken}), "missing slug fails open")
	assert.True(t, blocked(api.KillSwitchRequest{PluginSlug: "acme-pro", ActivationToken: "pha_unknown", SiteURL: "shop.example.com"}))

	valid := api.KillSwitchRequest{PluginSlug: "acme-pro", ActivationToken: act.ActivationToken, SiteURL: "shop.example.com"}
	assert.False(t, blocked(valid))

	list := decode[api.ActivationListResponse](t, h.admin(http.MethodGet, "/admin/keys/"+key.Key.ID.String()+"/activations", nil))
	require.Len(t, list.Activations, 1)

	rec := h.admin(http.MethodPost, "/admin/blacklist", api.BlacklistRequest{
		ActivationID: list.Activations[0].ID, PluginSlug: "acme-pro", Reason: "chargeback",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[domain.BlacklistEntry](t, rec)

	assert.True(t, blocked(valid))

	rec = h.admin(http.MethodDelete, "/admin/blacklist/"+entry.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, blocked(valid))
}

func TestUpdateCheck(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{})
	h.newPlugin(api.CreatePluginRequest{
		Slug: "acme-pro", LatestVersion: "2.1.0", PackageURL: "https://downloads.example.com/acme-pro-2.1.0.zip",
	})
	act := h.activate(key.Secret, "shop.example.com")

	rec := h.site(act.ActivationToken, "shop.example.com", "/update/check",
		api.UpdateCheckRequest{PluginSlug: "acme-pro", Version: "2.0.3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.UpdateCheckResponse](t, rec)
	assert.True(t, resp.UpdateAvailable)
	assert.Equal(t, "2.1.0", resp.LatestVersion)
	assert.Equal(t, "https://downloads.example.com/acme-pro-2.1.0.zip", resp.PackageURL)

	rec = h.site(act.ActivationToken, "shop.example.com", "/update/check",
		api.UpdateCheckRequest{PluginSlug: "acme-pro", Version: "2.1.0"})
	resp = decode[api.UpdateCheckResponse](t, rec)
	assert.False(t, resp.UpdateAvailable)
	assert.Empty(t, resp.PackageURL)
}

func TestAdmin_Auth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/admin/keys", api.CreateKeyRequest{Name: "x", AccessScope: domain.AccessAll}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/admin/keys", api.CreateKeyRequest{Name: "x", AccessScope: domain.AccessAll},
		map[string]string{"Authorization": "Bearer not-the-admin-token"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_Keys(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{Name: "agency"})
	assert.True(t, strings.HasPrefix(key.Secret, config.APIKeySecretPrefix))

	rec := h.admin(http.MethodGet, "/admin/keys/"+key.Key.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), key.Secret)

	assert.Equal(t, http.StatusBadRequest, h.admin(http.MethodGet, "/admin/keys/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.admin(http.MethodGet, "/admin/keys/"+"00000000-0000-0000-0000-000000000001", nil).Code)

	rec = h.admin(http.MethodPatch, "/admin/keys/"+key.Key.ID.String()+"/status", api.UpdateKeyStatusRequest{Status: domain.KeyStatusRevoked})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.admin(http.MethodPatch, "/admin/keys/"+key.Key.ID.String()+"/status", api.UpdateKeyStatusRequest{Status: domain.KeyStatusActive})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.admin(http.MethodPatch, "/admin/keys/"+key.Key.ID.String()+"/status", map[string]string{"status": "paused"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdmin_ActivationsAndExport(t *testing.T) {
	h := newHarness(t)
	key := h.newKey(api.CreateKeyRequest{MaxActivations: 5})
	h.activate(key.Secret, "a.example.com")
	h.activate(key.Secret, "b.example.com")
	base := "/admin/keys/" + key.Key.ID.String() + "/activations"

	list := decode[api.ActivationListResponse](t, h.admin(http.MethodGet, base, nil))
	assert.Equal(t, 2, list.ActiveCount)

	rec := h.admin(http.MethodGet, base+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "activations_"+key.Key.ID.String())

	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(rec.Body.String(), "\ufeff"))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rec = h.admin(http.MethodGet, base+"/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PK", rec.Body.String()[:2])

	assert.Equal(t, http.StatusUnprocessableEntity, h.admin(http.MethodGet, base+"/export?format=pdf", nil).Code)

	id := list.Activations[0].ID.String()
	assert.Equal(t, http.StatusNoContent, h.admin(http.MethodDelete, "/admin/activations/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.admin(http.MethodDelete, "/admin/activations/"+id, nil).Code)
}

func TestAdmin_PluginValidation(t *testing.T) {
	h := newHarness(t)
	rec := h.admin(http.MethodPost, "/admin/plugins", api.CreatePluginRequest{Slug: "Not A Slug", Name: "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.admin(http.MethodPost, "/admin/groups", api.CreateGroupRequest{Name: "bundle"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/health", "/health/ready", "/health/live", "/version"} {
		rec := h.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/metrics", nil, nil).Code)
}
