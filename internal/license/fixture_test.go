package license_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"plughub/internal/kv"
	"plughub/internal/license"
	"plughub/internal/security"
	"plughub/internal/shared/testutil"
	"plughub/internal/store"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

type fixture struct {
	store     *store.MemoryStore
	cache     *kv.MemoryStore
	clock     *testutil.FakeClock
	issuer    *security.TokenIssuer
	activator *license.Activator
	verifier  *license.Verifier
	admin     *license.Admin
	logs      *testutil.BufferedSlogHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	clock := testutil.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))

	s := store.NewMemoryStore()
	cache := kv.NewMemoryStore(clock.Now)
	metrics := license.NoopMetrics()
	catalog := license.NewCatalog(s, cache, 5*time.Minute, metrics, logger)
	issuer := security.NewTokenIssuer("plughub-test", 24*time.Hour).WithClock(clock.Now)

	return &fixture{
		store:     s,
		cache:     cache,
		clock:     clock,
		issuer:    issuer,
		activator: license.NewActivator(s, logger, metrics).WithClock(clock.Now),
		verifier:  license.NewVerifier(s, catalog, issuer, 50, logger, metrics).WithClock(clock.Now),
		admin:     license.NewAdmin(s, catalog, testutil.TestBcryptCost, logger),
		logs:      logs,
	}
}

// newKey creates a key through the admin service and returns its secret
func (f *fixture) newKey(t *testing.T, req api.CreateKeyRequest) (*domain.APIKey, string) {
	t.Helper()
	if req.Name == "" {
		req.Name = "customer"
	}
	if req.AccessScope == "" {
		req.AccessScope = domain.AccessAll
	}
	key, secret, err := f.admin.CreateKey(context.Background(), req)
	require.NoError(t, err)
	return key, secret
}

func (f *fixture) newPlugin(t *testing.T, slug string, groups ...uuid.UUID) *domain.Plugin {
	t.Helper()
	p, err := f.admin.CreatePlugin(context.Background(), api.CreatePluginRequest{
		Slug: slug, Name: slug, GroupIDs: groups,
	})
	require.NoError(t, err)
	return p
}

// activate activates secret on site and returns the authenticated subject
func (f *fixture) activate(t *testing.T, secret, site string) *license.Subject {
	t.Helper()
	ctx := context.Background()
	res, err := f.activator.Activate(ctx, secret, site)
	require.NoError(t, err)
	require.Equal(t, domain.ReasonValid, res.Reason)

	subject, err := f.verifier.Authenticate(ctx, res.Activation.Token, site)
	require.NoError(t, err)
	return subject
}
