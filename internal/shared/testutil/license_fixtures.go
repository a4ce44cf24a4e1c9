package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"plughub/internal/security"
	"plughub/pkg/contracts/domain"
)

// TestBcryptCost keeps hashing fast in tests
const TestBcryptCost = 4

// NewKey returns an active key with a freshly generated secret. The raw secret is
// returned alongside the key because only its hash is kept on the struct.
func NewKey(t *testing.T, scope domain.AccessScope, maxActivations int) (*domain.APIKey, string) {
	t.Helper()

	secret, err := security.GenerateAPIKeySecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	hash, err := security.HashSecret(secret, TestBcryptCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}

	return &domain.APIKey{
		ID:             uuid.New(),
		Name:           "test key",
		KeyPrefix:      security.KeyPrefix(secret),
		SecretHash:     hash,
		Status:         domain.KeyStatusActive,
		AccessScope:    scope,
		MaxActivations: maxActivations,
		CreatedAt:      time.Now().UTC(),
	}, secret
}

// NewPlugin returns a plugin with the given slug and groups
func NewPlugin(slug string, groups ...uuid.UUID) *domain.Plugin {
	return &domain.Plugin{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      slug,
		GroupIDs:  groups,
		CreatedAt: time.Now().UTC(),
	}
}

// NewActivation returns an active activation for key on domain
func NewActivation(t *testing.T, key *domain.APIKey, siteDomain string) *domain.Activation {
	t.Helper()

	token, err := security.GenerateActivationToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return &domain.Activation{
		ID:          uuid.New(),
		KeyID:       key.ID,
		SiteDomain:  siteDomain,
		Token:       token,
		Active:      true,
		ActivatedAt: time.Now().UTC(),
	}
}

// FakeClock is a settable time source safe for concurrent use
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
