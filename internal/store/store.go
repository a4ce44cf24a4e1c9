// Package store persists API keys, plugins, activations and kill-switch
// entries. PostgresStore is the production backend; MemoryStore backs tests
// and single-process deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"plughub/pkg/contracts/domain"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicate         = errors.New("duplicate key violation")
	ErrInvalidTransition = errors.New("invalid key status transition")
)

// ActivateOutcome is the result of an atomic activation attempt
type ActivateOutcome struct {
	Activation    *domain.Activation
	AlreadyActive bool
	// LimitReached is set when the key has no free slot; ActiveDomains then
	// lists the domains holding the slots.
	LimitReached  bool
	ActiveDomains []string
}

// Store is the data access interface. Implementations must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	CreateKey(ctx context.Context, key *domain.APIKey) error
	GetKey(ctx context.Context, id uuid.UUID) (*domain.APIKey, error)
	GetKeysByPrefix(ctx context.Context, prefix string) ([]*domain.APIKey, error)
	// UpdateKeyStatus enforces domain.KeyStatus transitions. Moving a key to
	// revoked deletes its activations.
	UpdateKeyStatus(ctx context.Context, id uuid.UUID, status domain.KeyStatus) (*domain.APIKey, error)
	DeleteKey(ctx context.Context, id uuid.UUID) error

	CreatePlugin(ctx context.Context, p *domain.Plugin) error
	// GetPluginBySlug matches the effective slug first, then the canonical slug
	GetPluginBySlug(ctx context.Context, slug string) (*domain.Plugin, error)
	ListPlugins(ctx context.Context) ([]*domain.Plugin, error)
	CreateGroup(ctx context.Context, g *domain.PluginGroup) error

	// Activate binds key to siteDomain under token unless an active binding
	// already exists or the key's limit is reached. It is atomic per key.
	Activate(ctx context.Context, key *domain.APIKey, siteDomain, token string, now time.Time) (*ActivateOutcome, error)
	GetActivation(ctx context.Context, id uuid.UUID) (*domain.Activation, error)
	GetActivationByToken(ctx context.Context, token string) (*domain.Activation, error)
	FindActivation(ctx context.Context, keyID uuid.UUID, siteDomain string) (*domain.Activation, error)
	ListActivations(ctx context.Context, keyID uuid.UUID) ([]*domain.Activation, error)
	CountActiveActivations(ctx context.Context, keyID uuid.UUID) (int, error)
	DeleteActivation(ctx context.Context, id uuid.UUID) (bool, error)
	// TouchActivation moves last_verified_at forward to at; it never moves it back
	TouchActivation(ctx context.Context, id uuid.UUID, at time.Time) error

	AddBlacklistEntry(ctx context.Context, e *domain.BlacklistEntry) error
	DeleteBlacklistEntry(ctx context.Context, id uuid.UUID) error
	ListBlacklist(ctx context.Context, activationID uuid.UUID) ([]*domain.BlacklistEntry, error)
}
