package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"plughub/pkg/contracts/domain"
)

// MemoryStore keeps everything in maps behind one mutex. Returned values are
// copies; callers may mutate them freely.
type MemoryStore struct {
	mu          sync.Mutex
	keys        map[uuid.UUID]*domain.APIKey
	plugins     map[uuid.UUID]*domain.Plugin
	groups      map[uuid.UUID]*domain.PluginGroup
	activations map[uuid.UUID]*domain.Activation
	blacklist   map[uuid.UUID]*domain.BlacklistEntry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:        make(map[uuid.UUID]*domain.APIKey),
		plugins:     make(map[uuid.UUID]*domain.Plugin),
		groups:      make(map[uuid.UUID]*domain.PluginGroup),
		activations: make(map[uuid.UUID]*domain.Activation),
		blacklist:   make(map[uuid.UUID]*domain.BlacklistEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Ping(context.Context) error { return nil }

func copyKey(k *domain.APIKey) *domain.APIKey {
	c := *k
	c.AllowedPlugins = slices.Clone(k.AllowedPlugins)
	c.AllowedGroups = slices.Clone(k.AllowedGroups)
	return &c
}

func copyPlugin(p *domain.Plugin) *domain.Plugin {
	c := *p
	c.GroupIDs = slices.Clone(p.GroupIDs)
	return &c
}

func copyActivation(a *domain.Activation) *domain.Activation {
	c := *a
	return &c
}

// --- Keys ---

func (s *MemoryStore) CreateKey(_ context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.ID == key.ID || k.KeyPrefix == key.KeyPrefix {
			return ErrDuplicate
		}
	}
	s.keys[key.ID] = copyKey(key)
	return nil
}

func (s *MemoryStore) GetKey(_ context.Context, id uuid.UUID) (*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyKey(k), nil
}

func (s *MemoryStore) GetKeysByPrefix(_ context.Context, prefix string) ([]*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*domain.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix {
			keys = append(keys, copyKey(k))
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateKeyStatus(_ context.Context, id uuid.UUID, status domain.KeyStatus) (*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	if k.Status != status && !k.Status.CanTransitionTo(status) {
		return nil, ErrInvalidTransition
	}
	k.Status = status
	if status == domain.KeyStatusRevoked {
		s.deleteActivationsLocked(id)
	}
	return copyKey(k), nil
}

func (s *MemoryStore) DeleteKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[id]; !ok {
		return ErrNotFound
	}
	delete(s.keys, id)
	s.deleteActivationsLocked(id)
	return nil
}

func (s *MemoryStore) deleteActivationsLocked(keyID uuid.UUID) {
	for id, a := range s.activations {
		if a.KeyID == keyID {
			delete(s.activations, id)
			s.deleteBlacklistForLocked(id)
		}
	}
}

func (s *MemoryStore) deleteBlacklistForLocked(activationID uuid.UUID) {
	for id, e := range s.blacklist {
		if e.ActivationID == activationID {
			delete(s.blacklist, id)
		}
	}
}

// --- Plugins ---

func (s *MemoryStore) CreatePlugin(_ context.Context, p *domain.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.plugins {
		if existing.Slug == p.Slug ||
			(p.SlugOverride != "" && existing.SlugOverride == p.SlugOverride) {
			return ErrDuplicate
		}
	}
	s.plugins[p.ID] = copyPlugin(p)
	return nil
}

func (s *MemoryStore) GetPluginBySlug(_ context.Context, slug string) (*domain.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.plugins {
		if p.EffectiveSlug() == slug {
			return copyPlugin(p), nil
		}
	}
	for _, p := range s.plugins {
		if p.Slug == slug {
			return copyPlugin(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListPlugins(_ context.Context) ([]*domain.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plugins := make([]*domain.Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		plugins = append(plugins, copyPlugin(p))
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Slug < plugins[j].Slug })
	return plugins, nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, g *domain.PluginGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return ErrDuplicate
	}
	c := *g
	s.groups[g.ID] = &c
	return nil
}

// --- Activations ---

func (s *MemoryStore) Activate(_ context.Context, key *domain.APIKey, siteDomain, token string, now time.Time) (*ActivateOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; !ok {
		return nil, ErrNotFound
	}

	var domains []string
	for _, a := range s.activations {
		if a.KeyID != key.ID || !a.Active {
			continue
		}
		if a.SiteDomain == siteDomain {
			return &ActivateOutcome{Activation: copyActivation(a), AlreadyActive: true}, nil
		}
		domains = append(domains, a.SiteDomain)
	}

	if !key.Unlimited() && len(domains) >= key.MaxActivations {
		sort.Strings(domains)
		return &ActivateOutcome{LimitReached: true, ActiveDomains: domains}, nil
	}

	for _, a := range s.activations {
		if a.Token == token {
			return nil, ErrDuplicate
		}
	}

	a := &domain.Activation{
		ID:          uuid.New(),
		KeyID:       key.ID,
		SiteDomain:  siteDomain,
		Token:       token,
		Active:      true,
		ActivatedAt: now,
	}
	s.activations[a.ID] = a
	return &ActivateOutcome{Activation: copyActivation(a)}, nil
}

func (s *MemoryStore) GetActivation(_ context.Context, id uuid.UUID) (*domain.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyActivation(a), nil
}

func (s *MemoryStore) GetActivationByToken(_ context.Context, token string) (*domain.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.activations {
		if a.Token == token {
			return copyActivation(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindActivation(_ context.Context, keyID uuid.UUID, siteDomain string) (*domain.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.activations {
		if a.KeyID == keyID && a.SiteDomain == siteDomain && a.Active {
			return copyActivation(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListActivations(_ context.Context, keyID uuid.UUID) ([]*domain.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*domain.Activation
	for _, a := range s.activations {
		if a.KeyID == keyID {
			list = append(list, copyActivation(a))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ActivatedAt.Before(list[j].ActivatedAt) })
	return list, nil
}

func (s *MemoryStore) CountActiveActivations(_ context.Context, keyID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.activations {
		if a.KeyID == keyID && a.Active {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteActivation(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activations[id]; !ok {
		return false, nil
	}
	delete(s.activations, id)
	s.deleteBlacklistForLocked(id)
	return true, nil
}

func (s *MemoryStore) TouchActivation(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activations[id]
	if !ok {
		return ErrNotFound
	}
	if a.LastVerifiedAt == nil || at.After(*a.LastVerifiedAt) {
		a.LastVerifiedAt = &at
	}
	return nil
}

// --- Blacklist ---

func (s *MemoryStore) AddBlacklistEntry(_ context.Context, e *domain.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activations[e.ActivationID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.blacklist[e.ID]; ok {
		return ErrDuplicate
	}
	c := *e
	s.blacklist[e.ID] = &c
	return nil
}

func (s *MemoryStore) DeleteBlacklistEntry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blacklist[id]; !ok {
		return ErrNotFound
	}
	delete(s.blacklist, id)
	return nil
}

func (s *MemoryStore) ListBlacklist(_ context.Context, activationID uuid.UUID) ([]*domain.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*domain.BlacklistEntry
	for _, e := range s.blacklist {
		if e.ActivationID == activationID {
			c := *e
			entries = append(entries, &c)
		}
	}
	return entries, nil
}
