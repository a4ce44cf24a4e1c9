package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"plughub/internal/security"
	"plughub/internal/store"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// Admin implements the administrator operations on keys, plugins and the kill switch
type Admin struct {
	store      store.Store
	catalog    *Catalog
	bcryptCost int
	logger     *slog.Logger
	now        func() time.Time
}

// NewAdmin creates the admin service
func NewAdmin(s store.Store, catalog *Catalog, bcryptCost int, logger *slog.Logger) *Admin {
	return &Admin{
		store:      s,
		catalog:    catalog,
		bcryptCost: bcryptCost,
		logger:     logger.With(slog.String("component", "license_admin")),
		now:        time.Now,
	}
}

// CreateKey creates a key and returns it with its raw secret, which is not
// recoverable afterwards
func (a *Admin) CreateKey(ctx context.Context, req api.CreateKeyRequest) (*domain.APIKey, string, error) {
	// Retry on a key prefix collision.
	for attempt := 0; attempt < 3; attempt++ {
		secret, err := security.GenerateAPIKeySecret()
		if err != nil {
			return nil, "", fmt.Errorf("generate secret: %w", err)
		}
		hash, err := security.HashSecret(secret, a.bcryptCost)
		if err != nil {
			return nil, "", err
		}

		key := &domain.APIKey{
			ID:             uuid.New(),
			Name:           req.Name,
			KeyPrefix:      security.KeyPrefix(secret),
			SecretHash:     hash,
			Status:         domain.KeyStatusActive,
			AccessScope:    req.AccessScope,
			AllowedPlugins: req.AllowedPlugins,
			AllowedGroups:  req.AllowedGroups,
			MaxActivations: req.MaxActivations,
			ExpiresAt:      req.ExpiresAt,
			CreatedAt:      a.now().UTC(),
		}

		err = a.store.CreateKey(ctx, key)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, "", err
		}

		logAction(ctx, a.logger, slog.LevelInfo, "create_key", "success",
			slog.String("key_id", key.ID.String()), keyAttr(secret),
			slog.String("access_scope", string(key.AccessScope)),
			slog.Int("max_activations", key.MaxActivations))
		return key, secret, nil
	}
	return nil, "", fmt.Errorf("create key: %w", store.ErrDuplicate)
}

func (a *Admin) GetKey(ctx context.Context, id uuid.UUID) (*domain.APIKey, error) {
	return a.store.GetKey(ctx, id)
}

// UpdateKeyStatus moves a key to status; revoking deletes its activations
func (a *Admin) UpdateKeyStatus(ctx context.Context, id uuid.UUID, status domain.KeyStatus) (*domain.APIKey, error) {
	key, err := a.store.UpdateKeyStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	logAction(ctx, a.logger, slog.LevelInfo, "update_key_status", string(status),
		slog.String("key_id", id.String()))
	return key, nil
}

// ListActivations returns every activation of a key with the active count
func (a *Admin) ListActivations(ctx context.Context, keyID uuid.UUID) (*api.ActivationListResponse, error) {
	if _, err := a.store.GetKey(ctx, keyID); err != nil {
		return nil, err
	}
	list, err := a.store.ListActivations(ctx, keyID)
	if err != nil {
		return nil, err
	}

	resp := &api.ActivationListResponse{
		KeyID:       keyID.String(),
		Activations: make([]domain.Activation, 0, len(list)),
		GeneratedAt: a.now().UTC(),
	}
	for _, act := range list {
		resp.Activations = append(resp.Activations, *act)
		if act.Active {
			resp.ActiveCount++
		}
	}
	return resp, nil
}

// DeleteActivation removes an activation by ID
func (a *Admin) DeleteActivation(ctx context.Context, id uuid.UUID) error {
	deleted, err := a.store.DeleteActivation(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return store.ErrNotFound
	}
	logAction(ctx, a.logger, slog.LevelInfo, "delete_activation", "success",
		slog.String("activation_id", id.String()))
	return nil
}

// CreatePlugin registers a plugin and drops any stale catalog entry for its slugs
func (a *Admin) CreatePlugin(ctx context.Context, req api.CreatePluginRequest) (*domain.Plugin, error) {
	p := &domain.Plugin{
		ID:            uuid.New(),
		Slug:          req.Slug,
		SlugOverride:  req.SlugOverride,
		Name:          req.Name,
		GroupIDs:      req.GroupIDs,
		LatestVersion: req.LatestVersion,
		PackageURL:    req.PackageURL,
		CreatedAt:     a.now().UTC(),
	}
	if err := a.store.CreatePlugin(ctx, p); err != nil {
		return nil, err
	}
	a.catalog.Invalidate(ctx, p)
	logAction(ctx, a.logger, slog.LevelInfo, "create_plugin", "success",
		slog.String("slug", p.Slug), slog.String("effective_slug", p.EffectiveSlug()))
	return p, nil
}

func (a *Admin) CreateGroup(ctx context.Context, req api.CreateGroupRequest) (*domain.PluginGroup, error) {
	g := &domain.PluginGroup{ID: uuid.New(), Name: req.Name, CreatedAt: a.now().UTC()}
	if err := a.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// AddBlacklistEntry blocks an activation for one plugin, or all when PluginSlug is empty
func (a *Admin) AddBlacklistEntry(ctx context.Context, req api.BlacklistRequest) (*domain.BlacklistEntry, error) {
	e := &domain.BlacklistEntry{
		ID:           uuid.New(),
		ActivationID: req.ActivationID,
		PluginSlug:   req.PluginSlug,
		Reason:       req.Reason,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.AddBlacklistEntry(ctx, e); err != nil {
		return nil, err
	}
	logAction(ctx, a.logger, slog.LevelWarn, "blacklist_add", "success",
		slog.String("activation_id", e.ActivationID.String()),
		slog.String("plugin_slug", e.PluginSlug))
	return e, nil
}

func (a *Admin) DeleteBlacklistEntry(ctx context.Context, id uuid.UUID) error {
	return a.store.DeleteBlacklistEntry(ctx, id)
}
