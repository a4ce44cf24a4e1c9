package license

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"plughub/internal/kv"
	"plughub/internal/store"
	"plughub/pkg/contracts/domain"
)

// Catalog resolves plugins by slug through an optional kv cache
type Catalog struct {
	store   store.Store
	cache   kv.Store
	ttl     time.Duration
	metrics *LicenseMetrics
	logger  *slog.Logger
}

// NewCatalog creates a catalog. A nil cache disables caching.
func NewCatalog(s store.Store, cache kv.Store, ttl time.Duration, metrics *LicenseMetrics, logger *slog.Logger) *Catalog {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Catalog{
		store:   s,
		cache:   cache,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "catalog")),
	}
}

// Lookup returns the plugin for slug or store.ErrNotFound. Cache failures
// degrade to a store read.
func (c *Catalog) Lookup(ctx context.Context, slug string) (*domain.Plugin, error) {
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, kv.PluginKey(slug)); err != nil {
			c.logger.WarnContext(ctx, "catalog cache read failed", slog.String("error", err.Error()))
		} else if ok {
			var p domain.Plugin
			if json.Unmarshal(data, &p) == nil {
				c.metrics.CacheHits.Add(ctx, 1)
				return &p, nil
			}
		}
		c.metrics.CacheMisses.Add(ctx, 1)
	}

	p, err := c.store.GetPluginBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(p); err == nil {
			if err := c.cache.Set(ctx, kv.PluginKey(slug), data, c.ttl); err != nil {
				c.logger.WarnContext(ctx, "catalog cache write failed", slog.String("error", err.Error()))
			}
		}
	}
	return p, nil
}

// Invalidate drops the cached entries for a plugin's slugs
func (c *Catalog) Invalidate(ctx context.Context, p *domain.Plugin) {
	if c.cache == nil {
		return
	}
	for _, slug := range []string{p.Slug, p.SlugOverride} {
		if slug == "" {
			continue
		}
		if err := c.cache.Delete(ctx, kv.PluginKey(slug)); err != nil {
			c.logger.WarnContext(ctx, "catalog cache invalidation failed",
				slog.String("slug", slug), slog.String("error", err.Error()))
		}
	}
}
