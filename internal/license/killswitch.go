package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"plughub/internal/store"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// KillSwitch reports whether the plugin must be disabled on the calling site.
// Ambiguous requests fail open; credentials that do not check out fail closed.
func (v *Verifier) KillSwitch(ctx context.Context, req api.KillSwitchRequest) bool {
	ctx, span := v.tracer.Start(ctx, "license.killswitch")
	defer span.End()

	if req.ActivationToken == "" || req.PluginSlug == "" {
		return false
	}

	subject, err := v.Authenticate(ctx, req.ActivationToken, req.SiteURL)
	if err != nil {
		v.blocked(ctx, req, "authentication_failed", err)
		return true
	}

	hit, err := v.blacklisted(ctx, subject, req.PluginSlug)
	if err != nil {
		// Storage errors fail open.
		v.logger.ErrorContext(ctx, "kill switch lookup failed", slog.String("error", err.Error()))
		return false
	}
	if hit {
		v.blocked(ctx, req, "blacklisted", nil)
		return true
	}
	return false
}

// blacklisted matches the entries of the activation against both slugs of a
// known plugin, and against the literal slug otherwise
func (v *Verifier) blacklisted(ctx context.Context, subject *Subject, slug string) (bool, error) {
	plugin, err := v.catalog.Lookup(ctx, slug)
	switch {
	case errors.Is(err, store.ErrNotFound):
		plugin = &domain.Plugin{Slug: slug}
	case err != nil:
		return false, fmt.Errorf("lookup plugin: %w", err)
	}
	return v.isBlocked(ctx, subject.Activation, plugin)
}

func (v *Verifier) blocked(ctx context.Context, req api.KillSwitchRequest, cause string, err error) {
	v.metrics.KillSwitchHits.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
	attrs := []slog.Attr{
		slog.String("plugin_slug", req.PluginSlug),
		slog.String("cause", cause),
		tokenAttr(req.ActivationToken),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logAction(ctx, v.logger, slog.LevelWarn, "killswitch", "blocked", attrs...)
}
