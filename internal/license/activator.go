package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"plughub/internal/infrastructure"
	"plughub/internal/security"
	"plughub/internal/store"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// ErrIncompleteDeactivation is returned when a deactivation request names neither
// an activation token nor a key and site pair
var ErrIncompleteDeactivation = errors.New("deactivation requires activation_token or license_key and site_url")

// Activator binds API keys to site domains
type Activator struct {
	store    store.Store
	logger   *slog.Logger
	metrics  *LicenseMetrics
	tracer   trace.Tracer
	now      func() time.Time
	newToken func() (string, error)
}

// NewActivator creates an activator over s
func NewActivator(s store.Store, logger *slog.Logger, metrics *LicenseMetrics) *Activator {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Activator{
		store:    s,
		logger:   logger.With(slog.String("component", "activator")),
		metrics:  metrics,
		tracer:   otel.Tracer(infrastructure.MeterName),
		now:      time.Now,
		newToken: security.GenerateActivationToken,
	}
}

// WithClock replaces the time source
func (a *Activator) WithClock(now func() time.Time) *Activator {
	a.now = now
	return a
}

// ResolveKey finds the key whose secret is secret. A secret that matches no
// key yields ReasonInvalidLicenseKey with a nil error.
func (a *Activator) ResolveKey(ctx context.Context, secret string) (*domain.APIKey, domain.Reason, error) {
	if !security.LooksLikeAPIKey(secret) {
		return nil, domain.ReasonInvalidLicenseKey, nil
	}

	candidates, err := a.store.GetKeysByPrefix(ctx, security.KeyPrefix(secret))
	if err != nil {
		return nil, "", fmt.Errorf("lookup key: %w", err)
	}
	for _, k := range candidates {
		if security.CompareSecret(k.SecretHash, secret) {
			return k, domain.ReasonValid, nil
		}
	}
	return nil, domain.ReasonInvalidLicenseKey, nil
}

// KeyReason reports why key cannot be used at now, or ReasonValid
func KeyReason(key *domain.APIKey, now time.Time) domain.Reason {
	switch {
	case key.IsExpired(now):
		return domain.ReasonLicenseExpired
	case key.Status != domain.KeyStatusActive:
		return domain.ReasonLicenseNotActive
	default:
		return domain.ReasonValid
	}
}

// Activate binds the key identified by keySecret to siteDomain. License
// outcomes are reported through the result's Reason; the error is reserved
// for malformed input and storage failures.
func (a *Activator) Activate(ctx context.Context, keySecret, siteDomain string) (*domain.ActivationResult, error) {
	ctx, span := a.tracer.Start(ctx, "license.activate")
	defer span.End()

	start := a.now()
	a.metrics.ActivationAttempts.Add(ctx, 1)

	result, err := a.activate(ctx, keySecret, siteDomain)

	a.metrics.ActivationDuration.Record(ctx, time.Since(start).Seconds())
	switch {
	case err != nil:
		infrastructure.RecordError(ctx, err)
		logAction(ctx, a.logger, slog.LevelError, "activate", "error", keyAttr(keySecret),
			slog.String("site_domain", siteDomain), slog.String("error", err.Error()))
	case result.Activated || result.AlreadyActive:
		a.metrics.ActivationSuccess.Add(ctx, 1)
		span.SetAttributes(attribute.Bool("license.already_active", result.AlreadyActive))
		logAction(ctx, a.logger, slog.LevelInfo, "activate", "success", keyAttr(keySecret),
			slog.String("site_domain", result.Activation.SiteDomain),
			slog.Bool("already_active", result.AlreadyActive))
	default:
		a.metrics.ActivationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", string(result.Reason))))
		span.SetAttributes(attribute.String("license.reason", string(result.Reason)))
		logAction(ctx, a.logger, slog.LevelWarn, "activate", string(result.Reason), keyAttr(keySecret),
			slog.String("site_domain", siteDomain))
	}
	return result, err
}

func (a *Activator) activate(ctx context.Context, keySecret, siteDomain string) (*domain.ActivationResult, error) {
	host, err := NormalizeDomain(siteDomain)
	if err != nil {
		return nil, err
	}

	key, reason, err := a.ResolveKey(ctx, keySecret)
	if err != nil {
		return nil, err
	}
	if reason == domain.ReasonValid {
		reason = KeyReason(key, a.now())
	}
	if reason != domain.ReasonValid {
		return &domain.ActivationResult{Reason: reason}, nil
	}

	token, err := a.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate activation token: %w", err)
	}

	out, err := a.store.Activate(ctx, key, host, token, a.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("store activation: %w", err)
	}

	switch {
	case out.LimitReached:
		return &domain.ActivationResult{
			Reason:           domain.ReasonMaxActivationsReached,
			ActivatedDomains: out.ActiveDomains,
		}, nil
	case out.AlreadyActive:
		return &domain.ActivationResult{
			Activation:    out.Activation,
			AlreadyActive: true,
			Reason:        domain.ReasonValid,
		}, nil
	default:
		return &domain.ActivationResult{
			Activation: out.Activation,
			Activated:  true,
			Reason:     domain.ReasonValid,
		}, nil
	}
}

// Deactivate removes the activation named by req. It reports false without an
// error when nothing matched.
func (a *Activator) Deactivate(ctx context.Context, req api.DeactivateRequest) (bool, error) {
	ctx, span := a.tracer.Start(ctx, "license.deactivate")
	defer span.End()

	if !req.Complete() {
		return false, ErrIncompleteDeactivation
	}

	activation, err := a.findForDeactivation(ctx, req)
	if errors.Is(err, store.ErrNotFound) {
		logAction(ctx, a.logger, slog.LevelInfo, "deactivate", "not_found")
		return false, nil
	}
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return false, err
	}

	deleted, err := a.store.DeleteActivation(ctx, activation.ID)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return false, fmt.Errorf("delete activation: %w", err)
	}
	if deleted {
		a.metrics.Deactivations.Add(ctx, 1)
	}
	logAction(ctx, a.logger, slog.LevelInfo, "deactivate", "success",
		slog.String("activation_id", activation.ID.String()),
		slog.String("site_domain", activation.SiteDomain))
	return deleted, nil
}

func (a *Activator) findForDeactivation(ctx context.Context, req api.DeactivateRequest) (*domain.Activation, error) {
	if req.ByToken() {
		return a.store.GetActivationByToken(ctx, req.ActivationToken)
	}

	host, err := NormalizeDomain(req.SiteURL)
	if err != nil {
		return nil, err
	}
	key, reason, err := a.ResolveKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, err
	}
	if reason != domain.ReasonValid {
		return nil, store.ErrNotFound
	}
	return a.store.FindActivation(ctx, key.ID, host)
}

// CountActive returns the number of active activations of keyID
func (a *Activator) CountActive(ctx context.Context, keyID uuid.UUID) (int, error) {
	return a.store.CountActiveActivations(ctx, keyID)
}
