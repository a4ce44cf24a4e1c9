package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "plughub/internal/errors"
	"plughub/internal/infrastructure"
	"plughub/internal/security"
	"plughub/internal/store"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// ErrBatchTooLarge is returned when a batch names more plugins than allowed
var ErrBatchTooLarge = errors.New("too many plugin slugs in batch")

// Subject is an authenticated site: its activation and the key behind it
type Subject struct {
	Activation *domain.Activation
	Key        *domain.APIKey
}

// Verifier answers license questions for authenticated sites
type Verifier struct {
	store      store.Store
	catalog    *Catalog
	issuer     *security.TokenIssuer
	batchLimit int
	logger     *slog.Logger
	metrics    *LicenseMetrics
	tracer     trace.Tracer
	now        func() time.Time
}

// NewVerifier creates a verifier
func NewVerifier(s store.Store, catalog *Catalog, issuer *security.TokenIssuer, batchLimit int, logger *slog.Logger, metrics *LicenseMetrics) *Verifier {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Verifier{
		store:      s,
		catalog:    catalog,
		issuer:     issuer,
		batchLimit: batchLimit,
		logger:     logger.With(slog.String("component", "verifier")),
		metrics:    metrics,
		tracer:     otel.Tracer(infrastructure.MeterName),
		now:        time.Now,
	}
}

// WithClock replaces the time source
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Authenticate resolves a bearer activation token presented from siteDomain
func (v *Verifier) Authenticate(ctx context.Context, bearerToken, siteDomain string) (*Subject, error) {
	if bearerToken == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	activation, err := v.store.GetActivationByToken(ctx, bearerToken)
	if errors.Is(err, store.ErrNotFound) {
		logAction(ctx, v.logger, slog.LevelWarn, "authenticate", "unknown_token", tokenAttr(bearerToken))
		return nil, apperrors.ErrInvalidActivationToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup activation: %w", err)
	}
	if !activation.Active {
		return nil, apperrors.ErrActivationInactive
	}

	host, err := NormalizeDomain(siteDomain)
	if err != nil || host != activation.SiteDomain {
		logAction(ctx, v.logger, slog.LevelWarn, "authenticate", "domain_mismatch",
			tokenAttr(bearerToken),
			slog.String("bound_domain", activation.SiteDomain),
			slog.String("presented_domain", siteDomain))
		return nil, apperrors.ErrDomainMismatch
	}

	key, err := v.store.GetKey(ctx, activation.KeyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrInvalidActivationToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	switch KeyReason(key, v.now()) {
	case domain.ReasonValid:
	case domain.ReasonLicenseExpired:
		return nil, apperrors.ErrKeyExpired
	default:
		return nil, apperrors.ErrKeyNotActive
	}

	return &Subject{Activation: activation, Key: key}, nil
}

// VerifyPluginLicense decides whether subject may use the plugin named slug.
// License outcomes are reported in the result; the error is reserved for
// storage failures.
func (v *Verifier) VerifyPluginLicense(ctx context.Context, slug string, subject *Subject) (domain.VerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "license.verify_plugin",
		trace.WithAttributes(attribute.String("license.plugin_slug", slug)))
	defer span.End()

	start := time.Now()
	result, err := v.verifyPlugin(ctx, slug, subject)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return result, err
	}

	v.metrics.RecordVerification(ctx, result.Reason, start)
	span.SetAttributes(attribute.String("license.reason", string(result.Reason)))
	level := slog.LevelInfo
	if !result.Valid {
		level = slog.LevelWarn
	}
	logAction(ctx, v.logger, level, "verify", string(result.Reason),
		slog.String("plugin_slug", slug),
		slog.String("site_domain", subject.Activation.SiteDomain))
	return result, nil
}

func (v *Verifier) verifyPlugin(ctx context.Context, slug string, subject *Subject) (domain.VerificationResult, error) {
	now := v.now().UTC()

	plugin, err := v.catalog.Lookup(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewResult(slug, domain.ReasonPluginNotFound, now), nil
	}
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("lookup plugin: %w", err)
	}

	if !HasAccess(subject.Key, plugin) {
		return domain.NewResult(slug, domain.ReasonNoAccess, now), nil
	}

	blocked, err := v.isBlocked(ctx, subject.Activation, plugin)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	if blocked {
		return domain.NewResult(slug, domain.ReasonBlocked, now), nil
	}

	token, expiresAt, err := v.issuer.Issue(subject.Activation.Token, security.LicenseClaims{
		PluginSlug:   plugin.EffectiveSlug(),
		SiteDomain:   subject.Activation.SiteDomain,
		ActivationID: subject.Activation.ID.String(),
		KeyID:        subject.Key.ID.String(),
	})
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("issue license token: %w", err)
	}

	if err := v.store.TouchActivation(ctx, subject.Activation.ID, now); err != nil {
		return domain.VerificationResult{}, fmt.Errorf("stamp verification: %w", err)
	}

	result := domain.NewResult(slug, domain.ReasonValid, now)
	result.LicenseToken = token
	result.ExpiresAt = &expiresAt
	return result, nil
}

func (v *Verifier) isBlocked(ctx context.Context, activation *domain.Activation, plugin *domain.Plugin) (bool, error) {
	entries, err := v.store.ListBlacklist(ctx, activation.ID)
	if err != nil {
		return false, fmt.Errorf("list blacklist: %w", err)
	}
	for _, e := range entries {
		if e.Matches(plugin.Slug) || e.Matches(plugin.EffectiveSlug()) {
			return true, nil
		}
	}
	return false, nil
}

// Verify returns the result for slug signed under the activation's response key
func (v *Verifier) Verify(ctx context.Context, slug string, subject *Subject) (*api.SignedVerification, error) {
	result, err := v.VerifyPluginLicense(ctx, slug, subject)
	if err != nil {
		return nil, err
	}
	raw, sig, err := signJSON(subject.Activation.Token, result)
	if err != nil {
		return nil, err
	}
	return &api.SignedVerification{Result: raw, Signature: sig}, nil
}

// VerifyBatch verifies each distinct slug and signs the whole result map once
func (v *Verifier) VerifyBatch(ctx context.Context, slugs []string, subject *Subject) (*api.BatchVerification, error) {
	ctx, span := v.tracer.Start(ctx, "license.verify_batch")
	defer span.End()

	unique := dedupe(slugs)
	if v.batchLimit > 0 && len(unique) > v.batchLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(unique), v.batchLimit)
	}
	span.SetAttributes(attribute.Int("license.batch_size", len(unique)))

	results := make(map[string]domain.VerificationResult, len(unique))
	for _, slug := range unique {
		r, err := v.VerifyPluginLicense(ctx, slug, subject)
		if err != nil {
			return nil, err
		}
		results[slug] = r
	}

	raw, sig, err := signJSON(subject.Activation.Token, results)
	if err != nil {
		return nil, err
	}
	return &api.BatchVerification{Results: raw, Signature: sig}, nil
}

// Info returns the signed account and usage summary for subject
func (v *Verifier) Info(ctx context.Context, subject *Subject) (*api.SignedInfo, error) {
	ctx, span := v.tracer.Start(ctx, "license.info")
	defer span.End()

	active, err := v.store.CountActiveActivations(ctx, subject.Key.ID)
	if err != nil {
		return nil, fmt.Errorf("count activations: %w", err)
	}
	plugins, err := v.store.ListPlugins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}

	accessible := make([]string, 0, len(plugins))
	for _, p := range plugins {
		if HasAccess(subject.Key, p) {
			accessible = append(accessible, p.EffectiveSlug())
		}
	}

	info := domain.AccountInfo{
		KeyName:           subject.Key.Name,
		Status:            subject.Key.Status,
		AccessScope:       subject.Key.AccessScope,
		ExpiresAt:         subject.Key.ExpiresAt,
		MaxActivations:    subject.Key.MaxActivations,
		ActiveCount:       active,
		SiteDomain:        subject.Activation.SiteDomain,
		ActivatedAt:       subject.Activation.ActivatedAt,
		LastVerifiedAt:    subject.Activation.LastVerifiedAt,
		AccessiblePlugins: accessible,
		GeneratedAt:       v.now().UTC(),
	}

	raw, sig, err := signJSON(subject.Activation.Token, info)
	if err != nil {
		return nil, err
	}
	return &api.SignedInfo{Info: raw, Signature: sig}, nil
}

// signJSON marshals v once and signs exactly those bytes
func signJSON(activationToken string, v any) (json.RawMessage, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("marshal signed payload: %w", err)
	}
	signer, err := security.NewResponseSigner(activationToken)
	if err != nil {
		return nil, "", fmt.Errorf("derive signing key: %w", err)
	}
	return raw, signer.Sign(raw), nil
}

func dedupe(slugs []string) []string {
	seen := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
