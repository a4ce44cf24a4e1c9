// Package client is the site-side half of license verification. It calls
// the license server, checks response signatures, caches valid results in
// memory and in a persistent kv store, and hands connection failures to the
// grace manager.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"plughub/internal/config"
	"plughub/internal/grace"
	"plughub/internal/infrastructure"
	"plughub/internal/kv"
	"plughub/internal/license"
	"plughub/internal/security"
	"plughub/pkg/contracts"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

const maxResponseBytes = 1 << 20

// Client talks to the license server on behalf of one activated site
type Client struct {
	cfg        config.ClientConfig
	httpClient *http.Client
	memory     *ResultCache
	store      kv.Store
	grace      *grace.Manager
	metrics    *license.LicenseMetrics
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	flight     singleflight.Group
}

// New creates a client. store holds cached envelopes and last-valid markers
// across restarts.
func New(cfg config.ClientConfig, store kv.Store, graceMgr *grace.Manager, logger *slog.Logger, metrics *license.LicenseMetrics) *Client {
	if metrics == nil {
		metrics = license.NoopMetrics()
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		store:      store,
		grace:      graceMgr,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "license_client")),
		tracer:     otel.Tracer(infrastructure.MeterName),
		now:        time.Now,
	}
	c.memory = NewResultCache(cfg.CacheTTL, cfg.MemoryCacheSize, config.MemoryCacheCleanupInterval,
		func() time.Time { return c.now() })
	return c
}

// WithHTTPClient replaces the HTTP client
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// WithClock replaces the time source
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Close stops background cache maintenance
func (c *Client) Close() {
	c.memory.Stop()
}

// Verify returns the license decision for slug. Failures are reported as
// reasons on the result, never as errors.
func (c *Client) Verify(ctx context.Context, slug string, forceRemote bool) domain.VerificationResult {
	ctx, span := c.tracer.Start(ctx, "client.verify", trace.WithAttributes(
		attribute.String("license.plugin_slug", slug),
		attribute.Bool("license.force_remote", forceRemote)))
	defer span.End()

	start := time.Now()
	if !c.cfg.Configured() {
		c.logger.WarnContext(ctx, "license client is not configured",
			slog.String("plugin_slug", slug),
			slog.String("remediation", "set the server URL and activation token"))
		return domain.NewResult(slug, domain.ReasonNotConfigured, c.now().UTC())
	}

	if !forceRemote {
		if result, ok := c.cached(ctx, slug); ok {
			c.metrics.CacheHits.Add(ctx, 1)
			return result
		}
		c.metrics.CacheMisses.Add(ctx, 1)
	}

	v, _, _ := c.flight.Do(slug, func() (any, error) {
		return c.verifyRemote(ctx, slug), nil
	})
	result := v.(domain.VerificationResult)

	c.metrics.RecordVerification(ctx, result.Reason, start)
	span.SetAttributes(attribute.String("license.reason", string(result.Reason)))
	return result
}

// ForceCheck drops cached results for slug and asks the server
func (c *Client) ForceCheck(ctx context.Context, slug string) domain.VerificationResult {
	c.Invalidate(ctx, slug)
	return c.Verify(ctx, slug, true)
}

// Invalidate drops both cache layers for slug
func (c *Client) Invalidate(ctx context.Context, slug string) {
	c.memory.Invalidate(slug)
	if err := c.store.Delete(ctx, kv.VerifyKey(slug)); err != nil {
		c.logger.WarnContext(ctx, "failed to drop persisted result",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
	}
}

// VerifyBatch verifies several plugins in one round trip
func (c *Client) VerifyBatch(ctx context.Context, slugs []string) map[string]domain.VerificationResult {
	ctx, span := c.tracer.Start(ctx, "client.verify_batch",
		trace.WithAttributes(attribute.Int("license.batch_size", len(slugs))))
	defer span.End()

	out := make(map[string]domain.VerificationResult, len(slugs))
	if !c.cfg.Configured() {
		for _, slug := range slugs {
			out[slug] = domain.NewResult(slug, domain.ReasonNotConfigured, c.now().UTC())
		}
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()

	var resp api.BatchVerification
	err := c.post(callCtx, "/license/verify-batch", api.VerifyBatchRequest{PluginSlugs: slugs}, true, &resp)
	if err != nil {
		for _, slug := range slugs {
			out[slug] = c.handleFailure(ctx, slug, err)
		}
		return out
	}

	env := Envelope{Payload: resp.Results, Signature: resp.Signature, Batch: true}
	signer, err := c.signer()
	if err != nil {
		return c.allIntegrityFailures(ctx, slugs, err)
	}
	for _, slug := range slugs {
		result, err := env.Open(signer, slug)
		if err != nil {
			out[slug] = c.integrityFailure(ctx, slug, err)
			continue
		}
		out[slug] = c.accept(ctx, slug, env, result)
	}
	return out
}

func (c *Client) allIntegrityFailures(ctx context.Context, slugs []string, err error) map[string]domain.VerificationResult {
	out := make(map[string]domain.VerificationResult, len(slugs))
	for _, slug := range slugs {
		out[slug] = c.integrityFailure(ctx, slug, err)
	}
	return out
}

func (c *Client) verifyRemote(ctx context.Context, slug string) domain.VerificationResult {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp api.SignedVerification
	if err := c.post(callCtx, "/license/verify", api.VerifyRequest{PluginSlug: slug}, true, &resp); err != nil {
		return c.handleFailure(ctx, slug, err)
	}

	signer, err := c.signer()
	if err != nil {
		return c.integrityFailure(ctx, slug, err)
	}
	env := Envelope{Payload: resp.Result, Signature: resp.Signature}
	result, err := env.Open(signer, slug)
	if err != nil {
		return c.integrityFailure(ctx, slug, err)
	}
	return c.accept(ctx, slug, env, result)
}

// accept applies a verified server decision to local state
func (c *Client) accept(ctx context.Context, slug string, env Envelope, result domain.VerificationResult) domain.VerificationResult {
	if !result.Valid {
		c.block(ctx, slug, result.Reason)
		return result
	}

	c.remember(ctx, slug, env, result)
	if err := c.grace.RecordSuccess(ctx, slug); err != nil {
		c.logger.WarnContext(ctx, "failed to clear grace state",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
	}
	return result
}

// handleFailure routes a failed call by reason class
func (c *Client) handleFailure(ctx context.Context, slug string, err error) domain.VerificationResult {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		// the caller gave up, the server said nothing; grace state stays as it was
		c.logger.InfoContext(ctx, "license check cancelled", slog.String("plugin_slug", slug))
		return domain.NewResult(slug, domain.ReasonConnectionError, c.now().UTC())
	}

	reason := Classify(err)
	if reason.Class() == domain.ClassConfiguration {
		c.logger.WarnContext(ctx, "license client misconfigured",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
		return domain.NewResult(slug, reason, c.now().UTC())
	}
	if !reason.GraceEligible() {
		c.logger.WarnContext(ctx, "license rejected by server",
			slog.String("plugin_slug", slug),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
		return c.block(ctx, slug, reason)
	}

	c.logger.WarnContext(ctx, "license server unreachable",
		slog.String("plugin_slug", slug),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()))
	result, gerr := c.grace.HandleConnectionFailure(ctx, slug, reason, c.hadPriorValid(ctx, slug))
	if gerr != nil {
		c.logger.ErrorContext(ctx, "grace state unavailable",
			slog.String("plugin_slug", slug), slog.String("error", gerr.Error()))
	}
	return result
}

func (c *Client) integrityFailure(ctx context.Context, slug string, err error) domain.VerificationResult {
	c.metrics.RecordSecurityEvent(ctx, string(domain.ReasonInvalidSignature))
	c.logger.ErrorContext(ctx, "license response failed integrity check",
		slog.Bool("security_event", true),
		slog.String("plugin_slug", slug),
		slog.String("error", err.Error()))
	return c.block(ctx, slug, domain.ReasonInvalidSignature)
}

// block clears every local trace of a valid license for slug
func (c *Client) block(ctx context.Context, slug string, reason domain.Reason) domain.VerificationResult {
	c.Invalidate(ctx, slug)
	if err := c.store.Delete(ctx, kv.LastValidKey(slug)); err != nil {
		c.logger.WarnContext(ctx, "failed to clear last valid marker",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
	}
	result, err := c.grace.RecordLicenseFailure(ctx, slug, reason)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to clear grace state",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
	}
	return result
}

// remember writes a valid envelope to both cache layers and stamps the last
// valid marker
func (c *Client) remember(ctx context.Context, slug string, env Envelope, result domain.VerificationResult) {
	now := c.now().UTC()
	expiresAt := now.Add(c.cfg.CacheTTL)
	if result.ExpiresAt != nil && result.ExpiresAt.Before(expiresAt) {
		expiresAt = *result.ExpiresAt
	}

	c.memory.Set(slug, env, expiresAt)

	data, err := json.Marshal(persisted{Envelope: env, ExpiresAt: expiresAt})
	if err == nil {
		err = c.store.Set(ctx, kv.VerifyKey(slug), data, expiresAt.Sub(now))
	}
	if err != nil {
		c.logger.WarnContext(ctx, "failed to persist verification result",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
	}

	if err := c.store.Set(ctx, kv.LastValidKey(slug), []byte(now.Format(time.RFC3339)), 0); err != nil {
		c.logger.WarnContext(ctx, "failed to stamp last valid marker",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
	}
}

// cached returns a still-valid result from memory or the persistent store.
// Persisted envelopes are re-verified so edited state files are rejected.
func (c *Client) cached(ctx context.Context, slug string) (domain.VerificationResult, bool) {
	signer, err := c.signer()
	if err != nil {
		return domain.VerificationResult{}, false
	}

	if env, ok := c.memory.Get(slug); ok {
		if result, err := env.Open(signer, slug); err == nil && c.fresh(result) {
			return result, true
		}
		c.memory.Invalidate(slug)
	}

	data, found, err := c.store.Get(ctx, kv.VerifyKey(slug))
	if err != nil {
		c.logger.WarnContext(ctx, "persistent cache read failed",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
		return domain.VerificationResult{}, false
	}
	if !found {
		return domain.VerificationResult{}, false
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil || !c.now().Before(p.ExpiresAt) {
		return domain.VerificationResult{}, false
	}
	result, err := p.Envelope.Open(signer, slug)
	if err != nil {
		c.metrics.RecordSecurityEvent(ctx, "tampered_cache")
		c.logger.ErrorContext(ctx, "persisted verification result failed integrity check",
			slog.Bool("security_event", true),
			slog.String("plugin_slug", slug),
			slog.String("error", err.Error()))
		c.Invalidate(ctx, slug)
		return domain.VerificationResult{}, false
	}
	if !c.fresh(result) {
		return domain.VerificationResult{}, false
	}

	c.memory.Set(slug, p.Envelope, p.ExpiresAt)
	return result, true
}

func (c *Client) fresh(r domain.VerificationResult) bool {
	return r.Valid && (r.ExpiresAt == nil || c.now().Before(*r.ExpiresAt))
}

func (c *Client) hadPriorValid(ctx context.Context, slug string) bool {
	_, found, err := c.store.Get(ctx, kv.LastValidKey(slug))
	return err == nil && found
}

// LastValid returns when slug last verified successfully
func (c *Client) LastValid(ctx context.Context, slug string) (*time.Time, error) {
	data, found, err := c.store.Get(ctx, kv.LastValidKey(slug))
	if err != nil || !found {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return nil, fmt.Errorf("parse last valid marker: %w", err)
	}
	return &t, nil
}

func (c *Client) signer() (*security.ResponseSigner, error) {
	return security.NewResponseSigner(c.cfg.ActivationToken)
}

// post sends body as JSON and decodes a 2xx response into out
func (c *Client) post(ctx context.Context, path string, body any, auth bool, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.ServerURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &Error{Reason: domain.ReasonNotConfigured, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "plughub-agent/"+contracts.Version)
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ActivationToken)
		req.Header.Set("X-Site-Domain", c.cfg.SiteDomain)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Reason: domain.ReasonConnectionError, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
