package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"plughub/internal/kv"
	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// Activate binds apiKey to the configured site and returns the activation
// token the operator must store in the agent configuration
func (c *Client) Activate(ctx context.Context, apiKey string) (*api.ActivateResponse, error) {
	if c.cfg.ServerURL == "" || c.cfg.SiteDomain == "" {
		return nil, &Error{Reason: domain.ReasonNotConfigured, Detail: "server URL and site domain are required"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp api.ActivateResponse
	err := c.post(ctx, "/activate", api.ActivateRequest{APIKey: apiKey, SiteDomain: c.cfg.SiteDomain}, false, &resp)
	if err != nil {
		return nil, asError(err)
	}
	c.logger.InfoContext(ctx, "site activated",
		slog.String("site_domain", resp.SiteDomain),
		slog.Bool("already_activated", resp.AlreadyActivated))
	return &resp, nil
}

// Deactivate releases this site's activation and clears local state for plugins
func (c *Client) Deactivate(ctx context.Context, plugins []string) (bool, error) {
	if !c.cfg.Configured() {
		return false, &Error{Reason: domain.ReasonNotConfigured}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp api.DeactivateResponse
	err := c.post(callCtx, "/deactivate", api.DeactivateRequest{ActivationToken: c.cfg.ActivationToken}, false, &resp)
	if err != nil {
		return false, asError(err)
	}

	for _, slug := range plugins {
		c.Invalidate(ctx, slug)
		if err := c.store.Delete(ctx, kv.LastValidKey(slug)); err != nil {
			return resp.Success, fmt.Errorf("clear local state: %w", err)
		}
		if err := c.grace.RecordSuccess(ctx, slug); err != nil {
			return resp.Success, fmt.Errorf("clear local state: %w", err)
		}
	}
	c.logger.InfoContext(ctx, "site deactivated", slog.Bool("found", resp.Success))
	return resp.Success, nil
}

// Info returns the signed account summary for this activation
func (c *Client) Info(ctx context.Context) (*domain.AccountInfo, error) {
	if !c.cfg.Configured() {
		return nil, &Error{Reason: domain.ReasonNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()

	var resp api.SignedInfo
	if err := c.post(ctx, "/license/info", struct{}{}, true, &resp); err != nil {
		return nil, asError(err)
	}

	signer, err := c.signer()
	if err != nil {
		return nil, err
	}
	if err := signer.Verify(resp.Info, resp.Signature); err != nil {
		c.metrics.RecordSecurityEvent(ctx, string(domain.ReasonInvalidSignature))
		c.logger.ErrorContext(ctx, "account info failed integrity check", slog.Bool("security_event", true))
		return nil, &Error{Reason: domain.ReasonInvalidSignature, Err: ErrInvalidSignature}
	}

	info, err := resp.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// KillSwitch asks whether slug must be disabled on this site
func (c *Client) KillSwitch(ctx context.Context, slug string) (bool, error) {
	if !c.cfg.Configured() {
		return false, &Error{Reason: domain.ReasonNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp api.KillSwitchResponse
	err := c.post(ctx, "/killswitch", api.KillSwitchRequest{
		PluginSlug:      slug,
		ActivationToken: c.cfg.ActivationToken,
		SiteURL:         c.cfg.SiteDomain,
	}, false, &resp)
	if err != nil {
		return false, asError(err)
	}
	return resp.Blocked, nil
}

// UpdateCheck asks whether a newer package of slug is available
func (c *Client) UpdateCheck(ctx context.Context, slug, version string) (*api.UpdateCheckResponse, error) {
	if !c.cfg.Configured() {
		return nil, &Error{Reason: domain.ReasonNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp api.UpdateCheckResponse
	if err := c.post(ctx, "/update/check", api.UpdateCheckRequest{PluginSlug: slug, Version: version}, true, &resp); err != nil {
		return nil, asError(err)
	}
	return &resp, nil
}

// PluginStatus is the locally known license state of one plugin
type PluginStatus struct {
	PluginSlug string                     `json:"plugin_slug"`
	Cached     *domain.VerificationResult `json:"cached,omitempty"`
	LastValid  *time.Time                 `json:"last_valid,omitempty"`
	Grace      *domain.GraceState         `json:"grace,omitempty"`
}

// Status reports local state for slug without contacting the server
func (c *Client) Status(ctx context.Context, slug string) (*PluginStatus, error) {
	status := &PluginStatus{PluginSlug: slug}
	if c.cfg.Configured() {
		if result, ok := c.cached(ctx, slug); ok {
			status.Cached = &result
		}
	}

	lastValid, err := c.LastValid(ctx, slug)
	if err != nil {
		return nil, err
	}
	status.LastValid = lastValid

	state, found, err := c.grace.State(ctx, slug)
	if err != nil {
		return nil, err
	}
	if found {
		status.Grace = state
	}
	return status, nil
}

// asError classifies transport failures into an *Error
func asError(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Reason: Classify(err), Err: err}
}

