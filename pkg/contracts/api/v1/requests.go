// Package api contains the wire contracts of the plughub HTTP API.
// Version v1 represents the current stable API version.
package api

import (
	"time"

	"github.com/google/uuid"

	"plughub/pkg/contracts/domain"
)

// Activation API Requests

// ActivateRequest binds a key to a site
type ActivateRequest struct {
	APIKey     string `json:"api_key" validate:"required,min=16,max=256"`
	SiteDomain string `json:"site_domain" validate:"required,max=255"`
}

// DeactivateRequest identifies an activation either by token or by key and site
type DeactivateRequest struct {
	ActivationToken string `json:"activation_token,omitempty" validate:"omitempty,max=256"`
	LicenseKey      string `json:"license_key,omitempty" validate:"omitempty,max=256"`
	SiteURL         string `json:"site_url,omitempty" validate:"omitempty,max=255"`
}

// ByToken reports whether the request names the activation by its token
func (r *DeactivateRequest) ByToken() bool {
	return r.ActivationToken != ""
}

// Complete reports whether the request carries one usable identification
func (r *DeactivateRequest) Complete() bool {
	return r.ActivationToken != "" || (r.LicenseKey != "" && r.SiteURL != "")
}

// Verification API Requests

// VerifyRequest asks whether one plugin is licensed for the authenticated site
type VerifyRequest struct {
	PluginSlug string `json:"plugin_slug" validate:"required,max=200"`
}

// VerifyBatchRequest asks about several plugins at once
type VerifyBatchRequest struct {
	PluginSlugs []string `json:"plugin_slugs" validate:"required,min=1,max=50,dive,required,max=200"`
}

// KillSwitchRequest asks whether an activation is blocked for a plugin
type KillSwitchRequest struct {
	PluginSlug      string `json:"plugin_slug"`
	ActivationToken string `json:"activation_token"`
	SiteURL         string `json:"site_url"`
}

// UpdateCheckRequest asks for the newest package of a licensed plugin
type UpdateCheckRequest struct {
	PluginSlug string `json:"plugin_slug" validate:"required,max=200"`
	Version    string `json:"version" validate:"required,max=64"`
}

// Admin API Requests

// CreateKeyRequest creates an API key
type CreateKeyRequest struct {
	Name           string             `json:"name" validate:"required,max=200"`
	AccessScope    domain.AccessScope `json:"access_scope" validate:"required,oneof=all specific groups"`
	AllowedPlugins []uuid.UUID        `json:"allowed_plugins,omitempty"`
	AllowedGroups  []uuid.UUID        `json:"allowed_groups,omitempty"`
	MaxActivations int                `json:"max_activations" validate:"min=0,max=100000"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
}

// UpdateKeyStatusRequest moves a key to a new status
type UpdateKeyStatusRequest struct {
	Status domain.KeyStatus `json:"status" validate:"required,oneof=active inactive revoked expired"`
}

// CreatePluginRequest registers a premium plugin
type CreatePluginRequest struct {
	Slug          string      `json:"slug" validate:"required,max=200,slug"`
	SlugOverride  string      `json:"slug_override,omitempty" validate:"omitempty,max=200,slug"`
	Name          string      `json:"name" validate:"required,max=200"`
	GroupIDs      []uuid.UUID `json:"group_ids,omitempty"`
	LatestVersion string      `json:"latest_version,omitempty" validate:"omitempty,max=64"`
	PackageURL    string      `json:"package_url,omitempty" validate:"omitempty,url"`
}

// CreateGroupRequest registers a plugin group
type CreateGroupRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// BlacklistRequest adds a kill-switch entry
type BlacklistRequest struct {
	ActivationID uuid.UUID `json:"activation_id" validate:"required"`
	PluginSlug   string    `json:"plugin_slug,omitempty" validate:"omitempty,max=200"`
	Reason       string    `json:"reason,omitempty" validate:"omitempty,max=500"`
}
