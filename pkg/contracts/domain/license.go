// Package domain contains the core domain models shared by the plughub license
// server and the site-side agent. These types are the single source of truth for
// every layer: storage, transport and the verification client.
package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// KeyStatus represents the lifecycle status of an API key
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusInactive KeyStatus = "inactive"
	KeyStatusRevoked  KeyStatus = "revoked"
	KeyStatusExpired  KeyStatus = "expired"
)

// CanTransitionTo reports whether an administrator may move a key from s to next.
// Revoked and expired are terminal; active and inactive toggle freely.
func (s KeyStatus) CanTransitionTo(next KeyStatus) bool {
	switch s {
	case KeyStatusActive:
		return next == KeyStatusInactive || next == KeyStatusRevoked || next == KeyStatusExpired
	case KeyStatusInactive:
		return next == KeyStatusActive || next == KeyStatusRevoked || next == KeyStatusExpired
	default:
		return false
	}
}

// Valid reports whether s is a known status
func (s KeyStatus) Valid() bool {
	switch s {
	case KeyStatusActive, KeyStatusInactive, KeyStatusRevoked, KeyStatusExpired:
		return true
	}
	return false
}

// AccessScope determines which plugins a key may verify against
type AccessScope string

const (
	AccessAll      AccessScope = "all"
	AccessSpecific AccessScope = "specific"
	AccessGroups   AccessScope = "groups"
)

// APIKey is a secret credential granting access to one or more plugins.
// Only the bcrypt hash of the secret is stored; KeyPrefix is the lookup column.
type APIKey struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	Name           string      `json:"name" db:"name"`
	KeyPrefix      string      `json:"key_prefix" db:"key_prefix"`
	SecretHash     string      `json:"-" db:"secret_hash"`
	Status         KeyStatus   `json:"status" db:"status"`
	AccessScope    AccessScope `json:"access_scope" db:"access_scope"`
	AllowedPlugins []uuid.UUID `json:"allowed_plugins,omitempty" db:"allowed_plugins"`
	AllowedGroups  []uuid.UUID `json:"allowed_groups,omitempty" db:"allowed_groups"`
	MaxActivations int         `json:"max_activations" db:"max_activations"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// IsExpired reports whether the key is past its expiry or carries the expired status
func (k *APIKey) IsExpired(now time.Time) bool {
	if k.Status == KeyStatusExpired {
		return true
	}
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// Unlimited reports whether the key has no activation cap
func (k *APIKey) Unlimited() bool {
	return k.MaxActivations <= 0
}

// Plugin is a premium add-on that keys grant access to
type Plugin struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Slug          string      `json:"slug" db:"slug"`
	SlugOverride  string      `json:"slug_override,omitempty" db:"slug_override"`
	Name          string      `json:"name" db:"name"`
	GroupIDs      []uuid.UUID `json:"group_ids,omitempty" db:"group_ids"`
	LatestVersion string      `json:"latest_version,omitempty" db:"latest_version"`
	PackageURL    string      `json:"package_url,omitempty" db:"package_url"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// EffectiveSlug returns the administrator override when set, else the canonical slug
func (p *Plugin) EffectiveSlug() string {
	if p.SlugOverride != "" {
		return p.SlugOverride
	}
	return p.Slug
}

// InAnyGroup reports whether the plugin belongs to at least one of groups
func (p *Plugin) InAnyGroup(groups []uuid.UUID) bool {
	for _, g := range p.GroupIDs {
		if slices.Contains(groups, g) {
			return true
		}
	}
	return false
}

// PluginGroup is a named set of plugins used by group-scoped keys
type PluginGroup struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Activation binds one key to one normalized site domain
type Activation struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	KeyID          uuid.UUID  `json:"key_id" db:"key_id"`
	SiteDomain     string     `json:"site_domain" db:"site_domain"`
	Token          string     `json:"-" db:"token"`
	Active         bool       `json:"active" db:"active"`
	ActivatedAt    time.Time  `json:"activated_at" db:"activated_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty" db:"last_verified_at"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
}

// BlacklistEntry is an administrator kill-switch record.
// An empty PluginSlug blocks every plugin for the activation.
type BlacklistEntry struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ActivationID uuid.UUID `json:"activation_id" db:"activation_id"`
	PluginSlug   string    `json:"plugin_slug,omitempty" db:"plugin_slug"`
	Reason       string    `json:"reason,omitempty" db:"reason"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Matches reports whether the entry blocks slug
func (b *BlacklistEntry) Matches(slug string) bool {
	return b.PluginSlug == "" || b.PluginSlug == slug
}

// ActivationResult is the outcome of an activate call
type ActivationResult struct {
	Activation       *Activation `json:"activation,omitempty"`
	Activated        bool        `json:"activated"`
	AlreadyActive    bool        `json:"already_active"`
	Reason           Reason      `json:"reason"`
	ActivatedDomains []string    `json:"activated_domains,omitempty"`
}

// VerificationResult is the outcome of checking whether a plugin is licensed
// for a site. It is never persisted server-side but is cached by the agent.
type VerificationResult struct {
	PluginSlug    string     `json:"plugin_slug"`
	Valid         bool       `json:"valid"`
	Reason        Reason     `json:"reason"`
	Message       string     `json:"message,omitempty"`
	LicenseToken  string     `json:"license_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	VerifiedAt    time.Time  `json:"verified_at"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
	FailureCount  int        `json:"failure_count,omitempty"`
}

// NewResult builds a result for slug carrying reason and its display message
func NewResult(slug string, reason Reason, at time.Time) VerificationResult {
	return VerificationResult{
		PluginSlug: slug,
		Valid:      reason.Class() == ClassSuccess,
		Reason:     reason,
		Message:    reason.Message(),
		VerifiedAt: at,
	}
}

// Expired reports whether the result's own expiry has passed
func (r *VerificationResult) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// GraceState tracks an in-progress grace period for one plugin on one site
type GraceState struct {
	PluginSlug   string    `json:"plugin_slug"`
	StartedAt    time.Time `json:"started_at"`
	FailureCount int       `json:"failure_count"`
	LastReason   Reason    `json:"last_reason"`
}

// AccountInfo is the signed usage summary returned by /license/info
type AccountInfo struct {
	KeyName           string      `json:"key_name"`
	Status            KeyStatus   `json:"status"`
	AccessScope       AccessScope `json:"access_scope"`
	ExpiresAt         *time.Time  `json:"expires_at,omitempty"`
	MaxActivations    int         `json:"max_activations"`
	ActiveCount       int         `json:"active_activations"`
	SiteDomain        string      `json:"site_domain"`
	ActivatedAt       time.Time   `json:"activated_at"`
	LastVerifiedAt    *time.Time  `json:"last_verified_at,omitempty"`
	AccessiblePlugins []string    `json:"accessible_plugins"`
	GeneratedAt       time.Time   `json:"generated_at"`
}
