package api

import (
	"encoding/json"
	"time"

	"plughub/pkg/contracts/domain"
)

// ActivateResponse is returned by POST /activate
type ActivateResponse struct {
	ActivationToken  string `json:"activation_token"`
	SiteDomain       string `json:"site_domain"`
	Activated        bool   `json:"activated"`
	AlreadyActivated bool   `json:"already_activated"`
	Message          string `json:"message"`
}

// DeactivateResponse is returned by POST /deactivate
type DeactivateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SignedVerification carries one VerificationResult. Signature is the HMAC of
// the exact Result bytes under the activation's response-signing key.
type SignedVerification struct {
	Result    json.RawMessage `json:"result"`
	Signature string          `json:"signature"`
}

// Decode unmarshals the signed result
func (s *SignedVerification) Decode() (domain.VerificationResult, error) {
	var r domain.VerificationResult
	err := json.Unmarshal(s.Result, &r)
	return r, err
}

// BatchVerification carries a map of slug to VerificationResult under a single
// signature covering the whole map.
type BatchVerification struct {
	Results   json.RawMessage `json:"results"`
	Signature string          `json:"signature"`
}

// Decode unmarshals the signed result map
func (b *BatchVerification) Decode() (map[string]domain.VerificationResult, error) {
	var m map[string]domain.VerificationResult
	err := json.Unmarshal(b.Results, &m)
	return m, err
}

// SignedInfo carries the account usage summary
type SignedInfo struct {
	Info      json.RawMessage `json:"info"`
	Signature string          `json:"signature"`
}

// Decode unmarshals the signed account info
func (s *SignedInfo) Decode() (domain.AccountInfo, error) {
	var i domain.AccountInfo
	err := json.Unmarshal(s.Info, &i)
	return i, err
}

// KillSwitchResponse is returned by POST /killswitch
type KillSwitchResponse struct {
	Blocked bool `json:"blocked"`
}

// UpdateCheckResponse is returned by POST /update/check
type UpdateCheckResponse struct {
	PluginSlug      string        `json:"plugin_slug"`
	CurrentVersion  string        `json:"current_version"`
	LatestVersion   string        `json:"latest_version,omitempty"`
	UpdateAvailable bool          `json:"update_available"`
	PackageURL      string        `json:"package_url,omitempty"`
	Reason          domain.Reason `json:"reason"`
}

// CreateKeyResponse returns the raw secret exactly once
type CreateKeyResponse struct {
	Key    *domain.APIKey `json:"key"`
	Secret string         `json:"secret"`
}

// ActivationListResponse lists a key's activations
type ActivationListResponse struct {
	KeyID       string              `json:"key_id"`
	Activations []domain.Activation `json:"activations"`
	ActiveCount int                 `json:"active_count"`
	GeneratedAt time.Time           `json:"generated_at"`
}
