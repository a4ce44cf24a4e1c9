package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"plughub/internal/security"
	"plughub/pkg/contracts/domain"
)

var (
	// ErrInvalidSignature reports a response whose signature does not cover its payload
	ErrInvalidSignature = errors.New("response signature mismatch")
	// ErrMissingResult reports a signed batch that lacks the requested plugin
	ErrMissingResult = errors.New("signed batch has no result for plugin")
)

// Envelope is a signed server payload exactly as received. Batch envelopes
// carry a map of slug to result under one signature.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	Batch     bool            `json:"batch,omitempty"`
}

// Open checks the signature and returns the result for slug
func (e Envelope) Open(signer *security.ResponseSigner, slug string) (domain.VerificationResult, error) {
	var result domain.VerificationResult
	if err := signer.Verify(e.Payload, e.Signature); err != nil {
		return result, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if e.Batch {
		var results map[string]domain.VerificationResult
		if err := json.Unmarshal(e.Payload, &results); err != nil {
			return result, fmt.Errorf("decode batch: %w", err)
		}
		r, ok := results[slug]
		if !ok {
			return result, fmt.Errorf("%w: %s", ErrMissingResult, slug)
		}
		result = r
	} else if err := json.Unmarshal(e.Payload, &result); err != nil {
		return result, fmt.Errorf("decode result: %w", err)
	}

	if result.PluginSlug != slug {
		return result, fmt.Errorf("%w: result is for %q", ErrInvalidSignature, result.PluginSlug)
	}
	return result, nil
}

// persisted is the kv representation of a cached envelope
type persisted struct {
	Envelope  Envelope  `json:"envelope"`
	ExpiresAt time.Time `json:"expires_at"`
}
