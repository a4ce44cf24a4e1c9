// Package security holds the cryptographic primitives shared by the license
// server and the site agent: response signing, license token issuance,
// key derivation and secret handling.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Key derivation purposes
const (
	PurposeResponseSigning = "plughub/response-signing"
	PurposeLicenseToken    = "plughub/license-token"
)

const derivedKeyLength = 32

var (
	ErrInvalidToken   = errors.New("invalid license token")
	ErrInvalidClaims  = errors.New("invalid license token claims")
	ErrEmptySecret    = errors.New("secret cannot be empty")
	ErrEmptySignature = errors.New("signature is missing")
)

// DeriveKey expands secret into a purpose-bound 32 byte key.
// The server and the agent share the activation token, so both sides derive the same key.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	key := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Sign returns the hex HMAC-SHA256 of payload under key
func Sign(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks signature against payload in constant time
func Verify(key, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return hmac.Equal(got, h.Sum(nil))
}

// ResponseSigner signs and verifies response bodies for one activation
type ResponseSigner struct {
	key []byte
}

// NewResponseSigner derives the response-signing key from an activation token
func NewResponseSigner(activationToken string) (*ResponseSigner, error) {
	key, err := DeriveKey(activationToken, PurposeResponseSigning)
	if err != nil {
		return nil, err
	}
	return &ResponseSigner{key: key}, nil
}

// Sign signs payload
func (s *ResponseSigner) Sign(payload []byte) string {
	return Sign(s.key, payload)
}

// Verify reports whether signature covers payload
func (s *ResponseSigner) Verify(payload []byte, signature string) error {
	if signature == "" {
		return ErrEmptySignature
	}
	if !Verify(s.key, payload, signature) {
		return fmt.Errorf("HMAC signature verification failed")
	}
	return nil
}

// LicenseClaims are carried by the short-lived license token handed to a site
type LicenseClaims struct {
	PluginSlug   string `json:"plugin_slug"`
	SiteDomain   string `json:"site_domain"`
	ActivationID string `json:"activation_id"`
	KeyID        string `json:"key_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and parses HS256 license tokens
type TokenIssuer struct {
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{issuer: issuer, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source used for issuing and validating tokens
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// TTL returns the lifetime of issued tokens
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue mints a token carrying claims, signed with a key derived from the
// activation token. Registered claims are filled in here. It returns the token and its expiry.
func (t *TokenIssuer) Issue(activationToken string, claims LicenseClaims) (string, time.Time, error) {
	key, err := DeriveKey(activationToken, PurposeLicenseToken)
	if err != nil {
		return "", time.Time{}, err
	}

	now := t.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(t.ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    t.issuer,
		Subject:   claims.ActivationID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a license token against the activation token it was issued for
func (t *TokenIssuer) Parse(activationToken, tokenString string) (*LicenseClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	key, err := DeriveKey(activationToken, PurposeLicenseToken)
	if err != nil {
		return nil, err
	}

	claims := &LicenseClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.PluginSlug == "" || claims.ActivationID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
