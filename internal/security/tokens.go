package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"plughub/internal/config"
)

// GenerateActivationToken returns a new pha_ token carrying 256 bits of entropy
func GenerateActivationToken() (string, error) {
	return randomToken(config.ActivationTokenPrefix, 32)
}

// GenerateAPIKeySecret returns a new phk_ secret
func GenerateAPIKeySecret() (string, error) {
	return randomToken(config.APIKeySecretPrefix, 24)
}

func randomToken(prefix string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// KeyPrefix returns the indexed lookup prefix of an API key secret
func KeyPrefix(secret string) string {
	if len(secret) <= config.KeyPrefixLength {
		return secret
	}
	return secret[:config.KeyPrefixLength]
}

// LooksLikeAPIKey performs a cheap format check before touching storage
func LooksLikeAPIKey(secret string) bool {
	return strings.HasPrefix(secret, config.APIKeySecretPrefix) && len(secret) > config.KeyPrefixLength
}

// LooksLikeActivationToken performs a cheap format check before touching storage
func LooksLikeActivationToken(token string) bool {
	return strings.HasPrefix(token, config.ActivationTokenPrefix) && len(token) == len(config.ActivationTokenPrefix)+64
}

// HashSecret returns the bcrypt hash of secret
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret reports whether secret matches hash
func CompareSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
