package security

import (
	"crypto/sha256"
	"fmt"
)

// MaskSecret keeps the first and last four characters of a secret for log display
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// AuditHash returns a short stable digest of a secret for log correlation
func AuditHash(secret string) string {
	if secret == "" {
		return ""
	}
	h := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", h)[:16]
}
