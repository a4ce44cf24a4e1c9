package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testActivationToken = "pha_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey(testActivationToken, PurposeResponseSigning)
	require.NoError(t, err)
	b, err := DeriveKey(testActivationToken, PurposeResponseSigning)
	require.NoError(t, err)
	c, err := DeriveKey(testActivationToken, PurposeLicenseToken)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b, "derivation is deterministic")
	assert.NotEqual(t, a, c, "purposes produce independent keys")

	_, err = DeriveKey("", PurposeResponseSigning)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestSignVerify(t *testing.T) {
	key := []byte("k")
	payload := []byte(`{"valid":true}`)
	sig := Sign(key, payload)

	assert.Len(t, sig, 64)
	assert.True(t, Verify(key, payload, sig))
	assert.False(t, Verify(key, []byte(`{"valid":false}`), sig))
	assert.False(t, Verify([]byte("other"), payload, sig))
	assert.False(t, Verify(key, payload, ""))
	assert.False(t, Verify(key, payload, "zz-not-hex"))
}

func TestResponseSigner(t *testing.T) {
	server, err := NewResponseSigner(testActivationToken)
	require.NoError(t, err)
	client, err := NewResponseSigner(testActivationToken)
	require.NoError(t, err)

	body := []byte(`{"plugin_slug":"acme-pro","valid":true}`)
	sig := server.Sign(body)

	assert.NoError(t, client.Verify(body, sig))
	assert.ErrorIs(t, client.Verify(body, ""), ErrEmptySignature)

	tampered := []byte(strings.Replace(string(body), "true", "false", 1))
	assert.Error(t, client.Verify(tampered, sig))

	other, err := NewResponseSigner("pha_" + strings.Repeat("f", 64))
	require.NoError(t, err)
	assert.Error(t, other.Verify(body, sig))

	_, err = NewResponseSigner("")
	assert.Error(t, err)
}

func TestTokenIssuer_IssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("plughub", 24*time.Hour)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	token, expiresAt, err := issuer.Issue(testActivationToken, LicenseClaims{
		PluginSlug:   "acme-pro",
		SiteDomain:   "example.com",
		ActivationID: "act-1",
		KeyID:        "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(24*time.Hour), expiresAt)

	claims, err := issuer.Parse(testActivationToken, token)
	require.NoError(t, err)
	assert.Equal(t, "acme-pro", claims.PluginSlug)
	assert.Equal(t, "example.com", claims.SiteDomain)
	assert.Equal(t, "act-1", claims.ActivationID)
	assert.Equal(t, "key-1", claims.KeyID)
	assert.Equal(t, "plughub", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("plughub", time.Hour)
	token, _, err := issuer.Issue(testActivationToken, LicenseClaims{PluginSlug: "acme-pro", ActivationID: "act-1"})
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := issuer.Parse(testActivationToken, "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other activation", func(t *testing.T) {
		_, err := issuer.Parse("pha_"+strings.Repeat("a", 64), token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokenIssuer("plughub", time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Parse(testActivationToken, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := NewTokenIssuer("someone-else", time.Hour).Parse(testActivationToken, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, LicenseClaims{
			PluginSlug:   "acme-pro",
			ActivationID: "act-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "plughub",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Parse(testActivationToken, s)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestGeneratedTokens(t *testing.T) {
	token, err := GenerateActivationToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "pha_"))
	assert.Len(t, token, 68)
	assert.True(t, LooksLikeActivationToken(token))

	other, err := GenerateActivationToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	secret, err := GenerateAPIKeySecret()
	require.NoError(t, err)
	assert.True(t, LooksLikeAPIKey(secret))
	assert.Equal(t, secret[:12], KeyPrefix(secret))
	assert.Equal(t, "abc", KeyPrefix("abc"))

	assert.False(t, LooksLikeAPIKey("pha_123456789012345"))
	assert.False(t, LooksLikeActivationToken("pha_short"))
}

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("phk_secret-value", 4)
	require.NoError(t, err)
	assert.NotContains(t, hash, "phk_secret-value")
	assert.True(t, CompareSecret(hash, "phk_secret-value"))
	assert.False(t, CompareSecret(hash, "phk_secret-other"))
	assert.False(t, CompareSecret("not-a-hash", "phk_secret-value"))

	_, err = HashSecret("", 4)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "phk_****cdef", MaskSecret("phk_0123456789abcdef"))

	assert.Empty(t, AuditHash(""))
	assert.Len(t, AuditHash("phk_0123456789abcdef"), 16)
	assert.Equal(t, AuditHash("x"), AuditHash("x"))
}
