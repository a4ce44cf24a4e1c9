package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestReason_EveryReasonHasClassAndMessage(t *testing.T) {
	for _, r := range AllReasons() {
		t.Run(string(r), func(t *testing.T) {
			assert.True(t, r.Known())
			assert.NotEqual(t, ClassUnknown, r.Class())
			assert.NotEqual(t, fallbackMessage, r.Message(), "missing display text")
		})
	}
}

func TestReason_Classes(t *testing.T) {
	tests := []struct {
		reason Reason
		class  ReasonClass
		grace  bool
	}{
		{ReasonValid, ClassSuccess, false},
		{ReasonGracePeriod, ClassSuccess, false},
		{ReasonNotConfigured, ClassConfiguration, false},
		{ReasonConnectionError, ClassConnection, true},
		{ReasonTimeout, ClassConnection, true},
		{ReasonDNSError, ClassConnection, true},
		{ReasonInvalidLicenseKey, ClassLicense, false},
		{ReasonNoAccess, ClassLicense, false},
		{ReasonGracePeriodExpired, ClassLicense, false},
		{ReasonInvalidSignature, ClassIntegrity, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.class, tt.reason.Class())
			assert.Equal(t, tt.grace, tt.reason.GraceEligible())
		})
	}
}

func TestReason_UnknownFallsBack(t *testing.T) {
	r := Reason("something_new")
	assert.False(t, r.Known())
	assert.Equal(t, EndUserMessage(), r.Message())
	assert.Empty(t, r.Remediation())
}

func TestKeyStatus_Transitions(t *testing.T) {
	assert.True(t, KeyStatusActive.CanTransitionTo(KeyStatusInactive))
	assert.True(t, KeyStatusInactive.CanTransitionTo(KeyStatusActive))
	assert.True(t, KeyStatusActive.CanTransitionTo(KeyStatusRevoked))
	assert.False(t, KeyStatusRevoked.CanTransitionTo(KeyStatusActive))
	assert.False(t, KeyStatusExpired.CanTransitionTo(KeyStatusActive))
	assert.False(t, KeyStatusRevoked.CanTransitionTo(KeyStatusInactive))
}

func TestAPIKey_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&APIKey{Status: KeyStatusActive}).IsExpired(now))
	assert.True(t, (&APIKey{Status: KeyStatusActive, ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&APIKey{Status: KeyStatusActive, ExpiresAt: &future}).IsExpired(now))
	assert.True(t, (&APIKey{Status: KeyStatusExpired}).IsExpired(now))
}

func TestPlugin_EffectiveSlugAndGroups(t *testing.T) {
	g1, g2 := uuid.New(), uuid.New()
	p := &Plugin{Slug: "acme-pro", GroupIDs: []uuid.UUID{g1}}

	assert.Equal(t, "acme-pro", p.EffectiveSlug())
	p.SlugOverride = "acme-premium"
	assert.Equal(t, "acme-premium", p.EffectiveSlug())

	assert.True(t, p.InAnyGroup([]uuid.UUID{g2, g1}))
	assert.False(t, p.InAnyGroup([]uuid.UUID{g2}))
	assert.False(t, p.InAnyGroup(nil))
}

func TestNewResult(t *testing.T) {
	at := time.Now()
	r := NewResult("acme-pro", ReasonNoAccess, at)
	assert.False(t, r.Valid)
	assert.Equal(t, ReasonNoAccess, r.Reason)
	assert.Equal(t, ReasonNoAccess.Message(), r.Message)

	ok := NewResult("acme-pro", ReasonValid, at)
	assert.True(t, ok.Valid)
}
