package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"plughub/pkg/contracts/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Reason
	}{
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), domain.ReasonTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "licenses.invalid"}, domain.ReasonDNSError},
		{"refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, domain.ReasonConnectionError},
		{"classified", &Error{Reason: domain.ReasonNoAccess}, domain.ReasonNoAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   domain.Reason
	}{
		{http.StatusInternalServerError, `{"reason":"license_revoked"}`, domain.ReasonConnectionError},
		{http.StatusTooManyRequests, ``, domain.ReasonConnectionError},
		{http.StatusUnauthorized, `{}`, domain.ReasonInvalidLicenseKey},
		{http.StatusForbidden, `{"reason":"license_expired"}`, domain.ReasonLicenseExpired},
		{http.StatusForbidden, `not json`, domain.ReasonNotActivatedOnSite},
		{http.StatusNotFound, ``, domain.ReasonPluginNotFound},
		{http.StatusConflict, `{"activated_domains":["a.com"]}`, domain.ReasonMaxActivationsReached},
		{http.StatusForbidden, `{"reason":"timeout"}`, domain.ReasonNotActivatedOnSite},
		{http.StatusRequestTimeout, ``, domain.ReasonTimeout},
		{http.StatusBadRequest, `{"detail":"plugin_slug is required"}`, domain.ReasonNotConfigured},
		{http.StatusRequestEntityTooLarge, ``, domain.ReasonNotConfigured},
		{http.StatusUnsupportedMediaType, ``, domain.ReasonNotConfigured},
		{http.StatusUnprocessableEntity, `{"reason":"timeout"}`, domain.ReasonNotConfigured},
		{http.StatusUnprocessableEntity, `{"reason":"license_expired"}`, domain.ReasonLicenseExpired},
		{http.StatusFound, ``, domain.ReasonConnectionError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.body), func(t *testing.T) {
			got := statusError(tt.status, []byte(tt.body)).Reason
			assert.Equal(t, tt.want, got)
			if tt.status >= 400 && tt.status < 500 && tt.status != http.StatusRequestTimeout && tt.status != http.StatusTooManyRequests {
				assert.False(t, got.GraceEligible(), "client errors must not enter grace")
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Reason: domain.ReasonLicenseExpired, Status: 403, Detail: "expired on 2026-01-01"}
	assert.Equal(t, "license_expired (HTTP 403): expired on 2026-01-01", err.Error())

	wrapped := &Error{Reason: domain.ReasonTimeout, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}
