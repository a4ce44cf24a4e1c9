package errors

import (
	"errors"
	"net/http"

	"plughub/pkg/contracts/domain"
)

// Bearer authentication failures for activation-token protected routes
var (
	ErrUnauthenticated        = errors.New("missing activation token")
	ErrInvalidActivationToken = errors.New("invalid activation token")
	ErrActivationInactive     = errors.New("activation is not active")
	ErrDomainMismatch         = errors.New("site domain does not match activation")
	ErrKeyNotActive           = errors.New("license key is not active")
	ErrKeyExpired             = errors.New("license key has expired")
	ErrAdminUnauthorized      = errors.New("admin authentication required")
)

// ReasonError is a license outcome that ends the request with a non-200 status
type ReasonError struct {
	Reason     domain.Reason
	Detail     string
	Extensions map[string]any
}

// NewReasonError creates an error for reason with its display message as detail
func NewReasonError(reason domain.Reason) *ReasonError {
	return &ReasonError{Reason: reason, Detail: reason.Message()}
}

// Error implements the error interface
func (e *ReasonError) Error() string {
	return string(e.Reason)
}

// With attaches an extension member rendered in the problem body
func (e *ReasonError) With(key string, value any) *ReasonError {
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// Status returns the HTTP status for the reason
func (e *ReasonError) Status() int {
	return StatusForReason(e.Reason)
}

// StatusForReason maps a reason to the HTTP status used when it aborts a request.
// 401 is authentication, 403 access, 404 lookup, 409 activation limit.
func StatusForReason(r domain.Reason) int {
	switch r {
	case domain.ReasonInvalidLicenseKey:
		return http.StatusUnauthorized
	case domain.ReasonLicenseNotActive, domain.ReasonLicenseExpired, domain.ReasonLicenseRevoked,
		domain.ReasonNotActivatedOnSite, domain.ReasonNoAccess, domain.ReasonBlocked:
		return http.StatusForbidden
	case domain.ReasonPluginNotFound:
		return http.StatusNotFound
	case domain.ReasonMaxActivationsReached:
		return http.StatusConflict
	case domain.ReasonNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// authFailure describes how a bearer authentication sentinel is rendered
type authFailure struct {
	status int
	reason domain.Reason
}

var authFailures = map[error]authFailure{
	ErrUnauthenticated:        {http.StatusUnauthorized, domain.ReasonInvalidLicenseKey},
	ErrInvalidActivationToken: {http.StatusUnauthorized, domain.ReasonInvalidLicenseKey},
	ErrActivationInactive:     {http.StatusForbidden, domain.ReasonNotActivatedOnSite},
	ErrDomainMismatch:         {http.StatusForbidden, domain.ReasonNotActivatedOnSite},
	ErrKeyNotActive:           {http.StatusForbidden, domain.ReasonLicenseNotActive},
	ErrKeyExpired:             {http.StatusForbidden, domain.ReasonLicenseExpired},
	ErrAdminUnauthorized:      {http.StatusUnauthorized, ""},
}

// AuthFailure reports the status and reason of a bearer authentication error
func AuthFailure(err error) (int, domain.Reason, bool) {
	for sentinel, f := range authFailures {
		if errors.Is(err, sentinel) {
			return f.status, f.reason, true
		}
	}
	return 0, "", false
}
