package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"plughub/pkg/contracts/domain"
)

// Error is a failed server call classified by reason
type Error struct {
	Reason           domain.Reason
	Status           int
	Detail           string
	ActivatedDomains []string
	Err              error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps a call failure to a reason code
func Classify(err error) domain.Reason {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.ReasonDNSError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ReasonTimeout
	}
	return domain.ReasonConnectionError
}

// problem is the subset of a problem response the client reads
type problem struct {
	Reason           domain.Reason `json:"reason"`
	Detail           string        `json:"detail"`
	ActivatedDomains []string      `json:"activated_domains"`
}

// statusError classifies a non-2xx response
func statusError(status int, body []byte) *Error {
	var p problem
	_ = json.Unmarshal(body, &p)
	e := &Error{Status: status, Detail: p.Detail, ActivatedDomains: p.ActivatedDomains}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		e.Reason = domain.ReasonConnectionError
	case p.Reason.Known() && p.Reason.Class() == domain.ClassLicense:
		e.Reason = p.Reason
	case status == http.StatusUnauthorized:
		e.Reason = domain.ReasonInvalidLicenseKey
	case status == http.StatusForbidden:
		e.Reason = domain.ReasonNotActivatedOnSite
	case status == http.StatusNotFound:
		e.Reason = domain.ReasonPluginNotFound
	case status == http.StatusConflict:
		e.Reason = domain.ReasonMaxActivationsReached
	case status == http.StatusRequestTimeout:
		e.Reason = domain.ReasonTimeout
	case status >= 400:
		// the server rejected the request itself; retrying will not change that
		e.Reason = domain.ReasonNotConfigured
	default:
		e.Reason = domain.ReasonConnectionError
	}
	return e
}
