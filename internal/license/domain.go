package license

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidDomain is returned when a site domain normalizes to nothing
var ErrInvalidDomain = errors.New("site domain is empty or malformed")

// NormalizeDomain reduces a site URL or host to the canonical form used to
// bind activations: lowercase host with scheme, userinfo, port, path, query
// and a leading "www." removed.
func NormalizeDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidDomain
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidDomain
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || strings.ContainsAny(host, " /\\") {
		return "", ErrInvalidDomain
	}
	return host, nil
}
