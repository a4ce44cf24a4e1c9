package license

import (
	"context"
	"strconv"
	"strings"

	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// UpdateCheck reports whether a newer package exists for the plugin. The
// package URL is only disclosed when the site holds a valid license for it.
func (v *Verifier) UpdateCheck(ctx context.Context, slug, currentVersion string, subject *Subject) (*api.UpdateCheckResponse, error) {
	result, err := v.VerifyPluginLicense(ctx, slug, subject)
	if err != nil {
		return nil, err
	}

	resp := &api.UpdateCheckResponse{
		PluginSlug:     slug,
		CurrentVersion: currentVersion,
		Reason:         result.Reason,
	}
	if result.Reason == domain.ReasonPluginNotFound {
		return resp, nil
	}

	plugin, err := v.catalog.Lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	resp.LatestVersion = plugin.LatestVersion
	resp.UpdateAvailable = plugin.LatestVersion != "" &&
		CompareVersions(plugin.LatestVersion, currentVersion) > 0
	if resp.UpdateAvailable && result.Valid {
		resp.PackageURL = plugin.PackageURL
	}
	return resp, nil
}

// CompareVersions compares dotted version strings numerically, ignoring a
// leading "v" and any pre-release or build suffix. Missing parts count as zero.
func CompareVersions(a, b string) int {
	pa, pb := versionParts(a), versionParts(b)
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func versionParts(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var parts []int
	for _, s := range strings.Split(v, ".") {
		n, err := strconv.Atoi(s)
		if err != nil {
			n = 0
		}
		parts = append(parts, n)
	}
	return parts
}
