package license

import (
	"slices"

	"plughub/pkg/contracts/domain"
)

// HasAccess reports whether key's access scope covers plugin.
// An empty allow-list grants nothing.
func HasAccess(key *domain.APIKey, plugin *domain.Plugin) bool {
	switch key.AccessScope {
	case domain.AccessAll:
		return true
	case domain.AccessSpecific:
		return slices.Contains(key.AllowedPlugins, plugin.ID)
	case domain.AccessGroups:
		return plugin.InAnyGroup(key.AllowedGroups)
	default:
		return false
	}
}
