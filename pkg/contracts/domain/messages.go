package domain

// Display strings live here, apart from the reason enumeration, so that a
// translation layer can replace them without touching control flow.

type reasonText struct {
	message     string
	remediation string
}

var reasonTexts = map[Reason]reasonText{
	ReasonValid:         {"License is valid.", ""},
	ReasonGracePeriod:   {"The license server is unreachable; running in grace period.", "/docs/licensing#grace-period"},
	ReasonNotConfigured: {"Licensing is not configured for this site.", "/docs/licensing#configure"},

	ReasonConnectionError: {"Could not reach the license server.", "/docs/licensing#connectivity"},
	ReasonTimeout:         {"The license server did not respond in time.", "/docs/licensing#connectivity"},
	ReasonDNSError:        {"The license server address could not be resolved.", "/docs/licensing#connectivity"},

	ReasonInvalidLicenseKey:     {"The license key is not recognised.", "/account/licenses"},
	ReasonLicenseNotActive:      {"The license is not active.", "/account/licenses"},
	ReasonLicenseExpired:        {"The license has expired.", "/account/renew"},
	ReasonLicenseRevoked:        {"The license has been revoked.", "/account/licenses"},
	ReasonNotActivatedOnSite:    {"The license is not activated on this site.", "/docs/licensing#activate"},
	ReasonNoAccess:              {"The license does not include this plugin.", "/account/upgrade"},
	ReasonPluginNotFound:        {"The plugin is not known to the license server.", ""},
	ReasonMaxActivationsReached: {"The license has reached its activation limit.", "/account/activations"},
	ReasonGracePeriodExpired:    {"The grace period has ended without reaching the license server.", "/docs/licensing#grace-period"},
	ReasonBlocked:               {"This activation has been blocked.", "/support"},

	ReasonInvalidSignature: {"The license response could not be verified.", "/support"},
}

const fallbackMessage = "This feature is currently unavailable."

// Message returns the neutral display string for r
func (r Reason) Message() string {
	if t, ok := reasonTexts[r]; ok {
		return t.message
	}
	return fallbackMessage
}

// Remediation returns a relative help link for r, or "" when none applies
func (r Reason) Remediation() string {
	return reasonTexts[r].remediation
}

// EndUserMessage is what visitors of a gated feature see, regardless of reason
func EndUserMessage() string {
	return fallbackMessage
}
