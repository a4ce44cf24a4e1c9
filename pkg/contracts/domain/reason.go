package domain

// Reason is the closed set of verification and activation outcomes.
// Control flow switches on Reason; user-facing text comes from Message.
type Reason string

const (
	ReasonValid         Reason = "valid"
	ReasonGracePeriod   Reason = "grace_period"
	ReasonNotConfigured Reason = "not_configured"

	ReasonConnectionError Reason = "connection_error"
	ReasonTimeout         Reason = "timeout"
	ReasonDNSError        Reason = "dns_error"

	ReasonInvalidLicenseKey     Reason = "invalid_license_key"
	ReasonLicenseNotActive      Reason = "license_not_active"
	ReasonLicenseExpired        Reason = "license_expired"
	ReasonLicenseRevoked        Reason = "license_revoked"
	ReasonNotActivatedOnSite    Reason = "not_activated_on_site"
	ReasonNoAccess              Reason = "no_access"
	ReasonPluginNotFound        Reason = "plugin_not_found"
	ReasonMaxActivationsReached Reason = "max_activations_reached"
	ReasonGracePeriodExpired    Reason = "grace_period_expired"
	ReasonBlocked               Reason = "blocked"

	ReasonInvalidSignature Reason = "invalid_signature"
)

// ReasonClass groups reasons by how the client must react to them
type ReasonClass int

const (
	ClassUnknown ReasonClass = iota
	// ClassSuccess results keep the plugin functional
	ClassSuccess
	// ClassConfiguration fails closed and is surfaced to an administrator
	ClassConfiguration
	// ClassConnection is grace-eligible
	ClassConnection
	// ClassLicense blocks immediately
	ClassLicense
	// ClassIntegrity blocks immediately and is logged as a security event
	ClassIntegrity
)

func (c ReasonClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassConfiguration:
		return "configuration"
	case ClassConnection:
		return "connection"
	case ClassLicense:
		return "license"
	case ClassIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// AllReasons lists every reason in the enumeration
func AllReasons() []Reason {
	return []Reason{
		ReasonValid, ReasonGracePeriod, ReasonNotConfigured,
		ReasonConnectionError, ReasonTimeout, ReasonDNSError,
		ReasonInvalidLicenseKey, ReasonLicenseNotActive, ReasonLicenseExpired,
		ReasonLicenseRevoked, ReasonNotActivatedOnSite, ReasonNoAccess,
		ReasonPluginNotFound, ReasonMaxActivationsReached, ReasonGracePeriodExpired,
		ReasonBlocked, ReasonInvalidSignature,
	}
}

// Class returns the reaction class of r
func (r Reason) Class() ReasonClass {
	switch r {
	case ReasonValid, ReasonGracePeriod:
		return ClassSuccess
	case ReasonNotConfigured:
		return ClassConfiguration
	case ReasonConnectionError, ReasonTimeout, ReasonDNSError:
		return ClassConnection
	case ReasonInvalidLicenseKey, ReasonLicenseNotActive, ReasonLicenseExpired,
		ReasonLicenseRevoked, ReasonNotActivatedOnSite, ReasonNoAccess,
		ReasonPluginNotFound, ReasonMaxActivationsReached, ReasonGracePeriodExpired,
		ReasonBlocked:
		return ClassLicense
	case ReasonInvalidSignature:
		return ClassIntegrity
	default:
		return ClassUnknown
	}
}

// GraceEligible reports whether a failure with this reason may enter grace
func (r Reason) GraceEligible() bool {
	return r.Class() == ClassConnection
}

// Known reports whether r is part of the enumeration
func (r Reason) Known() bool {
	return r.Class() != ClassUnknown
}
