// Package services contains server-side services that sit beside the license
// engine. HealthService reports liveness, readiness and build information for
// the operational endpoints.
package services
