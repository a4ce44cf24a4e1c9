// Package http implements the HTTP handlers of the license server. Handlers
// are thin: they decode and validate the request, call the license engine and
// render the result, leaving every failure to the shared RFC 7807 error
// handler.
//
// Route groups:
//
//	LicenseHandler  /activate, /deactivate, /license/*, /killswitch, /update/check
//	AdminHandler    /admin/* behind the admin bearer token
//	HealthHandler   /health, /health/ready, /health/live, /version
//	MetricsHandler  /metrics
package http
