// Package license implements the server side of plugin licensing.
//
// # Components
//
//	- Activator: binds API keys to normalized site domains under the
//	  per-key activation limit, and removes those bindings again
//	- Verifier: authenticates activation tokens and answers per-plugin
//	  license questions with signed results and short-lived license tokens
//	- Catalog: plugin lookup by effective or canonical slug, cached in kv
//	- Admin: key lifecycle, plugin registry and the kill-switch blacklist
//
// # Signing
//
// Every verification and info response is signed with HMAC-SHA256 under a
// key derived from the site's activation token, so only the server and
// that site can produce or check it. The signature covers the exact JSON
// bytes sent on the wire.
//
// # Outcomes
//
// License outcomes travel as domain.Reason values in results. Go errors are
// reserved for malformed input and infrastructure failures; authentication
// failures use the sentinels from internal/errors.
package license
