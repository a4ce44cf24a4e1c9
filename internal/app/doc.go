// Package app wires the plughub binaries together. It owns startup ordering,
// dependency construction and graceful shutdown for both the license server
// and the site agent.
//
// # Server
//
// NewServer builds the license server in this order:
//
//	1. Validate the server configuration
//	2. Initialize OpenTelemetry and runtime metrics
//	3. Apply migrations and open the Postgres pool
//	4. Connect Redis for the catalog cache and shared rate limits, or fall
//	   back to an in-process store
//	5. Build the router with NewRouter
//
// NewRouter only needs a Deps value, so tests can run the full middleware
// stack against the in-memory store.
//
// # Agent
//
// NewAgent builds the site-side client: persistent state, grace manager,
// verification client and heartbeat scheduler. The agent does not serve HTTP.
//
// # Graceful Shutdown
//
// Server.Run handles SIGINT and SIGTERM and then:
//
//	- Completes active requests within the shutdown timeout
//	- Closes the Redis client and the Postgres pool
//	- Flushes telemetry
package app
