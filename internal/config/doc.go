// Package config provides centralized configuration management for the plughub
// license server and site agent. It loads configuration from multiple sources,
// validates it and exposes an immutable, type-safe Config value.
//
// # Configuration Sources
//
// Configuration is assembled in the following order, later sources winning:
//
//	1. Default values from struct tags
//	2. A .env file in the working directory, if present
//	3. Environment variables
//	4. A YAML file (PLUGHUB_CONFIG_FILE, config.yaml or configs/config.yaml)
//
// Keys that the YAML file does not mention keep the value from the earlier sources.
//
// # Environment Variables
//
// All environment variables follow the pattern PLUGHUB_<SECTION>_<KEY>:
//
//	PLUGHUB_SERVER_PORT=8080
//	PLUGHUB_DATABASE_URL=postgres://...
//	PLUGHUB_REDIS_URL=redis://localhost:6379/0
//	PLUGHUB_CLIENT_SERVER_URL=https://licenses.example.com
//	PLUGHUB_CLIENT_ACTIVATION_TOKEN=pha_...
//	PLUGHUB_CLIENT_GRACE_PERIOD=168h
//	PLUGHUB_HEARTBEAT_INTERVAL=12h
//
// # Validation
//
// Load rejects configurations that would break the verification contract:
//
//	- license token TTL must not exceed 48h
//	- heartbeat interval must be between 1h and 24h
//	- client timeouts and grace period must be positive
//
// The server additionally calls ValidateServer, which requires a database URL.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Settings are never mutated in place. WithClient returns a new Config carrying
// updated client settings.
package config
