package config

import "time"

// Application constants
const (
	AppName    = "plughub"
	AppVersion = "1.0.0"

	// Key and token formats
	APIKeySecretPrefix    = "phk_"
	ActivationTokenPrefix = "pha_"
	KeyPrefixLength       = 12

	// Security
	MinBcryptCost       = 4
	MaxBcryptCost       = 31
	MinAdminTokenLength = 24

	// Network timeouts
	InteractiveTimeout = 15 * time.Second
	BatchTimeout       = 30 * time.Second

	// License tokens
	DefaultLicenseTokenTTL = 24 * time.Hour
	MaxLicenseTokenTTL     = 48 * time.Hour
	DefaultBatchLimit      = 50

	// Client caching and grace
	DefaultVerificationCacheTTL = 6 * time.Hour
	DefaultGracePeriod          = 7 * 24 * time.Hour
	MemoryCacheCleanupInterval  = 5 * time.Minute

	// Heartbeat
	DefaultHeartbeatInterval = 12 * time.Hour
	MinHeartbeatInterval     = time.Hour
	MaxHeartbeatInterval     = 24 * time.Hour
	DefaultLogRetention      = 30 * 24 * time.Hour
	NotificationWindow       = 24 * time.Hour
	PruneInterval            = 24 * time.Hour

	// Request limits
	MaxRequestBodyBytes = 64 * 1024
)
