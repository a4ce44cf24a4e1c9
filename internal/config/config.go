package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable
const EnvPrefix = "PLUGHUB"

// Config represents the complete application configuration.
// It is loaded once at startup and never mutated afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Client    ClientConfig    `yaml:"client" envconfig:"CLIENT"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" envconfig:"HEARTBEAT"`
	Notify    NotifyConfig    `yaml:"notify" envconfig:"NOTIFY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"35s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"15s"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" envconfig:"BATCH_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AdminToken string          `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	BcryptCost int             `yaml:"bcrypt_cost" envconfig:"BCRYPT_COST" default:"10"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
	// Per client address limits for unauthenticated activation endpoints
	ClientRPS   float64 `yaml:"client_rps" envconfig:"CLIENT_RPS" default:"0.5"`
	ClientBurst int     `yaml:"client_burst" envconfig:"CLIENT_BURST" default:"10"`

	// Shared across instances through Redis when it is configured
	ActivationsPerMinute int `yaml:"activations_per_minute" envconfig:"ACTIVATIONS_PER_MINUTE" default:"30"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/plughub.log"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME" default:"plughub"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0"`
}

// DatabaseConfig contains Postgres configuration
type DatabaseConfig struct {
	URL            string `yaml:"url" envconfig:"URL"`
	MaxConns       int32  `yaml:"max_conns" envconfig:"MAX_CONNS" default:"10"`
	MigrateOnStart bool   `yaml:"migrate_on_start" envconfig:"MIGRATE_ON_START" default:"true"`
}

// RedisConfig contains Redis configuration. An empty URL disables Redis.
type RedisConfig struct {
	URL       string `yaml:"url" envconfig:"URL"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX" default:"plughub:"`
}

// LicenseConfig contains server-side verification settings
type LicenseConfig struct {
	TokenTTL        time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"24h"`
	TokenIssuer     string        `yaml:"token_issuer" envconfig:"TOKEN_ISSUER" default:"plughub"`
	BatchLimit      int           `yaml:"batch_limit" envconfig:"BATCH_LIMIT" default:"50"`
	CatalogCacheTTL time.Duration `yaml:"catalog_cache_ttl" envconfig:"CATALOG_CACHE_TTL" default:"5m"`
}

// ClientConfig contains the site-side verification client settings
type ClientConfig struct {
	ServerURL       string        `yaml:"server_url" envconfig:"SERVER_URL"`
	ActivationToken string        `yaml:"activation_token" envconfig:"ACTIVATION_TOKEN"`
	SiteDomain      string        `yaml:"site_domain" envconfig:"SITE_DOMAIN"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"15s"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" envconfig:"BATCH_TIMEOUT" default:"30s"`
	CacheTTL        time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" default:"6h"`
	MemoryCacheSize int           `yaml:"memory_cache_size" envconfig:"MEMORY_CACHE_SIZE" default:"256"`
	GracePeriod     time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD" default:"168h"`
	StatePath       string        `yaml:"state_path" envconfig:"STATE_PATH" default:"data/plughub-state.json"`
	RedisURL        string        `yaml:"redis_url" envconfig:"REDIS_URL"`
}

// Configured reports whether the client has enough to reach the server
func (c ClientConfig) Configured() bool {
	return c.ServerURL != "" && c.ActivationToken != ""
}

// HeartbeatConfig contains the site-side scheduler settings
type HeartbeatConfig struct {
	Interval     time.Duration `yaml:"interval" envconfig:"INTERVAL" default:"12h"`
	RunTimeout   time.Duration `yaml:"run_timeout" envconfig:"RUN_TIMEOUT" default:"30s"`
	LogPath      string        `yaml:"log_path" envconfig:"LOG_PATH" default:"data/heartbeat.log"`
	LogRetention time.Duration `yaml:"log_retention" envconfig:"LOG_RETENTION" default:"720h"`
	NotifyWindow time.Duration `yaml:"notify_window" envconfig:"NOTIFY_WINDOW" default:"24h"`
	Concurrency  int           `yaml:"concurrency" envconfig:"CONCURRENCY" default:"4"`
	Plugins      []string      `yaml:"plugins" envconfig:"PLUGINS"`
}

// NotifyConfig contains administrator notification settings
type NotifyConfig struct {
	SMTPHost       string `yaml:"smtp_host" envconfig:"SMTP_HOST"`
	SMTPPort       int    `yaml:"smtp_port" envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername   string `yaml:"smtp_username" envconfig:"SMTP_USERNAME"`
	SMTPPassword   string `yaml:"smtp_password" envconfig:"SMTP_PASSWORD"`
	From           string `yaml:"from" envconfig:"FROM"`
	AdminEmail     string `yaml:"admin_email" envconfig:"ADMIN_EMAIL"`
	RemediationURL string `yaml:"remediation_url" envconfig:"REMEDIATION_URL" default:"https://plughub.example/account"`
}

// SMTPConfigured reports whether email notifications can be sent
func (n NotifyConfig) SMTPConfigured() bool {
	return n.SMTPHost != "" && n.From != "" && n.AdminEmail != ""
}

// Load loads configuration from .env, environment variables and an optional YAML file.
// Values present in the YAML file override environment values and defaults.
func Load() (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := getConfigFilePath(); configFile != "" {
		if err := overlayFile(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// overlayFile unmarshals a YAML file on top of cfg; keys absent from the file keep their value
func overlayFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the path to the config file or "" when none exists
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server read and write timeouts must be positive")
	}
	if c.Server.RequestTimeout <= 0 || c.Server.BatchTimeout <= 0 {
		return fmt.Errorf("request timeouts must be positive")
	}

	if c.Security.BcryptCost < MinBcryptCost || c.Security.BcryptCost > MaxBcryptCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", MinBcryptCost, MaxBcryptCost)
	}

	if c.License.TokenTTL <= 0 || c.License.TokenTTL > MaxLicenseTokenTTL {
		return fmt.Errorf("license token ttl must be in (0, %s]", MaxLicenseTokenTTL)
	}
	if c.License.BatchLimit <= 0 {
		return fmt.Errorf("license batch limit must be positive")
	}

	if c.Heartbeat.Interval < MinHeartbeatInterval || c.Heartbeat.Interval > MaxHeartbeatInterval {
		return fmt.Errorf("heartbeat interval must be between %s and %s", MinHeartbeatInterval, MaxHeartbeatInterval)
	}
	// A license token must expire before the slowest heartbeat could renew it twice
	if c.License.TokenTTL > 2*MaxHeartbeatInterval {
		return fmt.Errorf("license token ttl %s exceeds heartbeat upper bound", c.License.TokenTTL)
	}
	if c.Heartbeat.Concurrency <= 0 {
		c.Heartbeat.Concurrency = 1
	}

	if c.Client.GracePeriod <= 0 {
		return fmt.Errorf("client grace period must be positive")
	}
	if c.Client.Timeout <= 0 || c.Client.BatchTimeout <= 0 {
		return fmt.Errorf("client timeouts must be positive")
	}
	if c.Client.ServerURL != "" {
		u, err := url.Parse(c.Client.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid client server url: %q", c.Client.ServerURL)
		}
		c.Client.ServerURL = strings.TrimRight(c.Client.ServerURL, "/")
	}

	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	return nil
}

// ValidateServer checks the settings the license server cannot start without
func (c *Config) ValidateServer() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (%s_DATABASE_URL)", EnvPrefix)
	}
	if len(c.Security.AdminToken) > 0 && len(c.Security.AdminToken) < MinAdminTokenLength {
		return fmt.Errorf("admin token must be at least %d characters", MinAdminTokenLength)
	}
	return nil
}

// WithClient returns a copy of the configuration carrying new client settings
func (c Config) WithClient(client ClientConfig) *Config {
	c.Client = client
	c.Heartbeat.Plugins = append([]string(nil), c.Heartbeat.Plugins...)
	return &c
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    35 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  InteractiveTimeout,
			BatchTimeout:    BatchTimeout,
		},
		Security: SecurityConfig{
			BcryptCost: 10,
			RateLimit: RateLimitConfig{
				Enabled:     true,
				RPS:         100,
				Burst:       50,
				ClientRPS:   0.5,
				ClientBurst: 10,

				ActivationsPerMinute: 30,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/plughub.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "plughub",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrateOnStart: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "plughub:",
		},
		License: LicenseConfig{
			TokenTTL:        DefaultLicenseTokenTTL,
			TokenIssuer:     "plughub",
			BatchLimit:      DefaultBatchLimit,
			CatalogCacheTTL: 5 * time.Minute,
		},
		Client: ClientConfig{
			Timeout:         InteractiveTimeout,
			BatchTimeout:    BatchTimeout,
			CacheTTL:        DefaultVerificationCacheTTL,
			MemoryCacheSize: 256,
			GracePeriod:     DefaultGracePeriod,
			StatePath:       "data/plughub-state.json",
		},
		Heartbeat: HeartbeatConfig{
			Interval:     DefaultHeartbeatInterval,
			RunTimeout:   BatchTimeout,
			LogPath:      "data/heartbeat.log",
			LogRetention: DefaultLogRetention,
			NotifyWindow: NotificationWindow,
			Concurrency:  4,
		},
		Notify: NotifyConfig{
			SMTPPort:       587,
			RemediationURL: "https://plughub.example/account",
		},
	}
}
