package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the loader at an empty directory so no stray .env or config.yaml is picked up
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvPrefix+"_CONFIG_FILE", "")
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10, cfg.Security.BcryptCost)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Output)
	assert.Equal(t, 24*time.Hour, cfg.License.TokenTTL)
	assert.Equal(t, 50, cfg.License.BatchLimit)
	assert.Equal(t, 15*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Client.BatchTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Client.CacheTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Client.GracePeriod)
	assert.Equal(t, 12*time.Hour, cfg.Heartbeat.Interval)
	assert.Equal(t, 30*24*time.Hour, cfg.Heartbeat.LogRetention)
	assert.False(t, cfg.Client.Configured())
}

func TestLoad_DefaultsMatchDefault(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PLUGHUB_SERVER_PORT", "9090")
	t.Setenv("PLUGHUB_CLIENT_SERVER_URL", "https://licenses.example.com/")
	t.Setenv("PLUGHUB_CLIENT_ACTIVATION_TOKEN", "pha_abc")
	t.Setenv("PLUGHUB_CLIENT_GRACE_PERIOD", "72h")
	t.Setenv("PLUGHUB_HEARTBEAT_PLUGINS", "acme-pro,acme-forms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://licenses.example.com", cfg.Client.ServerURL)
	assert.True(t, cfg.Client.Configured())
	assert.Equal(t, 72*time.Hour, cfg.Client.GracePeriod)
	assert.Equal(t, []string{"acme-pro", "acme-forms"}, cfg.Heartbeat.Plugins)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := isolate(t)
	t.Setenv("PLUGHUB_SERVER_PORT", "9090")

	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
logging:
  level: debug
heartbeat:
  interval: 6h
client:
  server_url: https://licenses.example.com
`), 0o600))
	t.Setenv("PLUGHUB_CONFIG_FILE", file)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port, "keys absent from the file keep their env value")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 6*time.Hour, cfg.Heartbeat.Interval)
	assert.Equal(t, "https://licenses.example.com", cfg.Client.ServerURL)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PLUGHUB_LOGGING_LEVEL=warn\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PLUGHUB_LOGGING_LEVEL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"PLUGHUB_SERVER_PORT": "70000"}},
		{"token ttl too long", map[string]string{"PLUGHUB_LICENSE_TOKEN_TTL": "72h"}},
		{"heartbeat too frequent", map[string]string{"PLUGHUB_HEARTBEAT_INTERVAL": "30m"}},
		{"heartbeat too rare", map[string]string{"PLUGHUB_HEARTBEAT_INTERVAL": "48h"}},
		{"zero grace", map[string]string{"PLUGHUB_CLIENT_GRACE_PERIOD": "0s"}},
		{"bad server url", map[string]string{"PLUGHUB_CLIENT_SERVER_URL": "not a url"}},
		{"bcrypt cost", map[string]string{"PLUGHUB_SECURITY_BCRYPT_COST": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateServer())

	cfg.Database.URL = "postgres://localhost/plughub"
	assert.NoError(t, cfg.ValidateServer())

	cfg.Security.AdminToken = "short"
	assert.Error(t, cfg.ValidateServer())
}

func TestWithClient_DoesNotMutate(t *testing.T) {
	base := Default()
	base.Heartbeat.Plugins = []string{"acme-pro"}

	updated := base.WithClient(ClientConfig{ServerURL: "https://x.example", ActivationToken: "pha_1"})
	updated.Heartbeat.Plugins[0] = "changed"

	assert.False(t, base.Client.Configured())
	assert.True(t, updated.Client.Configured())
	assert.Equal(t, "acme-pro", base.Heartbeat.Plugins[0])
}

func TestResolvePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Logging.FilePath = filepath.Join(dir, "abs.log")

	paths := cfg.ResolvePaths(dir)
	assert.Equal(t, filepath.Join(dir, "data", "plughub-state.json"), paths.StateFile)
	assert.Equal(t, filepath.Join(dir, "data", "heartbeat.log"), paths.ActivityLog)
	assert.Equal(t, filepath.Join(dir, "abs.log"), paths.LogFile)

	require.NoError(t, paths.EnsureDirectories())
	assert.True(t, FileExists(filepath.Join(dir, "data")))
}
