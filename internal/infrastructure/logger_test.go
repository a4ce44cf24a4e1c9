package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plughub/internal/config"
)

func TestNewLogger_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "plughub.log")

	logger, closer, err := NewLogger(config.LoggingConfig{Level: "info", Output: "file", FilePath: logFile})
	require.NoError(t, err)

	logger.Info("test message", "key", "value")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(content), &entry))
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Contains(t, entry, "source")
}

func TestNewLogger_BothOutputs(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "plughub.log")
	var stdout bytes.Buffer

	logger, closer, err := newLogger(config.LoggingConfig{Level: "debug", Output: "both", FilePath: logFile}, &stdout)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("dual")
	assert.Contains(t, stdout.String(), `"msg":"dual"`)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"dual"`)
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var stdout bytes.Buffer
	logger, _, err := newLogger(config.LoggingConfig{Level: "warn", Output: "console"}, &stdout)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "shown")
}

func TestTraceHandler_InjectsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.InfoContext(ctx, "with trace")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-123", entry["trace_id"])
	assert.Equal(t, "test", entry["component"])
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	id := GetTraceID(ctx)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, GetTraceID(EnsureTraceID(ctx)))
}
