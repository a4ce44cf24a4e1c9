package testutil

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferedSlogHandler(t *testing.T) {
	t.Run("captures log records", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("test message", slog.String("key", "value"))
		logger.Error("error message", slog.Int("code", 500))

		assert.Equal(t, 2, handler.Count())
		assert.True(t, handler.ContainsMessage("test message"))
		assert.True(t, handler.ContainsAttr("key", "value"))
		assert.True(t, handler.ContainsAttr("code", int64(500)))
	})

	t.Run("derived loggers share the buffer", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.With("component", "verifier").Warn("derived")

		assert.Equal(t, 1, handler.Count())
		AssertLogAttr(t, handler, "component", "verifier")
		AssertLogContains(t, handler, slog.LevelWarn, "derived")
	})

	t.Run("filters by level and clears", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Debug("debug msg")
		logger.Info("info msg")
		logger.Warn("warn msg")
		AssertNoErrors(t, handler)

		assert.Len(t, handler.GetRecordsByLevel(slog.LevelInfo), 1)
		handler.Clear()
		assert.Zero(t, handler.Count())
	})

	t.Run("thread safety", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				logger.Info("concurrent log", slog.Int("goroutine", n))
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 10, handler.Count())
	})
}
