package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileActivityLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	l := NewFileActivityLog(path)
	ctx := context.Background()

	entries, err := l.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, l.Append(ctx, Entry{
			Time:    base.Add(time.Duration(i) * time.Hour),
			Message: "check",
			Plugin:  "acme",
			Context: map[string]any{"n": i},
		}))
	}

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, base.Add(3*time.Hour), recent[0].Time)
	assert.Equal(t, base.Add(4*time.Hour), recent[1].Time)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	removed, err := l.Prune(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = l.Prune(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, removed)

	all, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileActivityLog_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n{\"message\":\"ok\"}\n"), 0o600))

	entries, err := NewFileActivityLog(path).Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Message)
}
