package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved file locations used by the site agent
type Paths struct {
	BaseDir     string
	StateFile   string
	ActivityLog string
	LogFile     string
}

// ExecutableDir returns the directory containing the running binary with symlinks resolved
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// ResolvePaths anchors every relative path in the configuration at baseDir.
// Absolute paths are left untouched.
func (c *Config) ResolvePaths(baseDir string) *Paths {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	return &Paths{
		BaseDir:     baseDir,
		StateFile:   resolve(c.Client.StatePath),
		ActivityLog: resolve(c.Heartbeat.LogPath),
		LogFile:     resolve(c.Logging.FilePath),
	}
}

// EnsureDirectories creates the parent directory of every file path
func (p *Paths) EnsureDirectories() error {
	for _, file := range []string{p.StateFile, p.ActivityLog, p.LogFile} {
		if file == "" {
			continue
		}
		dir := filepath.Dir(file)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
