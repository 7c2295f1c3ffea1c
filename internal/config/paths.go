package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// resolvePaths makes every configured path absolute, anchoring relative
// paths at the executable directory so the agent behaves identically no
// matter where it is launched from.
func (c *Config) resolvePaths() error {
	baseDir, err := executableDir()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	c.Paths.DataDir = resolveAgainst(baseDir, c.Paths.DataDir)
	c.Paths.LogsDir = resolveAgainst(baseDir, c.Paths.LogsDir)
	c.Paths.IdentityFile = resolveAgainst(c.Paths.DataDir, c.Paths.IdentityFile)
	c.Paths.ClientIDFile = resolveAgainst(c.Paths.DataDir, c.Paths.ClientIDFile)
	c.Logging.FilePath = resolveAgainst(baseDir, c.Logging.FilePath)
	return nil
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func resolveAgainst(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// IdentityPath returns the resolved identity file location.
func (c *Config) IdentityPath() string {
	return c.Paths.IdentityFile
}

// EnsureClientID returns the configured client id, minting and persisting
// a fresh UUID next to the identity file on first run when none is
// configured. The id survives restarts; only deleting the data directory
// resets it.
func (c *Config) EnsureClientID() (string, error) {
	if c.Activation.ClientID != "" {
		return c.Activation.ClientID, nil
	}

	if data, err := os.ReadFile(c.Paths.ClientIDFile); err == nil {
		if id := string(data); id != "" {
			c.Activation.ClientID = id
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(c.Paths.ClientIDFile), 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(c.Paths.ClientIDFile, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist client id: %w", err)
	}
	c.Activation.ClientID = id
	return id, nil
}
