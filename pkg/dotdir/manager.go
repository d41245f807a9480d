// Package dotdir manages the .quarry/ and ~/.quarry directories.
//
// The directory holds config.toml, an optional .env file, the default
// SQLite database and the ingest ledger used by watch-mode ingestion.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirName = ".quarry"

	// HomeEnv relocates the fallback directory away from ~/.quarry.
	HomeEnv = "QUARRY_HOME"
)

// Manager resolves the active quarry directory.
type Manager struct {
	getwd   func() (string, error)
	homeDir func() (string, error)
}

func NewManager() *Manager {
	return &Manager{
		getwd:   os.Getwd,
		homeDir: os.UserHomeDir,
	}
}

// Target returns the absolute path of the quarry directory, creating it when
// missing. Resolution order: the override, ./.quarry when it already exists,
// $QUARRY_HOME, then ~/.quarry.
func (m *Manager) Target(overrideDir string) (string, error) {
	dir, err := m.resolve(overrideDir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating quarry directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// Path joins name onto the resolved quarry directory.
func (m *Manager) Path(overrideDir, name string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (m *Manager) resolve(overrideDir string) (string, error) {
	if overrideDir != "" {
		return overrideDir, nil
	}

	if local, ok := m.local(); ok {
		return local, nil
	}

	if env := os.Getenv(HomeEnv); env != "" {
		return env, nil
	}

	home, err := m.homeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

func (m *Manager) local() (string, bool) {
	cwd, err := m.getwd()
	if err != nil {
		return "", false
	}

	dir := filepath.Join(cwd, dirName)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}
