// Package sqlitepath locates the SQLite database backing the sqlite vector
// store.
package sqlitepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/quarry/pkg/dotdir"
)

// DefaultName is the database file created inside the .quarry/ directory.
const DefaultName = "quarry.db"

// ResolveSQLitePath returns override when set. Otherwise it returns the
// first existing candidate database, falling back to quarry.db inside the
// resolved .quarry/ directory.
func ResolveSQLitePath(override, configDir string) (string, error) {
	if override != "" {
		return override, nil
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	path, err := dotdir.NewManager().Path(configDir, DefaultName)
	if err != nil {
		return "", fmt.Errorf("resolving sqlite path: %w", err)
	}
	return path, nil
}

func sqliteCandidates() []string {
	candidates := []string{
		DefaultName,
		filepath.Join(".quarry", DefaultName),
	}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".quarry", DefaultName))
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append([]string{filepath.Join(xdgHome, "quarry", DefaultName)}, candidates...)
	}

	return candidates
}
