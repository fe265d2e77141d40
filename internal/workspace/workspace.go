package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const BaseDirName = "Unmasking"

func EnsureDefault() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return EnsureAt(filepath.Join(home, BaseDirName))
}

func EnsureAt(base string) (string, error) {
	paths := []string{
		filepath.Join(base, "db"),
		filepath.Join(base, "studies"),
	}

	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", p, err)
		}
	}
	return base, nil
}

// DBPath is the default session database inside a workspace.
func DBPath(base string) string {
	return filepath.Join(base, "db", "sessions.db")
}
