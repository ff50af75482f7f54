// Package tempdir manages the scratch directory used for spooled downloads.
package tempdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Prepare creates the scratch directory at path, clearing any leftovers from
// a previous run.
func Prepare(path string) error {
	if path == "" {
		return fmt.Errorf("temp path is required")
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("clear temp dir: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat temp dir: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	return nil
}

// FilePath returns the absolute path for a named scratch file.
func FilePath(dir, name string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("resolve temp path: %w", err)
	}
	return abs, nil
}
