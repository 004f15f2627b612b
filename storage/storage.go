// Package storage manages the session-storage layout: one isolated
// directory per provider under a common base, created before first use.
// The automation resource persists login and session state there across
// reconstructions; this layer supplies paths and reports writes, it never
// inspects contents.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates (if absent) and returns the storage directory for one
// provider.
func EnsureDir(base, providerID string) (string, error) {
	dir := filepath.Join(base, providerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}
	return dir, nil
}

// EnsureAll creates the base directory and one subdirectory per provider.
func EnsureAll(base string, providerIDs []string) error {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("create storage base: %w", err)
	}
	for _, id := range providerIDs {
		if _, err := EnsureDir(base, id); err != nil {
			return err
		}
	}
	return nil
}
