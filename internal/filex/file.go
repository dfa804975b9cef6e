// Package filex contains small filesystem helpers shared by components that
// write artifacts (backups, exports) to disk.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureSubdDir creates (if needed) a subdirectory of the current working
// directory and returns its absolute path.
func EnsureSubdDir(dirName string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	return EnsureDir(filepath.Join(cwd, dirName))
}

// EnsureDir creates the directory (and parents) if it does not exist and
// returns the path back.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}
