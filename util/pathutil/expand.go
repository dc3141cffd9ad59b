// Package pathutil expands and compares user-supplied filesystem paths.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Expand resolves a leading ~ and environment variables, returning an
// absolute path.
func Expand(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not get user home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	path = os.ExpandEnv(path)
	return filepath.Abs(path)
}

// NormalizeForLookup returns an absolute, symlink-resolved path. On
// case-insensitive platforms the result is lowercased.
func NormalizeForLookup(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	canonicalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist anymore.
		canonicalPath = absPath
	}

	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return strings.ToLower(canonicalPath), nil
	}
	return canonicalPath, nil
}

// SamePath reports whether two paths refer to the same location. Paths that
// cannot be normalized are compared verbatim.
func SamePath(a, b string) bool {
	if a == b {
		return true
	}
	normA, err := NormalizeForLookup(a)
	if err != nil {
		return false
	}
	normB, err := NormalizeForLookup(b)
	if err != nil {
		return false
	}
	return normA == normB
}
