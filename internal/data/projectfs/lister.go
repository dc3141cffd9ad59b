// Package projectfs lists the products inside a project directory and
// watches it for changes.
package projectfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
)

// Lister returns the product names found in a project directory.
type Lister interface {
	ListProducts(dir string) ([]string, error)
}

// DirLister lists child directories, skipping dot entries and entries
// matched by the ignore patterns.
type DirLister struct {
	matcher *patternmatcher.PatternMatcher
}

// NewDirLister compiles the ignore patterns (dockerignore syntax).
func NewDirLister(ignore []string) (*DirLister, error) {
	l := &DirLister{}
	if len(ignore) > 0 {
		pm, err := patternmatcher.New(ignore)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern: %w", err)
		}
		l.matcher = pm
	}
	return l, nil
}

// ListProducts returns child directory names in lexical order. A missing
// directory surfaces as an error satisfying errors.Is(err, fs.ErrNotExist).
func (l *DirLister) ListProducts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var products []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.IsDir() {
			// Follow symlinks to directories.
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil || !info.IsDir() {
				continue
			}
		}
		if l.matcher != nil {
			ignored, err := l.matcher.MatchesOrParentMatches(name)
			if err != nil {
				return nil, err
			}
			if ignored {
				continue
			}
		}
		products = append(products, name)
	}
	sort.Strings(products)
	return products, nil
}
