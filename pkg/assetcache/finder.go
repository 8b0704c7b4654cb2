package assetcache

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

type Finder interface {
	// Find returns every path under root whose base name equals name.
	Find(ctx context.Context, root, name string) ([]string, error)
}

var DefaultPrune = []string{"/proc", "/sys", "/dev", "/run"}

// WalkFinder searches with filepath.WalkDir. Unreadable directories are
// skipped the same way `find` reports and moves past access errors.
type WalkFinder struct {
	Prune []string
}

func (f WalkFinder) Find(ctx context.Context, root, name string) ([]string, error) {
	var hits []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && f.pruned(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name {
			hits = append(hits, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (f WalkFinder) pruned(path string) bool {
	for _, p := range f.Prune {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
