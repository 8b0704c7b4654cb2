// Package assetcache keeps disk-backed lists of paths discovered by a
// filesystem-wide search for a marker file. Discovery has unbounded cost, so
// a list is searched for once, persisted as a JSON array and read back on
// later invocations until it is explicitly invalidated.
package assetcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/common/pathutil"
	"github.com/fsbench/fsbench/pkg/logger"
)

// DefaultExclude drops hits below scratch directories.
var DefaultExclude = []string{"tmp"}

type Source struct {
	// CacheFile is where the list is persisted; a leading ~ is expanded.
	CacheFile  string
	SearchRoot string
	Marker     string
	// Exclude lists substrings; any hit containing one is discarded.
	Exclude []string
	// Transform maps a raw hit to the stored entry. Nil keeps the hit.
	Transform func(hit string) string
}

type entry struct {
	paths []string
}

type Cache struct {
	mu      sync.Mutex
	finder  Finder
	sources map[string]Source
	// entries holds only lists that were loaded or built; a missing key
	// means "not yet loaded".
	entries map[string]*entry

	// BeforeDiscover, when set, is called before a search starts and the
	// returned func after it ends.
	BeforeDiscover func(key string, src Source) func()
}

func New(finder Finder) *Cache {
	if finder == nil {
		finder = WalkFinder{Prune: DefaultPrune}
	}
	return &Cache{
		finder:  finder,
		sources: map[string]Source{},
		entries: map[string]*entry{},
	}
}

func (c *Cache) Register(key string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if src.Exclude == nil {
		src.Exclude = DefaultExclude
	}
	c.sources[key] = src
	delete(c.entries, key)
}

func (c *Cache) Get(ctx context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.ensureLoaded(ctx, key)
	if err != nil {
		return nil, err
	}
	return append([]string{}, e.paths...), nil
}

// Invalidate deletes the persisted list and forgets the in-memory copy, so
// the next Get always rediscovers.
func (c *Cache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.sources[key]
	if !ok {
		return errkind.MissingInput("no asset source registered for %q", key)
	}
	delete(c.entries, key)
	cacheFile, err := pathutil.Resolve(src.CacheFile)
	if err != nil {
		return err
	}
	if err := os.Remove(cacheFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove cache file %s", cacheFile)
	}
	return nil
}

func (c *Cache) Rebuild(ctx context.Context, key string) ([]string, error) {
	if err := c.Invalidate(key); err != nil {
		return nil, err
	}
	return c.Get(ctx, key)
}

func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.sources))
	for k := range c.sources {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache) ensureLoaded(ctx context.Context, key string) (*entry, error) {
	if e, ok := c.entries[key]; ok {
		return e, nil
	}
	src, ok := c.sources[key]
	if !ok {
		return nil, errkind.MissingInput("no asset source registered for %q", key)
	}
	cacheFile, err := pathutil.Resolve(src.CacheFile)
	if err != nil {
		return nil, err
	}
	log := logger.L().With(slog.String("key", key), slog.String("cacheFile", cacheFile))

	paths, err := load(cacheFile)
	switch {
	case err == nil:
		log.Debug("Using cached asset locations", slog.Int("count", len(paths)))
		e := &entry{paths: paths}
		c.entries[key] = e
		return e, nil
	case errors.Is(err, errkind.ErrCacheCorruption):
		log.Warn("Discarding unreadable cache file", slog.String("error", err.Error()))
		if rmErr := os.Remove(cacheFile); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, errors.Wrapf(rmErr, "failed to remove corrupt cache file %s", cacheFile)
		}
	case os.IsNotExist(errors.Cause(err)):
	default:
		return nil, err
	}

	paths, err = c.discover(ctx, key, src)
	if err != nil {
		return nil, err
	}
	if err := store(cacheFile, paths); err != nil {
		return nil, err
	}
	log.Info("Asset locations discovered", slog.Int("count", len(paths)))
	e := &entry{paths: paths}
	c.entries[key] = e
	return e, nil
}

func (c *Cache) discover(ctx context.Context, key string, src Source) ([]string, error) {
	if c.BeforeDiscover != nil {
		done := c.BeforeDiscover(key, src)
		if done != nil {
			defer done()
		}
	}
	root := src.SearchRoot
	if root == "" {
		root = "."
	}
	root, err := pathutil.Resolve(root)
	if err != nil {
		return nil, err
	}
	hits, err := c.finder.Find(ctx, root, src.Marker)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search %s for %s", root, src.Marker)
	}
	return filter(hits, src), nil
}

func filter(hits []string, src Source) []string {
	paths := []string{}
	seen := map[string]struct{}{}
	for _, hit := range hits {
		if excluded(hit, src.Exclude) {
			continue
		}
		p := hit
		if src.Transform != nil {
			p = src.Transform(hit)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths
}

func excluded(hit string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(hit, s) {
			return true
		}
	}
	return false
}

func load(cacheFile string) ([]string, error) {
	b, err := os.ReadFile(cacheFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read cache file %s", cacheFile)
	}
	var paths []string
	if err := json.Unmarshal(b, &paths); err != nil {
		return nil, errors.Wrapf(errkind.ErrCacheCorruption, "%s: %v", cacheFile, err)
	}
	if paths == nil {
		return nil, errors.Wrapf(errkind.ErrCacheCorruption, "%s: not a JSON array", cacheFile)
	}
	return paths, nil
}

func store(cacheFile string, paths []string) error {
	b, err := json.MarshalIndent(paths, "", "    ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal asset locations")
	}
	if err := os.MkdirAll(filepath.Dir(cacheFile), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", filepath.Dir(cacheFile))
	}
	tmp := cacheFile + ".partial"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return errors.Wrapf(err, "failed to write cache file %s", tmp)
	}
	if err := os.Rename(tmp, cacheFile); err != nil {
		return errors.Wrapf(err, "failed to rename %s", tmp)
	}
	return nil
}
