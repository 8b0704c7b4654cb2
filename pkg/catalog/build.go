package catalog

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsbench/fsbench/pkg/assetcache"
	"github.com/fsbench/fsbench/pkg/common/errkind"
)

const (
	BuildsKey = "builds"

	DefaultCompilerMarker  = "gcc"
	DefaultBuildTypeMarker = "release"
)

// BuildSource locates build directories by a required artifact. A hit such
// as <root>/pkg/preload/lib.so is normalized to <root> by dropping the
// artifact's directory plus stripSegments enclosing segments beneath it.
func BuildSource(artifact, searchRoot, cacheFile string, stripSegments int) assetcache.Source {
	return assetcache.Source{
		CacheFile:  cacheFile,
		SearchRoot: searchRoot,
		Marker:     artifact,
		Transform: func(hit string) string {
			return StripSegments(filepath.Dir(hit), stripSegments)
		},
	}
}

func StripSegments(dir string, n int) string {
	parts := strings.Split(filepath.ToSlash(dir), "/")
	if n >= len(parts) {
		return ""
	}
	return filepath.FromSlash(strings.Join(parts[:len(parts)-n], "/"))
}

type BuildCatalog struct {
	cache           *assetcache.Cache
	key             string
	compilerMarker  string
	buildTypeMarker string
}

func NewBuildCatalog(cache *assetcache.Cache, key, compilerMarker, buildTypeMarker string) *BuildCatalog {
	if compilerMarker == "" {
		compilerMarker = DefaultCompilerMarker
	}
	if buildTypeMarker == "" {
		buildTypeMarker = DefaultBuildTypeMarker
	}
	return &BuildCatalog{
		cache:           cache,
		key:             key,
		compilerMarker:  compilerMarker,
		buildTypeMarker: buildTypeMarker,
	}
}

func (b *BuildCatalog) Directories(ctx context.Context) ([]string, error) {
	return b.cache.Get(ctx, b.key)
}

// Default returns the first build matching both the compiler and build
// type markers. ok is false when none does.
func (b *BuildCatalog) Default(ctx context.Context) (dir string, ok bool, err error) {
	dirs, err := b.Directories(ctx)
	if err != nil {
		return "", false, err
	}
	for _, d := range dirs {
		if strings.Contains(d, b.compilerMarker) && strings.Contains(d, b.buildTypeMarker) {
			return d, true, nil
		}
	}
	return "", false, nil
}

func (b *BuildCatalog) RequireDefault(ctx context.Context) (string, error) {
	dir, ok, err := b.Default(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errkind.MissingInput("no build directory matches %q and %q; pass one explicitly", b.compilerMarker, b.buildTypeMarker)
	}
	return dir, nil
}

// Select checks that dir is one of the discovered builds.
func (b *BuildCatalog) Select(ctx context.Context, dir string) (string, error) {
	dirs, err := b.Directories(ctx)
	if err != nil {
		return "", err
	}
	want := filepath.Clean(dir)
	for _, d := range dirs {
		if filepath.Clean(d) == want {
			return d, nil
		}
	}
	return "", errkind.UnknownDirectory(dir)
}
