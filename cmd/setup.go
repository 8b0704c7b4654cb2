package cmd

import (
	"context"

	"github.com/fsbench/fsbench/pkg/assetcache"
	"github.com/fsbench/fsbench/pkg/catalog"
	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/common/pathutil"
	"github.com/fsbench/fsbench/pkg/config"
)

func loadConfig() (*config.Config, error) {
	return config.Load(command.GlobalCommandOption.ConfigPath)
}

// newCache registers both asset lists and shows a spinner while a cold
// cache searches the filesystem.
func newCache(cfg *config.Config) *assetcache.Cache {
	cache := assetcache.New(nil)
	cfg.RegisterSources(cache)
	cache.BeforeDiscover = func(key string, src assetcache.Source) func() {
		s := command.StartSpinner("Searching %s for %s, this may take a while...", src.SearchRoot, src.Marker)
		return s.Stop
	}
	return cache
}

func newWorkloadCatalog(ctx context.Context, cfg *config.Config, cache *assetcache.Cache) (*catalog.WorkloadCatalog, error) {
	workloads := catalog.NewWorkloadCatalog(cache, catalog.WorkloadsKey)
	if cfg.Generator.RunToken != "" {
		workloads.SetRunToken(cfg.Generator.RunToken)
	}
	if cfg.WorkloadDir != "" {
		dir, err := pathutil.Resolve(cfg.WorkloadDir)
		if err != nil {
			return nil, err
		}
		if err := workloads.Select(ctx, dir); err != nil {
			return nil, err
		}
	}
	return workloads, nil
}

// resolveBuild returns the configured build directory, which must be among
// the discovered builds, or the default one.
func resolveBuild(ctx context.Context, cfg *config.Config, cache *assetcache.Cache) (string, error) {
	builds := catalog.NewBuildCatalog(cache, catalog.BuildsKey, cfg.Cache.CompilerMarker, cfg.Cache.BuildTypeMarker)
	if cfg.BuildDir == "" {
		return builds.RequireDefault(ctx)
	}
	dir, err := pathutil.Resolve(cfg.BuildDir)
	if err != nil {
		return "", err
	}
	return builds.Select(ctx, dir)
}
