// Package config loads the harness configuration from a YAML file. Every
// field has a default, so a missing file is not an error.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/fsbench/fsbench/pkg/assetcache"
	"github.com/fsbench/fsbench/pkg/catalog"
	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/common/pathutil"
	"github.com/fsbench/fsbench/pkg/history"
	"github.com/fsbench/fsbench/pkg/preload"
	"github.com/fsbench/fsbench/pkg/workload"
)

const DefaultPath = "~/.config/fsbench/config.yaml"

type Config struct {
	// LogDir receives the correlated and overlay logs.
	LogDir    string `json:"log_dir"`
	LogPrefix string `json:"log_prefix"`
	// DataDir holds the run history database.
	DataDir string `json:"data_dir"`
	// TestDir is the native phase's target directory.
	TestDir    string `json:"test_dir"`
	MountPoint string `json:"mount_point"`
	// BuildDir overrides the build catalog's default selection.
	BuildDir string `json:"build_dir"`
	// WorkloadDir overrides the workload catalog's default selection.
	WorkloadDir string   `json:"workload_dir"`
	Workloads   []string `json:"workloads"`
	Runs        int      `json:"runs"`
	EnvFile     string   `json:"env_file"`

	Overlay   Overlay   `json:"overlay"`
	Shim      Shim      `json:"shim"`
	Generator Generator `json:"generator"`
	Cache     Cache     `json:"cache"`
	Cleanup   Cleanup   `json:"cleanup"`
}

type Overlay struct {
	// Binary is relative to the build directory unless absolute.
	Binary         string   `json:"binary"`
	Options        []string `json:"options"`
	LogLevel       int      `json:"log_level"`
	UnmountCommand []string `json:"unmount_command"`
	CompressLog    bool     `json:"compress_log"`
}

type Shim struct {
	// Library is relative to the build directory unless absolute.
	Library     string   `json:"library"`
	Categories  []string `json:"categories"`
	TraceOutput string   `json:"trace_output"`
}

type Generator struct {
	Binary         string `json:"binary"`
	NeedsPrivilege bool   `json:"needs_privilege"`
	Escalator      string `json:"escalator"`
	Strategy       string `json:"strategy"`
	RunToken       string `json:"run_token"`
}

type Source struct {
	File   string `json:"file"`
	Root   string `json:"root"`
	Marker string `json:"marker"`
}

type Cache struct {
	Workloads       Source   `json:"workloads"`
	Builds          Source   `json:"builds"`
	StripSegments   int      `json:"strip_segments"`
	Exclude         []string `json:"exclude"`
	CompilerMarker  string   `json:"compiler_marker"`
	BuildTypeMarker string   `json:"build_type_marker"`
}

type Cleanup struct {
	Attempts int    `json:"attempts"`
	Delay    string `json:"delay"`
}

func Default() *Config {
	return &Config{
		LogDir:     ".",
		LogPrefix:  "fsbench",
		DataDir:    "~/.local/share/fsbench",
		TestDir:    "~/fsbench-native",
		MountPoint: "/mnt/fsbench",
		Workloads:  []string{"fileserver"},
		Runs:       1,
		Overlay: Overlay{
			Binary:   "finesse/bitbucket/bitbucket",
			Options:  []string{"allow_root", "auto_unmount"},
			LogLevel: 3,
		},
		Shim: Shim{
			Library: "finesse/preload/libfinesse_preload.so",
		},
		Generator: Generator{
			Binary:         workload.DefaultGenerator,
			NeedsPrivilege: true,
			Escalator:      workload.DefaultEscalator,
			Strategy:       string(workload.StrategyEnv),
			RunToken:       catalog.DefaultRunToken,
		},
		Cache: Cache{
			Workloads: Source{
				File:   "~/.fsbench_workloads.json",
				Root:   "/",
				Marker: catalog.DefaultScript,
			},
			Builds: Source{
				File:   "~/.fsbench_builds.json",
				Root:   ".",
				Marker: "libfinesse_preload.so",
			},
			StripSegments:   2,
			Exclude:         assetcache.DefaultExclude,
			CompilerMarker:  catalog.DefaultCompilerMarker,
			BuildTypeMarker: catalog.DefaultBuildTypeMarker,
		},
		Cleanup: Cleanup{
			Attempts: 5,
			Delay:    "1s",
		},
	}
}

// Load reads path on top of the defaults. An empty path means DefaultPath,
// which may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	resolved, err := pathutil.Resolve(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		if os.IsNotExist(err) {
			return nil, errkind.PathNotFound(resolved)
		}
		return nil, errors.Wrapf(err, "failed to read config %s", resolved)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", resolved)
	}
	return cfg, nil
}

// Validate checks everything that must hold before any subprocess starts.
func (c *Config) Validate() error {
	if c.Runs < 1 {
		return errkind.MissingInput("runs must be at least 1, got %d", c.Runs)
	}
	if len(c.Workloads) == 0 {
		return errkind.MissingInput("at least one workload is required")
	}
	if c.MountPoint == "" {
		return errkind.MissingInput("mount point is required")
	}
	if c.TestDir == "" {
		return errkind.MissingInput("test directory is required")
	}
	if c.Generator.Binary == "" {
		return errkind.MissingInput("load generator binary is required")
	}
	if _, err := workload.ParseStrategy(c.Generator.Strategy); err != nil {
		return err
	}
	if _, err := preload.ParseCategories(c.Shim.Categories); err != nil {
		return err
	}
	if _, err := c.CleanupDelay(); err != nil {
		return err
	}
	if c.EnvFile != "" {
		if _, err := pathutil.ResolveExisting(c.EnvFile); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) CleanupDelay() (time.Duration, error) {
	if c.Cleanup.Delay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Cleanup.Delay)
	if err != nil {
		return 0, errkind.MissingInput("invalid cleanup delay %q", c.Cleanup.Delay)
	}
	return d, nil
}

// Extras returns the variables of EnvFile, or nil when none is set.
func (c *Config) Extras() (map[string]string, error) {
	if c.EnvFile == "" {
		return nil, nil
	}
	path, err := pathutil.ResolveExisting(c.EnvFile)
	if err != nil {
		return nil, err
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read env file %s", path)
	}
	return vars, nil
}

// InBuild resolves a build-relative path.
func InBuild(buildDir, p string) string {
	if filepath.IsAbs(p) || buildDir == "" {
		return p
	}
	return filepath.Join(buildDir, p)
}

// RegisterSources wires both asset lists into cache.
func (c *Config) RegisterSources(cache *assetcache.Cache) {
	ws := catalog.WorkloadSource(c.Cache.Workloads.Marker, c.Cache.Workloads.Root, c.Cache.Workloads.File)
	ws.Exclude = c.Cache.Exclude
	cache.Register(catalog.WorkloadsKey, ws)

	bs := catalog.BuildSource(c.Cache.Builds.Marker, c.Cache.Builds.Root, c.Cache.Builds.File, c.Cache.StripSegments)
	bs.Exclude = c.Cache.Exclude
	cache.Register(catalog.BuildsKey, bs)
}

func (c *Config) HistoryPath() (string, error) {
	dir, err := pathutil.Resolve(c.DataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, history.FileName), nil
}
