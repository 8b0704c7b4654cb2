package catalog

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/btree"

	"github.com/fsbench/fsbench/pkg/assetcache"
	"github.com/fsbench/fsbench/pkg/common/errkind"
)

const (
	WorkloadsKey = "workloads"

	ScriptExt       = ".f"
	DefaultScript   = "fileserver.f"
	DefaultRunToken = "run"
)

// WorkloadSource locates workload directories by the marker script they hold.
func WorkloadSource(marker, searchRoot, cacheFile string) assetcache.Source {
	return assetcache.Source{
		CacheFile:  cacheFile,
		SearchRoot: searchRoot,
		Marker:     marker,
		Transform:  filepath.Dir,
	}
}

type WorkloadCatalog struct {
	cache    *assetcache.Cache
	key      string
	runToken string

	active string
	script string
}

func NewWorkloadCatalog(cache *assetcache.Cache, key string) *WorkloadCatalog {
	return &WorkloadCatalog{
		cache:    cache,
		key:      key,
		runToken: DefaultRunToken,
		script:   DefaultScript,
	}
}

// SetRunToken changes the first word that marks a top-level script.
func (w *WorkloadCatalog) SetRunToken(token string) {
	w.runToken = token
}

func (w *WorkloadCatalog) Directories(ctx context.Context) ([]string, error) {
	return w.cache.Get(ctx, w.key)
}

// Active returns the selected directory, defaulting to the most recently
// discovered one.
func (w *WorkloadCatalog) Active(ctx context.Context) (string, error) {
	if w.active != "" {
		return w.active, nil
	}
	dirs, err := w.Directories(ctx)
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", errkind.MissingInput("no workload directories found")
	}
	w.active = dirs[len(dirs)-1]
	return w.active, nil
}

func (w *WorkloadCatalog) Select(ctx context.Context, dir string) error {
	dirs, err := w.Directories(ctx)
	if err != nil {
		return err
	}
	want := filepath.Clean(dir)
	for _, d := range dirs {
		if filepath.Clean(d) == want {
			w.active = d
			return nil
		}
	}
	return errkind.UnknownDirectory(dir)
}

func (w *WorkloadCatalog) Script() string {
	return w.script
}

// SetScript selects the script to run; the extension may be omitted.
func (w *WorkloadCatalog) SetScript(ctx context.Context, name string) error {
	name = ScriptName(name)
	dir, err := w.Active(ctx)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		if os.IsNotExist(err) {
			return errkind.PathNotFound(filepath.Join(dir, name))
		}
		return errors.Wrapf(err, "failed to stat %s", name)
	}
	w.script = name
	return nil
}

func ScriptName(name string) string {
	if !strings.HasSuffix(name, ScriptExt) {
		return name + ScriptExt
	}
	return name
}

// RunnableScripts lists, in name order, the scripts of the active directory
// that contain a line starting with the run token. Scripts without one are
// fragments included by others.
func (w *WorkloadCatalog) RunnableScripts(ctx context.Context) ([]string, error) {
	dir, err := w.Active(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read workload directory %s", dir)
	}

	var runnable btree.Set[string]
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ScriptExt) {
			continue
		}
		ok, err := containsRunToken(filepath.Join(dir, entry.Name()), w.runToken)
		if err != nil {
			return nil, err
		}
		if ok {
			runnable.Insert(entry.Name())
		}
	}

	scripts := make([]string, 0, runnable.Len())
	runnable.Scan(func(name string) bool {
		scripts = append(scripts, name)
		return true
	})
	return scripts, nil
}

// AllScripts lists every script file of the active directory.
func (w *WorkloadCatalog) AllScripts(ctx context.Context) ([]string, error) {
	dir, err := w.Active(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read workload directory %s", dir)
	}
	var scripts []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ScriptExt) {
			scripts = append(scripts, entry.Name())
		}
	}
	return scripts, nil
}

func containsRunToken(path, token string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == token {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, errors.Wrapf(err, "failed to scan %s", path)
	}
	return false, nil
}
