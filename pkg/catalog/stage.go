package catalog

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/continuity/fs"
	"github.com/pkg/errors"

	"github.com/fsbench/fsbench/pkg/common/digest"
	"github.com/fsbench/fsbench/pkg/logger"
)

const dirAssignment = "$dir="

// Staged is a scratch copy of a workload directory whose scripts point at
// one target directory.
type Staged struct {
	Dir    string
	Target string
}

func (s *Staged) ScriptPath(script string) string {
	return filepath.Join(s.Dir, script)
}

func (s *Staged) Cleanup() {
	if s == nil || s.Dir == "" {
		return
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		logger.L().Warn("Failed to remove staged workload", slog.String("dir", s.Dir), slog.String("error", err.Error()))
	}
}

// Stage copies the active directory into a fresh scratch directory and
// rewrites every `$dir=` assignment of its scripts to target.
func (w *WorkloadCatalog) Stage(ctx context.Context, target string) (*Staged, error) {
	src, err := w.Active(ctx)
	if err != nil {
		return nil, err
	}
	scratch, err := os.MkdirTemp("", "fsbench-stage-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	staged := &Staged{Dir: scratch, Target: target}

	if err := fs.CopyDir(scratch, src); err != nil {
		staged.Cleanup()
		return nil, errors.Wrapf(err, "failed to copy workload directory %s", src)
	}

	scripts, err := filepath.Glob(filepath.Join(scratch, "*"+ScriptExt))
	if err != nil {
		staged.Cleanup()
		return nil, errors.Wrap(err, "failed to list staged scripts")
	}
	for _, script := range scripts {
		if err := rewriteDir(script, target); err != nil {
			staged.Cleanup()
			return nil, err
		}
	}
	return staged, nil
}

// Digest fingerprints the scripts of the active directory.
func (w *WorkloadCatalog) Digest(ctx context.Context) (string, error) {
	dir, err := w.Active(ctx)
	if err != nil {
		return "", err
	}
	scripts, err := w.AllScripts(ctx)
	if err != nil {
		return "", err
	}
	return digest.Files(dir, scripts)
}

func rewriteDir(path, target string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, dirAssignment); idx >= 0 {
			line = line[:idx+len(dirAssignment)] + target
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "failed to scan %s", path)
	}
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
