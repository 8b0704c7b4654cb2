// Package coordinator drives the comparative benchmark: for every workload
// and pass it runs the load generator natively, on the overlay, and on the
// overlay with the interception shim, all into one correlated log.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	utilexec "k8s.io/utils/exec"

	"github.com/fsbench/fsbench/pkg/catalog"
	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/common/exithook"
	"github.com/fsbench/fsbench/pkg/common/marker"
	"github.com/fsbench/fsbench/pkg/history"
	"github.com/fsbench/fsbench/pkg/logger"
	"github.com/fsbench/fsbench/pkg/mounter"
	"github.com/fsbench/fsbench/pkg/preload"
	"github.com/fsbench/fsbench/pkg/workload"
)

// TimestampFormat is the layout of the timestamp embedded in log names.
const TimestampFormat = "20060102-150405"

const UnknownRevision = "unknown"

type Phase string

const (
	PhaseNative  Phase = "native"
	PhaseOverlay Phase = "overlay"
	PhaseShim    Phase = "overlay+shim"
)

type Options struct {
	LogDir    string
	LogPrefix string
	// TestDir is the native phase's target directory.
	TestDir   string
	BuildDir  string
	Workloads []string
	Runs      int

	NeedsPrivilege bool
	// Extras are layered onto the inherited environment of every phase.
	Extras map[string]string

	CleanupAttempts    int
	CleanupDelay       time.Duration
	CompressOverlayLog bool

	Now func() time.Time
}

type Deps struct {
	Workloads *catalog.WorkloadCatalog
	Mount     *mounter.Session
	Runner    *workload.Runner
	Preload   *preload.Environment
	// Exec runs the revision query; utilexec.New() when nil.
	Exec  utilexec.Interface
	Table mounter.Table
	// History is optional.
	History *history.DB
}

type Coordinator struct {
	opts Options
	deps Deps
}

type PhaseResult struct {
	Phase    Phase
	ExitCode int
	Err      error
}

// Result describes one pass of one workload.
type Result struct {
	Record  history.Record
	Phases  []PhaseResult
	LogPath string
	// OverlayLogPath ends in .zst once compressed.
	OverlayLogPath string
}

func New(opts Options, deps Deps) (*Coordinator, error) {
	if deps.Workloads == nil || deps.Mount == nil || deps.Runner == nil {
		return nil, errkind.MissingInput("workload catalog, mount session and runner are required")
	}
	if deps.Preload == nil {
		return nil, errkind.MissingInput("shim environment is required")
	}
	if len(opts.Workloads) == 0 {
		return nil, errkind.MissingInput("at least one workload is required")
	}
	if opts.TestDir == "" {
		return nil, errkind.MissingInput("test directory is required")
	}
	if opts.Runs < 1 {
		opts.Runs = 1
	}
	if opts.LogDir == "" {
		opts.LogDir = "."
	}
	if opts.LogPrefix == "" {
		opts.LogPrefix = "fsbench"
	}
	if opts.CleanupAttempts <= 0 {
		opts.CleanupAttempts = mounter.DefaultCleanupAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Exec == nil {
		deps.Exec = utilexec.New()
	}
	if deps.Table == nil {
		deps.Table = mounter.SystemTable{}
	}
	return &Coordinator{opts: opts, deps: deps}, nil
}

// LogName renders `<prefix>#<workload>#<kind>#<timestamp>.log`. Per-pass logs
// use PassKind for kind.
func LogName(prefix, workloadName, kind string, ts time.Time) string {
	return fmt.Sprintf("%s#%s#%s#%s.log", prefix, workloadName, kind, ts.Format(TimestampFormat))
}

// PassKind is the log kind of one pass, e.g. results-2.
func PassKind(kind string, pass int) string {
	return kind + "-" + strconv.Itoa(pass)
}

// Run performs every pass of every workload and returns the exit code of the
// last attempted phase. Errors are returned for setup failures that prevent
// the sequence from starting, for a mount point that could not be released
// afterwards (errkind.ErrCleanupFailed) and for a cancelled ctx. Once ctx is
// cancelled no further mount or generator is started; the overlay is
// released before Run returns.
func (c *Coordinator) Run(ctx context.Context) (int, []Result, error) {
	for _, w := range c.opts.Workloads {
		if err := c.deps.Workloads.SetScript(ctx, w); err != nil {
			return -1, nil, err
		}
	}
	if err := os.MkdirAll(c.opts.LogDir, 0755); err != nil {
		return -1, nil, errors.Wrapf(err, "failed to create log directory %s", c.opts.LogDir)
	}

	fingerprint, err := c.fingerprint()
	if err != nil {
		return -1, nil, err
	}
	runID := xid.New().String()

	session := c.deps.Mount
	var cleanupErr error
	hook := exithook.Register("unmount "+session.MountPoint(), func() {
		cleanupErr = session.EnsureUnmounted(context.Background(), c.opts.CleanupAttempts, c.opts.CleanupDelay)
		if cleanupErr != nil {
			logger.L().Error("Cleanup failed", slog.String("mountPoint", session.MountPoint()), slog.String("error", cleanupErr.Error()))
		}
	})
	defer hook.Release()

	lastExit := 0
	var results []Result
passes:
	for _, w := range c.opts.Workloads {
		for pass := 1; pass <= c.opts.Runs; pass++ {
			if ctx.Err() != nil {
				logger.L().Warn("Interrupted, skipping remaining passes", slog.String("workload", w), slog.Int("pass", pass))
				break passes
			}
			res := c.runPass(ctx, runID, catalog.ScriptName(w), pass, fingerprint)
			results = append(results, res)
			if n := len(res.Phases); n > 0 {
				lastExit = res.Phases[n-1].ExitCode
			}
		}
	}

	hook.Release()
	session.SetFSLogPath("")
	if c.opts.CompressOverlayLog && cleanupErr == nil {
		c.compressOverlayLogs(results)
	}

	if cleanupErr != nil {
		return lastExit, results, cleanupErr
	}
	if err := ctx.Err(); err != nil {
		return lastExit, results, errors.Wrap(err, "benchmark interrupted")
	}
	return lastExit, results, nil
}

// compressOverlayLogs runs only once the overlay is gone, so no daemon is
// still appending to the logs being replaced.
func (c *Coordinator) compressOverlayLogs(results []Result) {
	if mounted, err := c.deps.Mount.IsMounted(); err != nil || mounted {
		logger.L().Warn("Overlay still mounted, leaving its logs uncompressed", slog.String("mountPoint", c.deps.Mount.MountPoint()))
		return
	}
	for i := range results {
		path := results[i].OverlayLogPath
		if path == "" {
			continue
		}
		target, err := compressLog(path)
		if err != nil {
			logger.L().Warn("Failed to compress overlay log", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if target != "" {
			results[i].OverlayLogPath = target
		}
	}
}

type plan struct {
	BuildDir  string
	Workloads []string
	Runs      int
	TestDir   string
	MountArgs []string
	Shim      map[string]string
	Extras    map[string]string
}

func (c *Coordinator) fingerprint() (string, error) {
	h, err := hashstructure.Hash(plan{
		BuildDir:  c.opts.BuildDir,
		Workloads: c.opts.Workloads,
		Runs:      c.opts.Runs,
		TestDir:   c.opts.TestDir,
		MountArgs: c.deps.Mount.Args(),
		Shim:      c.deps.Preload.Variables(),
		Extras:    c.opts.Extras,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to fingerprint run plan")
	}
	return strconv.FormatUint(h, 16), nil
}

func (c *Coordinator) runPass(ctx context.Context, runID, script string, pass int, fingerprint string) Result {
	name := strings.TrimSuffix(script, catalog.ScriptExt)
	started := c.opts.Now()
	log := logger.L().With(slog.String("workload", name), slog.Int("pass", pass), slog.String("runId", runID))

	record := history.Record{
		RunID:       runID,
		Pass:        pass,
		StartedAt:   started,
		BuildDir:    c.opts.BuildDir,
		Workload:    name,
		Script:      script,
		Fingerprint: fingerprint,
		NativeExit:  history.NotRun,
		OverlayExit: history.NotRun,
		ShimExit:    history.NotRun,
	}
	result := Result{}

	logPath := filepath.Join(c.opts.LogDir, LogName(c.opts.LogPrefix, name, PassKind("results", pass), started))
	overlayLog := filepath.Join(c.opts.LogDir, LogName(c.opts.LogPrefix, name, PassKind("overlay", pass), started))
	record.LogPath = logPath
	result.LogPath = logPath
	result.OverlayLogPath = overlayLog

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		log.Error("Failed to create results log", slog.String("path", logPath), slog.String("error", err.Error()))
		result.Record = record
		return result
	}
	defer f.Close()

	l := &runLog{w: f}
	session := c.deps.Mount
	session.SetLog(f)
	session.SetFSLogPath(overlayLog)
	defer session.SetLog(nil)

	record.Revision = c.preamble(ctx, l, runID, script, pass, fingerprint, started)

	// Phase A
	native := c.runPhase(ctx, l, PhaseNative, script, c.opts.TestDir, c.baseEnv(), nil)
	record.NativeExit = native.ExitCode
	result.Phases = append(result.Phases, native)

	// Phase B
	overlayClean := false
	if !l.stopped(ctx) {
		var overlay PhaseResult
		overlay, overlayClean = c.overlayPhase(ctx, l, PhaseOverlay, script, c.baseEnv(), nil, true)
		record.OverlayExit = overlay.ExitCode
		result.Phases = append(result.Phases, overlay)
	}

	// Phase C runs only on a known-clean overlay.
	switch {
	case l.stopped(ctx):
		record.ShimSkipped = true
		log.Warn("Interrupted, skipping remaining phases")
	case overlayClean:
		shimEnv := c.deps.Preload.Apply(c.baseEnv())
		shim, _ := c.overlayPhase(ctx, l, PhaseShim, script, shimEnv, c.deps.Preload.Names(), false)
		record.ShimExit = shim.ExitCode
		result.Phases = append(result.Phases, shim)
	default:
		record.ShimSkipped = true
		log.Warn("Skipping shim phase, overlay did not mount and unmount cleanly")
	}

	record.FinishedAt = c.opts.Now()
	l.mark("Run complete %s", record.FinishedAt.Format(time.RFC3339))

	if c.deps.History != nil {
		if err := c.deps.History.SaveRun(context.WithoutCancel(ctx), record); err != nil {
			log.Warn("Failed to record run", slog.String("error", err.Error()))
		}
	}
	log.Info("Pass finished", slog.String("log", logPath),
		slog.Int("native", record.NativeExit), slog.Int("overlay", record.OverlayExit), slog.Int("shim", record.ShimExit))
	result.Record = record
	return result
}

func (c *Coordinator) baseEnv() map[string]string {
	return preload.Merge(preload.Inherited(), c.opts.Extras)
}

func (c *Coordinator) preamble(ctx context.Context, l *runLog, runID, script string, pass int, fingerprint string, started time.Time) string {
	l.mark("Starting Pass %d", pass)
	l.mark("DETAILS ARE run=%s script=%s build=%s test_dir=%s mount_point=%s",
		runID, script, c.opts.BuildDir, c.opts.TestDir, c.deps.Mount.MountPoint())
	l.mark("TIMESTAMP %s", started.Format(time.RFC3339))

	revision := c.revision(ctx)
	l.mark("REVISION %s", revision)

	if digest, err := c.deps.Workloads.Digest(ctx); err == nil {
		l.mark("SCRIPT DIGEST %s", digest)
	} else {
		l.mark("SCRIPT DIGEST unavailable: %v", err)
	}
	l.mark("FINGERPRINT %s", fingerprint)

	snapshot, err := mounter.Snapshot(c.deps.Table)
	if err != nil {
		l.mark("MOUNT TABLE unavailable: %v", err)
	} else {
		l.mark("MOUNT TABLE")
		l.write(snapshot)
	}
	return revision
}

func (c *Coordinator) revision(ctx context.Context) string {
	if c.opts.BuildDir == "" {
		return UnknownRevision
	}
	cmd := c.deps.Exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.SetDir(c.opts.BuildDir)
	out, err := cmd.Output()
	if err != nil {
		logger.L().Warn("Failed to query source revision", slog.String("buildDir", c.opts.BuildDir), slog.String("error", err.Error()))
		return UnknownRevision
	}
	return strings.TrimSpace(string(out))
}

// overlayPhase mounts, runs and unmounts. clean reports whether both the
// mount and the unmount succeeded.
func (c *Coordinator) overlayPhase(ctx context.Context, l *runLog, phase Phase, script string, env map[string]string, forward []string, strictUnmount bool) (PhaseResult, bool) {
	session := c.deps.Mount
	log := logger.L().With(slog.String("phase", string(phase)))

	l.mark("Phase %s", phase)
	code, err := session.Mount(ctx)
	if err != nil || code != 0 {
		if err != nil {
			l.mark("ERROR %v", err)
		}
		log.Error("Mount failed, aborting phase", slog.Int("exitCode", code))
		return PhaseResult{Phase: phase, ExitCode: code, Err: err}, false
	}

	var res PhaseResult
	if l.stopped(ctx) {
		res = PhaseResult{Phase: phase, ExitCode: -1, Err: ctx.Err()}
	} else {
		res = c.runPhase(ctx, l, phase, script, session.MountPoint(), env, forward)
	}

	// The overlay is released even when ctx has been cancelled.
	ucode, uerr := session.Umount(context.WithoutCancel(ctx))
	if uerr != nil || ucode != 0 {
		if uerr != nil {
			l.mark("ERROR %v", uerr)
		}
		if strictUnmount {
			log.Error("Unmount failed", slog.Int("exitCode", ucode))
		} else {
			log.Warn("Unmount failed", slog.Int("exitCode", ucode))
		}
		return res, false
	}
	return res, true
}

// runPhase stages the scripts at target and runs the generator once.
func (c *Coordinator) runPhase(ctx context.Context, l *runLog, phase Phase, script, target string, env map[string]string, forward []string) PhaseResult {
	log := logger.L().With(slog.String("phase", string(phase)))
	if phase == PhaseNative {
		l.mark("Phase %s", phase)
		if err := os.MkdirAll(target, 0755); err != nil {
			l.mark("ERROR %v", err)
			return PhaseResult{Phase: phase, ExitCode: -1, Err: errors.Wrapf(err, "failed to create %s", target)}
		}
	}

	staged, err := c.deps.Workloads.Stage(ctx, target)
	if err != nil {
		l.mark("ERROR %v", err)
		log.Error("Failed to stage workload", slog.String("error", err.Error()))
		return PhaseResult{Phase: phase, ExitCode: -1, Err: err}
	}
	defer staged.Cleanup()

	code, err := c.deps.Runner.Run(ctx, workload.Invocation{
		Script:         staged.ScriptPath(script),
		Env:            env,
		Forward:        forward,
		Dir:            staged.Dir,
		Log:            l.w,
		NeedsPrivilege: c.opts.NeedsPrivilege,
	})
	if err != nil {
		l.mark("ERROR %v", err)
	}
	l.mark("End Run %s", phase)
	return PhaseResult{Phase: phase, ExitCode: code, Err: err}
}

type runLog struct {
	w           io.Writer
	interrupted bool
}

// stopped reports whether ctx has been cancelled, marking the log the first
// time it notices.
func (l *runLog) stopped(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	if !l.interrupted {
		l.interrupted = true
		l.mark("INTERRUPTED %v", ctx.Err())
	}
	return true
}

func (l *runLog) mark(format string, args ...interface{}) {
	marker.Write(l.w, format, args...)
}

func (l *runLog) write(s string) {
	_, _ = io.WriteString(l.w, s)
}
