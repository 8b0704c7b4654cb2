// Package mounter drives an external overlay filesystem binary. Mount state
// is never stored: every check asks the live mount table.
package mounter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	utilexec "k8s.io/utils/exec"

	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/common/marker"
	"github.com/fsbench/fsbench/pkg/logger"
)

var DefaultUnmountCommand = []string{"fusermount", "-u"}

const (
	DefaultCleanupAttempts = 5
	DefaultCleanupDelay    = time.Second
)

type Config struct {
	Binary     string
	MountPoint string
	// Options are passed as repeated `-o key` pairs.
	Options   []string
	FSLogPath string
	LogLevel  int
	// UnmountCommand gets the mount point appended.
	UnmountCommand []string
}

// Session is safe for use by a cleanup hook running alongside its owner:
// mount and unmount commands never overlap.
type Session struct {
	exec  utilexec.Interface
	table Table

	// opMu serializes Mount and Umount.
	opMu sync.Mutex

	mu  sync.Mutex
	cfg Config
	// log is the correlated benchmark log; markers are mirrored into it.
	log io.Writer
}

func NewSession(cfg Config, executor utilexec.Interface, table Table) (*Session, error) {
	if cfg.Binary == "" {
		return nil, errkind.MissingInput("overlay binary is required")
	}
	if cfg.MountPoint == "" {
		return nil, errkind.MissingInput("mount point is required")
	}
	cfg.MountPoint = filepath.Clean(cfg.MountPoint)
	if len(cfg.UnmountCommand) == 0 {
		cfg.UnmountCommand = DefaultUnmountCommand
	}
	if executor == nil {
		executor = utilexec.New()
	}
	if table == nil {
		table = SystemTable{}
	}
	return &Session{cfg: cfg, exec: executor, table: table}, nil
}

func (s *Session) MountPoint() string {
	return s.cfg.MountPoint
}

func (s *Session) FSLogPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.FSLogPath
}

// SetLog replaces the correlated log sink. A nil writer detaches it.
func (s *Session) SetLog(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = w
}

// SetFSLogPath points subsequent mounts at a new filesystem log.
func (s *Session) SetFSLogPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.FSLogPath = path
}

func (s *Session) IsMounted() (bool, error) {
	return Contains(s.table, s.cfg.MountPoint)
}

// Args is the overlay binary's argument vector, without the binary itself.
func (s *Session) Args() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := []string{s.cfg.MountPoint}
	for _, o := range s.cfg.Options {
		args = append(args, "-o", o)
	}
	if s.cfg.FSLogPath != "" {
		args = append(args, "--logfile="+s.cfg.FSLogPath)
	}
	args = append(args, "--loglevel="+strconv.Itoa(s.cfg.LogLevel))
	return args
}

// Mount starts the overlay. A non-zero exit is returned as the status with a
// nil error; only precondition violations and launch failures are errors.
func (s *Session) Mount(ctx context.Context) (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	mounted, err := s.IsMounted()
	if err != nil {
		return -1, err
	}
	if mounted {
		return -1, errkind.Precondition("%s is already mounted", s.cfg.MountPoint)
	}

	args := s.Args()
	cmdline := append([]string{s.cfg.Binary}, args...)
	log := logger.L().With(slog.String("mountPoint", s.cfg.MountPoint))

	w, closeFn := s.sinks()
	defer closeFn()
	marker.Write(w, "MOUNT")
	marker.Write(w, "COMMAND: %s", strings.Join(cmdline, " "))

	log.Info("Mounting overlay", slog.String("binary", s.cfg.Binary))
	out, runErr := s.exec.CommandContext(ctx, s.cfg.Binary, args...).CombinedOutput()
	if len(out) > 0 {
		_, _ = w.Write(out)
	}
	code, procErr := errkind.FromExec(cmdline, runErr)
	if code != 0 {
		marker.Write(w, "MOUNT FAILED (%d)", code)
		log.Error("Failed to mount overlay", slog.Int("exitCode", code), slog.String("error", procErr.Error()))
		if code < 0 {
			return code, procErr
		}
		return code, nil
	}
	log.Info("Overlay mounted")
	return 0, nil
}

// Umount runs the unmount command. Like Mount, a non-zero exit is reported
// through the status only.
func (s *Session) Umount(ctx context.Context) (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	mounted, err := s.IsMounted()
	if err != nil {
		return -1, err
	}
	if !mounted {
		return -1, errkind.Precondition("%s is not mounted", s.cfg.MountPoint)
	}

	name := s.cfg.UnmountCommand[0]
	args := append(append([]string{}, s.cfg.UnmountCommand[1:]...), s.cfg.MountPoint)
	cmdline := append([]string{name}, args...)
	log := logger.L().With(slog.String("mountPoint", s.cfg.MountPoint))

	w, closeFn := s.sinks()
	defer closeFn()
	marker.Write(w, "UMOUNT")
	marker.Write(w, "COMMAND: %s", strings.Join(cmdline, " "))

	out, runErr := s.exec.CommandContext(ctx, name, args...).CombinedOutput()
	if len(out) > 0 {
		_, _ = w.Write(out)
	}
	code, procErr := errkind.FromExec(cmdline, runErr)
	if code != 0 {
		marker.Write(w, "UMOUNT FAILED (%d)", code)
		log.Warn("Failed to unmount overlay", slog.Int("exitCode", code), slog.String("error", procErr.Error()))
		if code < 0 {
			return code, procErr
		}
		return code, nil
	}
	log.Info("Overlay unmounted")
	return 0, nil
}

// EnsureUnmounted unmounts until the table no longer lists the mount point,
// giving up after attempts tries with ErrCleanupFailed.
func (s *Session) EnsureUnmounted(ctx context.Context, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = DefaultCleanupAttempts
	}
	log := logger.L().With(slog.String("mountPoint", s.cfg.MountPoint))
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(errkind.ErrCleanupFailed, ctx.Err().Error())
			case <-time.After(delay):
			}
		}
		mounted, err := s.IsMounted()
		if err != nil {
			return err
		}
		if !mounted {
			return nil
		}
		log.Debug("Cleanup unmount", slog.Int("attempt", i+1))
		if _, err := s.Umount(ctx); err != nil && !errors.Is(err, errkind.ErrPreconditionViolation) {
			log.Warn("Cleanup unmount failed", slog.String("error", err.Error()))
		}
	}
	mounted, err := s.IsMounted()
	if err != nil {
		return err
	}
	if mounted {
		return errors.Wrapf(errkind.ErrCleanupFailed, "%s still mounted after %d attempts", s.cfg.MountPoint, attempts)
	}
	return nil
}

// sinks returns a writer fanning out to the filesystem log (opened for
// append) and the correlated log.
func (s *Session) sinks() (io.Writer, func()) {
	s.mu.Lock()
	fsLog, sink := s.cfg.FSLogPath, s.log
	s.mu.Unlock()

	var writers []io.Writer
	closeFn := func() {}
	if fsLog != "" {
		f, err := os.OpenFile(fsLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.L().Warn("Failed to open filesystem log", slog.String("path", fsLog), slog.String("error", err.Error()))
		} else {
			writers = append(writers, f)
			closeFn = func() { _ = f.Close() }
		}
	}
	if sink != nil {
		writers = append(writers, sink)
	}
	return io.MultiWriter(writers...), closeFn
}
