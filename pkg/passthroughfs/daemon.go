package passthroughfs

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ForegroundEnv marks the re-executed child that serves the filesystem.
const ForegroundEnv = "PASSTHROUGHFS_FOREGROUND"

const readyMessage = "ready"

// readyFD is the child's end of the readiness pipe (first ExtraFiles entry).
const readyFD = 3

func IsForeground() bool {
	return os.Getenv(ForegroundEnv) == "1"
}

// Daemonize re-executes the current binary in a new session and waits until
// it reports the mount live. A child failure is returned with its last
// message.
func Daemonize(args []string) error {
	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "failed to locate executable")
	}
	r, w, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "failed to create readiness pipe")
	}
	defer r.Close()

	cmd := exec.Command(self, args...)
	cmd.Env = append(os.Environ(), ForegroundEnv+"=1")
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		w.Close()
		return errors.Wrap(err, "failed to start filesystem process")
	}
	w.Close()

	line, readErr := bufio.NewReader(r).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == readyMessage {
		return cmd.Process.Release()
	}
	waitErr := cmd.Wait()
	if line == "" && readErr != nil && readErr != io.EOF {
		return errors.Wrap(readErr, "failed to read readiness pipe")
	}
	if line == "" {
		line = "filesystem process exited before mounting"
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, line)
	}
	return errors.New(line)
}

// NotifyReady tells the waiting parent that the mount is live.
func NotifyReady() {
	notify(readyMessage)
}

// NotifyFailure hands err to the waiting parent.
func NotifyFailure(err error) {
	notify(strings.ReplaceAll(err.Error(), "\n", " "))
}

func notify(msg string) {
	if !IsForeground() {
		return
	}
	f := os.NewFile(uintptr(readyFD), "ready")
	if f == nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(msg + "\n")
}
