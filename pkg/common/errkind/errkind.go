// Package errkind classifies harness failures. Every kind wraps a containerd
// errdefs class so callers may test either the precise kind with errors.Is or
// the broad class with errdefs.IsXxx.
package errkind

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	utilexec "k8s.io/utils/exec"
)

var (
	ErrPreconditionViolation  = errors.Wrap(errdefs.ErrFailedPrecondition, "precondition violation")
	ErrExternalProcessFailure = errors.Wrap(errdefs.ErrUnknown, "external process failure")
	ErrPathNotFound           = errors.Wrap(errdefs.ErrNotFound, "path not found")
	ErrUnknownDirectory       = errors.Wrap(errdefs.ErrNotFound, "unknown directory")
	ErrMissingRequiredInput   = errors.Wrap(errdefs.ErrInvalidArgument, "missing required input")
	ErrCacheCorruption        = errors.Wrap(errdefs.ErrDataLoss, "cache corruption")
	ErrCleanupFailed          = errors.Wrap(errdefs.ErrAborted, "cleanup failed")
)

// ProcessError records a subprocess that could not be launched or exited
// non-zero. ExitCode is -1 when the process never started.
type ProcessError struct {
	Command  []string
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", strings.Join(e.Command, " "), e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExternalProcessFailure}
	}
	return []error{ErrExternalProcessFailure, e.Err}
}

func Precondition(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPreconditionViolation, format, args...)
}

func PathNotFound(path string) error {
	return errors.Wrapf(ErrPathNotFound, "%s", path)
}

func UnknownDirectory(dir string) error {
	return errors.Wrapf(ErrUnknownDirectory, "%s", dir)
}

func MissingInput(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMissingRequiredInput, format, args...)
}

// FromExec classifies the result of a finished k8s.io/utils/exec command. A
// non-zero exit yields its status; a launch failure yields -1. Both come with
// a *ProcessError.
func FromExec(command []string, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), &ProcessError{Command: command, ExitCode: exitErr.ExitStatus()}
	}
	return -1, &ProcessError{Command: command, ExitCode: -1, Err: err}
}
