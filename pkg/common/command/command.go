package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/fsbench/fsbench/pkg/common/exithook"
	"github.com/fsbench/fsbench/pkg/logger"
)

var GlobalCommandOption = struct {
	Debug      bool
	Quiet      bool
	ConfigPath string
}{}

// InterruptedExitCode is the exit status after SIGINT or SIGTERM.
const InterruptedExitCode = 130

var (
	ShutdownSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}
	// ShutdownGrace bounds how long an interrupted command may take to unwind
	// before the cleanup hooks run from the signal handler.
	ShutdownGrace = 30 * time.Second
)

type ICommandOption interface {
	Complete(ctx context.Context, args []string, argsLenAtDash int) error
	Validate(ctx context.Context) error
	Run(ctx context.Context, args []string) error
}

// ExitCodeError asks Execute to terminate with Code without printing an
// error; it carries the exit status of the last attempted benchmark phase.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func MakeRunE(opt ICommandOption) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if GlobalCommandOption.Debug {
			logger.SetLevel(slog.LevelDebug)
		} else {
			logger.SetLevel(slog.LevelInfo)
		}

		const (
			logLevelDebug = "debug"
			logLevelInfo  = "info"
		)

		currentLogLevelString := logLevelInfo
		if GlobalCommandOption.Debug {
			currentLogLevelString = logLevelDebug
		}

		rotateLogLevel := func() {
			if currentLogLevelString == logLevelDebug {
				currentLogLevelString = logLevelInfo
				logger.SetLevel(slog.LevelInfo)
			} else {
				currentLogLevelString = logLevelDebug
				logger.SetLevel(slog.LevelDebug)
			}
			logger.L().Info("Log level set to", slog.String("level", currentLogLevelString))
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		shutdownSigCh := make(chan os.Signal, 2)
		usr1SigCh := make(chan os.Signal, 1)
		signal.Notify(shutdownSigCh, ShutdownSignals...)
		signal.Notify(usr1SigCh, unix.SIGUSR1)
		defer signal.Stop(shutdownSigCh)
		defer signal.Stop(usr1SigCh)

		done := make(chan struct{})
		defer exithook.RunAll()
		defer close(done)

		// The first shutdown signal cancels ctx so the command unwinds and
		// releases its own resources. Cleanup hooks are forced only after a
		// second signal or once ShutdownGrace has passed.
		go func() {
			for {
				select {
				case <-done:
					return
				case sig := <-shutdownSigCh:
					logger.L().Warn("Interrupted, stopping", slog.String("signal", sig.String()))
					cancel()
					select {
					case <-done:
						return
					case <-shutdownSigCh:
					case <-time.After(ShutdownGrace):
					}
					logger.L().Warn("Forcing cleanup hooks")
					exithook.RunAll()
					os.Exit(InterruptedExitCode)
				case <-usr1SigCh:
					rotateLogLevel()
				}
			}
		}()

		argsLenAtDash := cmd.ArgsLenAtDash()

		err := opt.Complete(ctx, args, argsLenAtDash)
		if err != nil {
			err = errors.Wrap(err, "failed to complete")
			return err
		}
		err = opt.Validate(ctx)
		if err != nil {
			err = errors.Wrap(err, "failed to validate")
			return err
		}
		err = opt.Run(ctx, args)
		if err != nil && ctx.Err() != nil && parent.Err() == nil {
			logger.L().Error("Stopped by signal", slog.String("error", err.Error()))
			return &ExitCodeError{Code: InterruptedExitCode}
		}
		var exitErr *ExitCodeError
		if errors.As(err, &exitErr) {
			return err
		}
		return errors.Wrap(err, "failed to run")
	}
}

type SpinnerWrapper struct {
	spinner *spinner.Spinner
}

func StartSpinner(format string, args ...interface{}) *SpinnerWrapper {
	if !strings.HasPrefix(format, " ") {
		format = " " + format
	}

	if GlobalCommandOption.Quiet {
		return &SpinnerWrapper{}
	}

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = fmt.Sprintf(format, args...)
	s.Start()
	return &SpinnerWrapper{
		spinner: s,
	}
}

func (s *SpinnerWrapper) Stop() {
	if s.spinner == nil {
		return
	}
	s.spinner.Stop()
	s.spinner = nil
}
