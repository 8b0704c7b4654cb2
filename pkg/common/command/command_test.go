package command_test

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/common/exithook"
)

type fakeOption struct {
	run func(ctx context.Context) error
}

func (o *fakeOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	return nil
}

func (o *fakeOption) Validate(ctx context.Context) error {
	return nil
}

func (o *fakeOption) Run(ctx context.Context, args []string) error {
	return o.run(ctx)
}

var _ = Describe("MakeRunE", func() {
	var (
		signals []os.Signal
		grace   time.Duration
	)

	BeforeEach(func() {
		signals, grace = command.ShutdownSignals, command.ShutdownGrace
		// SIGUSR2 stands in for SIGINT so the test runner's own handler stays out of it.
		command.ShutdownSignals = []os.Signal{unix.SIGUSR2}
		command.ShutdownGrace = time.Minute
	})

	AfterEach(func() {
		command.ShutdownSignals, command.ShutdownGrace = signals, grace
		exithook.RunAll()
	})

	It("cancels the context on a shutdown signal and lets the command unwind", func() {
		var released []string
		opt := &fakeOption{run: func(ctx context.Context) error {
			h := exithook.Register("unmount", func() { released = append(released, "hook") })
			defer h.Release()

			Expect(unix.Kill(os.Getpid(), unix.SIGUSR2)).To(Succeed())
			select {
			case <-ctx.Done():
				released = append(released, "unwound")
				return errors.Wrap(ctx.Err(), "benchmark did not complete")
			case <-time.After(10 * time.Second):
				return errors.New("context was not cancelled")
			}
		}}

		err := command.MakeRunE(opt)(&cobra.Command{}, nil)
		var exitErr *command.ExitCodeError
		Expect(errors.As(err, &exitErr)).To(BeTrue())
		Expect(exitErr.Code).To(Equal(command.InterruptedExitCode))
		Expect(released).To(Equal([]string{"unwound", "hook"}))
		Expect(exithook.Pending()).To(Equal(0))
	})

	It("runs hooks left pending when the command returns", func() {
		calls := 0
		opt := &fakeOption{run: func(ctx context.Context) error {
			exithook.Register("unmount", func() { calls++ })
			return nil
		}}

		Expect(command.MakeRunE(opt)(&cobra.Command{}, nil)).To(Succeed())
		Expect(calls).To(Equal(1))
	})

	It("passes exit codes through and wraps other failures", func() {
		opt := &fakeOption{run: func(ctx context.Context) error {
			return &command.ExitCodeError{Code: 4}
		}}
		err := command.MakeRunE(opt)(&cobra.Command{}, nil)
		Expect(err).To(Equal(&command.ExitCodeError{Code: 4}))

		opt.run = func(ctx context.Context) error { return errors.New("boom") }
		err = command.MakeRunE(opt)(&cobra.Command{}, nil)
		Expect(err).To(MatchError("failed to run: boom"))
	})
})
