package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/common/pathutil"
	"github.com/fsbench/fsbench/pkg/config"
	"github.com/fsbench/fsbench/pkg/mounter"
)

type UmountOption struct {
	MountPoint string
	Retry      bool

	cfg *config.Config
}

func (opt *UmountOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		opt.MountPoint = args[0]
	}
	if opt.MountPoint == "" {
		opt.MountPoint = cfg.MountPoint
	}
	opt.cfg = cfg
	return nil
}

func (opt *UmountOption) Validate(ctx context.Context) error {
	_, err := opt.cfg.CleanupDelay()
	return err
}

func (opt *UmountOption) Run(ctx context.Context, args []string) error {
	mountPoint, err := pathutil.Resolve(opt.MountPoint)
	if err != nil {
		return err
	}
	session, err := mounter.NewSession(mounter.Config{
		Binary:         opt.cfg.Overlay.Binary,
		MountPoint:     mountPoint,
		UnmountCommand: opt.cfg.Overlay.UnmountCommand,
	}, nil, nil)
	if err != nil {
		return err
	}
	if opt.Retry {
		delay, _ := opt.cfg.CleanupDelay()
		return session.EnsureUnmounted(ctx, opt.cfg.Cleanup.Attempts, delay)
	}
	code, err := session.Umount(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return &command.ExitCodeError{Code: code}
	}
	return nil
}

func NewUmountCommand() *cobra.Command {
	opt := &UmountOption{}
	cmd := &cobra.Command{
		Use:   "umount [mount-point]",
		Short: "Unmount the overlay filesystem",
		Args:  cobra.MaximumNArgs(1),
		RunE:  command.MakeRunE(opt),
	}
	cmd.Flags().BoolVarP(&opt.Retry, "retry", "r", false, "retry until the mount point is gone, like the cleanup after a run")
	return cmd
}
