package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/common/pathutil"
	"github.com/fsbench/fsbench/pkg/config"
	"github.com/fsbench/fsbench/pkg/logger"
	"github.com/fsbench/fsbench/pkg/mounter"
)

type MountOption struct {
	MountPoint string
	BuildDir   string
	Binary     string
	Options    []string
	LogFile    string
	LogLevel   int

	cfg *config.Config
}

func (opt *MountOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
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
	if opt.BuildDir != "" {
		cfg.BuildDir = opt.BuildDir
	}
	if len(opt.Options) == 0 {
		opt.Options = cfg.Overlay.Options
	}
	if opt.LogLevel < 0 {
		opt.LogLevel = cfg.Overlay.LogLevel
	}
	opt.cfg = cfg
	return nil
}

func (opt *MountOption) Validate(ctx context.Context) error {
	if opt.Binary == "" {
		buildDir, err := resolveBuild(ctx, opt.cfg, newCache(opt.cfg))
		if err != nil {
			return err
		}
		opt.Binary = config.InBuild(buildDir, opt.cfg.Overlay.Binary)
	}
	binary, err := pathutil.ResolveExisting(opt.Binary)
	if err != nil {
		return err
	}
	opt.Binary = binary
	return nil
}

func (opt *MountOption) Run(ctx context.Context, args []string) error {
	mountPoint, err := pathutil.Resolve(opt.MountPoint)
	if err != nil {
		return err
	}
	logFile := opt.LogFile
	if logFile != "" {
		if logFile, err = pathutil.Resolve(logFile); err != nil {
			return err
		}
	}
	session, err := mounter.NewSession(mounter.Config{
		Binary:         opt.Binary,
		MountPoint:     mountPoint,
		Options:        opt.Options,
		FSLogPath:      logFile,
		LogLevel:       opt.LogLevel,
		UnmountCommand: opt.cfg.Overlay.UnmountCommand,
	}, nil, nil)
	if err != nil {
		return err
	}
	code, err := session.Mount(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return &command.ExitCodeError{Code: code}
	}
	logger.L().Info("Mounted", slog.String("mountPoint", mountPoint))
	return nil
}

func NewMountCommand() *cobra.Command {
	opt := &MountOption{}
	cmd := &cobra.Command{
		Use:   "mount [mount-point]",
		Short: "Mount the overlay filesystem outside of a benchmark run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  command.MakeRunE(opt),
	}
	cmd.Flags().StringVarP(&opt.BuildDir, "build-dir", "b", "", "build directory providing the overlay binary")
	cmd.Flags().StringVar(&opt.Binary, "binary", "", "overlay binary, overrides the build directory")
	cmd.Flags().StringSliceVarP(&opt.Options, "option", "o", nil, "overlay -o option (repeatable)")
	cmd.Flags().StringVar(&opt.LogFile, "logfile", "", "overlay log file")
	cmd.Flags().IntVar(&opt.LogLevel, "loglevel", -1, "overlay log level")
	return cmd
}
