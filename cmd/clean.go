package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/catalog"
	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/logger"
)

type CleanOption struct {
	Keys    []string
	Rebuild bool
}

func (opt *CleanOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	opt.Keys = args
	if len(opt.Keys) == 0 {
		opt.Keys = []string{catalog.WorkloadsKey, catalog.BuildsKey}
	}
	return nil
}

func (opt *CleanOption) Validate(ctx context.Context) error {
	for _, key := range opt.Keys {
		if key != catalog.WorkloadsKey && key != catalog.BuildsKey {
			return errkind.MissingInput("unknown cache %q", key)
		}
	}
	return nil
}

func (opt *CleanOption) Run(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache := newCache(cfg)
	for _, key := range opt.Keys {
		if err := cache.Invalidate(key); err != nil {
			return err
		}
		logger.L().Info("Cache discarded", slog.String("key", key))
		if opt.Rebuild {
			paths, err := cache.Get(ctx, key)
			if err != nil {
				return err
			}
			logger.L().Info("Cache rebuilt", slog.String("key", key), slog.Int("count", len(paths)))
		}
	}
	return nil
}

func NewCleanCommand() *cobra.Command {
	opt := &CleanOption{}
	cmd := &cobra.Command{
		Use:   "clean [workloads|builds]",
		Short: "Discard cached asset locations so the next use searches again",
		RunE:  command.MakeRunE(opt),
	}
	cmd.Flags().BoolVarP(&opt.Rebuild, "rebuild", "r", false, "search again right away")
	return cmd
}
