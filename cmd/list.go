package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/catalog"
	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/common/errkind"
)

const (
	listWorkloads = "workloads"
	listScripts   = "scripts"
	listBuilds    = "builds"
)

type ListOption struct {
	Kind string
	All  bool
}

func (opt *ListOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	if len(args) > 0 {
		opt.Kind = args[0]
	}
	return nil
}

func (opt *ListOption) Validate(ctx context.Context) error {
	switch opt.Kind {
	case listWorkloads, listScripts, listBuilds:
		return nil
	case "":
		return errkind.MissingInput("what to list is required: %s, %s or %s", listWorkloads, listScripts, listBuilds)
	}
	return errkind.MissingInput("cannot list %q", opt.Kind)
}

func (opt *ListOption) Run(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache := newCache(cfg)

	switch opt.Kind {
	case listWorkloads:
		workloads, err := newWorkloadCatalog(ctx, cfg, cache)
		if err != nil {
			return err
		}
		dirs, err := workloads.Directories(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to list workload directories")
		}
		active, err := workloads.Active(ctx)
		if err != nil {
			return err
		}
		printMarked(dirs, active)
	case listScripts:
		workloads, err := newWorkloadCatalog(ctx, cfg, cache)
		if err != nil {
			return err
		}
		var scripts []string
		if opt.All {
			scripts, err = workloads.AllScripts(ctx)
		} else {
			scripts, err = workloads.RunnableScripts(ctx)
		}
		if err != nil {
			return errors.Wrap(err, "failed to list scripts")
		}
		for _, s := range scripts {
			fmt.Println(s)
		}
	case listBuilds:
		builds := catalog.NewBuildCatalog(cache, catalog.BuildsKey, cfg.Cache.CompilerMarker, cfg.Cache.BuildTypeMarker)
		dirs, err := builds.Directories(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to list build directories")
		}
		def, _, err := builds.Default(ctx)
		if err != nil {
			return err
		}
		printMarked(dirs, def)
	}
	return nil
}

// printMarked prints one path per line, starring the selected one.
func printMarked(paths []string, selected string) {
	for _, p := range paths {
		mark := " "
		if p == selected {
			mark = "*"
		}
		fmt.Printf("%s %s\n", mark, p)
	}
}

func NewListCommand() *cobra.Command {
	opt := &ListOption{}
	cmd := &cobra.Command{
		Use:       "list workloads|scripts|builds",
		Short:     "List discovered workload directories, runnable scripts or build directories",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{listWorkloads, listScripts, listBuilds},
		RunE:      command.MakeRunE(opt),
	}
	cmd.Flags().BoolVarP(&opt.All, "all", "a", false, "with scripts, include fragments that are not runnable")
	return cmd
}
