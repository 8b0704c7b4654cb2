package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/config"
	"github.com/fsbench/fsbench/pkg/preload"
)

type EnvOption struct {
	Shim        string
	BuildDir    string
	Categories  []string
	TraceOutput string
	All         bool

	env *preload.Environment
}

func (opt *EnvOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(opt.Categories) == 0 {
		opt.Categories = cfg.Shim.Categories
	}
	if opt.TraceOutput == "" {
		opt.TraceOutput = cfg.Shim.TraceOutput
	}
	if opt.Shim == "" {
		if opt.BuildDir != "" {
			cfg.BuildDir = opt.BuildDir
		}
		buildDir, err := resolveBuild(ctx, cfg, newCache(cfg))
		if err != nil {
			return err
		}
		opt.Shim = config.InBuild(buildDir, cfg.Shim.Library)
	}
	return nil
}

func (opt *EnvOption) Validate(ctx context.Context) error {
	categories, err := preload.ParseCategories(opt.Categories)
	if err != nil {
		return err
	}
	opt.env, err = preload.New(opt.Shim, categories, opt.TraceOutput)
	return err
}

func (opt *EnvOption) Run(ctx context.Context, args []string) error {
	vars := opt.env.Variables()
	if opt.All {
		vars = opt.env.Apply(preload.Inherited())
	}
	for _, kv := range preload.ToList(vars) {
		fmt.Println(kv)
	}
	return nil
}

func NewEnvCommand() *cobra.Command {
	opt := &EnvOption{}
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the environment that activates the interception shim",
		RunE:  command.MakeRunE(opt),
	}
	cmd.Flags().StringVarP(&opt.Shim, "shim", "s", "", "shim library, overrides the build directory")
	cmd.Flags().StringVarP(&opt.BuildDir, "build-dir", "b", "", "build directory providing the shim")
	cmd.Flags().StringSliceVar(&opt.Categories, "debug-category", nil, "dynamic linker diagnostics category (repeatable)")
	cmd.Flags().StringVar(&opt.TraceOutput, "trace-output", "", "dynamic linker diagnostics output path")
	cmd.Flags().BoolVarP(&opt.All, "all", "a", false, "print the complete environment, not just the shim variables")
	return cmd
}
