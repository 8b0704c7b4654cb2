package cmd

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/assetcache"
	"github.com/fsbench/fsbench/pkg/catalog"
	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/common/pathutil"
	"github.com/fsbench/fsbench/pkg/config"
	"github.com/fsbench/fsbench/pkg/coordinator"
	"github.com/fsbench/fsbench/pkg/history"
	"github.com/fsbench/fsbench/pkg/logger"
	"github.com/fsbench/fsbench/pkg/mounter"
	"github.com/fsbench/fsbench/pkg/preload"
	"github.com/fsbench/fsbench/pkg/workload"
)

type RunOption struct {
	Workloads   []string
	Runs        int
	BuildDir    string
	WorkloadDir string
	TestDir     string
	MountPoint  string
	LogDir      string
	Categories  []string
	TraceOutput string
	Strategy    string
	NoPrivilege bool
	Compress    bool
	NoHistory   bool
	Clean       bool

	cfg        *config.Config
	cache      *assetcache.Cache
	workloads  *catalog.WorkloadCatalog
	buildDir   string
	overlayBin string
	shim       *preload.Environment
	extras     map[string]string
}

func (opt *RunOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		opt.Workloads = append(opt.Workloads, args...)
	}
	if len(opt.Workloads) > 0 {
		cfg.Workloads = opt.Workloads
	}
	if opt.Runs > 0 {
		cfg.Runs = opt.Runs
	}
	if opt.BuildDir != "" {
		cfg.BuildDir = opt.BuildDir
	}
	if opt.WorkloadDir != "" {
		cfg.WorkloadDir = opt.WorkloadDir
	}
	if opt.TestDir != "" {
		cfg.TestDir = opt.TestDir
	}
	if opt.MountPoint != "" {
		cfg.MountPoint = opt.MountPoint
	}
	if opt.LogDir != "" {
		cfg.LogDir = opt.LogDir
	}
	if len(opt.Categories) > 0 {
		cfg.Shim.Categories = opt.Categories
	}
	if opt.TraceOutput != "" {
		cfg.Shim.TraceOutput = opt.TraceOutput
	}
	if opt.Strategy != "" {
		cfg.Generator.Strategy = opt.Strategy
	}
	if opt.NoPrivilege {
		cfg.Generator.NeedsPrivilege = false
	}
	if opt.Compress {
		cfg.Overlay.CompressLog = true
	}
	opt.cfg = cfg
	return nil
}

// Validate resolves every input; nothing external runs before it passes.
func (opt *RunOption) Validate(ctx context.Context) error {
	cfg := opt.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	opt.cache = newCache(cfg)
	if opt.Clean {
		for _, key := range []string{catalog.WorkloadsKey, catalog.BuildsKey} {
			if err := opt.cache.Invalidate(key); err != nil {
				return err
			}
		}
	}

	workloads, err := newWorkloadCatalog(ctx, cfg, opt.cache)
	if err != nil {
		return err
	}
	for _, w := range cfg.Workloads {
		if err := workloads.SetScript(ctx, w); err != nil {
			return err
		}
	}
	opt.workloads = workloads

	opt.buildDir, err = resolveBuild(ctx, cfg, opt.cache)
	if err != nil {
		return err
	}
	opt.overlayBin, err = pathutil.ResolveExisting(config.InBuild(opt.buildDir, cfg.Overlay.Binary))
	if err != nil {
		return err
	}

	categories, err := preload.ParseCategories(cfg.Shim.Categories)
	if err != nil {
		return err
	}
	opt.shim, err = preload.New(config.InBuild(opt.buildDir, cfg.Shim.Library), categories, cfg.Shim.TraceOutput)
	if err != nil {
		return err
	}

	opt.extras, err = cfg.Extras()
	return err
}

func (opt *RunOption) Run(ctx context.Context, args []string) error {
	cfg := opt.cfg
	testDir, err := pathutil.Resolve(cfg.TestDir)
	if err != nil {
		return err
	}
	mountPoint, err := pathutil.Resolve(cfg.MountPoint)
	if err != nil {
		return err
	}
	logDir, err := pathutil.Resolve(cfg.LogDir)
	if err != nil {
		return err
	}
	delay, err := cfg.CleanupDelay()
	if err != nil {
		return err
	}

	session, err := mounter.NewSession(mounter.Config{
		Binary:         opt.overlayBin,
		MountPoint:     mountPoint,
		Options:        cfg.Overlay.Options,
		LogLevel:       cfg.Overlay.LogLevel,
		UnmountCommand: cfg.Overlay.UnmountCommand,
	}, nil, nil)
	if err != nil {
		return err
	}

	strategy, err := workload.ParseStrategy(cfg.Generator.Strategy)
	if err != nil {
		return err
	}
	runner := workload.NewRunner(workload.Options{
		Generator: cfg.Generator.Binary,
		Escalator: cfg.Generator.Escalator,
		Strategy:  strategy,
	}, nil)

	var hdb *history.DB
	if !opt.NoHistory {
		path, err := cfg.HistoryPath()
		if err != nil {
			return err
		}
		hdb, err = history.Open(path)
		if err != nil {
			logger.L().Warn("Run history disabled", slog.String("error", err.Error()))
			hdb = nil
		} else {
			defer hdb.Close()
		}
	}

	c, err := coordinator.New(coordinator.Options{
		LogDir:             logDir,
		LogPrefix:          cfg.LogPrefix,
		TestDir:            testDir,
		BuildDir:           opt.buildDir,
		Workloads:          cfg.Workloads,
		Runs:               cfg.Runs,
		NeedsPrivilege:     cfg.Generator.NeedsPrivilege,
		Extras:             opt.extras,
		CleanupAttempts:    cfg.Cleanup.Attempts,
		CleanupDelay:       delay,
		CompressOverlayLog: cfg.Overlay.CompressLog,
	}, coordinator.Deps{
		Workloads: opt.workloads,
		Mount:     session,
		Runner:    runner,
		Preload:   opt.shim,
		History:   hdb,
	})
	if err != nil {
		return err
	}

	logger.L().Info("Starting benchmark",
		slog.String("build", opt.buildDir), slog.Any("workloads", cfg.Workloads), slog.Int("runs", cfg.Runs))
	code, results, err := c.Run(ctx)
	for _, res := range results {
		logger.L().Info("Results written", slog.String("workload", res.Record.Workload), slog.Int("pass", res.Record.Pass), slog.String("log", res.LogPath))
	}
	if err != nil {
		return errors.Wrap(err, "benchmark did not complete")
	}
	if code != 0 {
		return &command.ExitCodeError{Code: code}
	}
	return nil
}

func NewRunCommand() *cobra.Command {
	opt := &RunOption{}
	cmd := &cobra.Command{
		Use:   "run [workload...]",
		Short: "Run the native, overlay and overlay+shim phases for each workload",
		RunE:  command.MakeRunE(opt),
	}
	cmd.Flags().StringSliceVarP(&opt.Workloads, "workload", "w", nil, "workload script to run, with or without .f (repeatable)")
	cmd.Flags().IntVarP(&opt.Runs, "runs", "n", 0, "passes per workload")
	cmd.Flags().StringVarP(&opt.BuildDir, "build-dir", "b", "", "build directory providing the overlay binary and the shim")
	cmd.Flags().StringVar(&opt.WorkloadDir, "workload-dir", "", "directory holding the workload scripts")
	cmd.Flags().StringVar(&opt.TestDir, "test-dir", "", "target directory of the native phase")
	cmd.Flags().StringVarP(&opt.MountPoint, "mount-point", "m", "", "overlay mount point")
	cmd.Flags().StringVar(&opt.LogDir, "log-dir", "", "directory receiving the logs")
	cmd.Flags().StringSliceVar(&opt.Categories, "debug-category", nil, "dynamic linker diagnostics category for the shim phase (repeatable)")
	cmd.Flags().StringVar(&opt.TraceOutput, "trace-output", "", "dynamic linker diagnostics output path")
	cmd.Flags().StringVar(&opt.Strategy, "escalation", "", "how the environment survives privilege escalation: env or script")
	cmd.Flags().BoolVar(&opt.NoPrivilege, "no-privilege", false, "run the load generator without escalating")
	cmd.Flags().BoolVar(&opt.Compress, "compress", false, "zstd-compress the overlay log after each pass")
	cmd.Flags().BoolVar(&opt.NoHistory, "no-history", false, "do not record the run in the history database")
	cmd.Flags().BoolVar(&opt.Clean, "clean", false, "discard cached workload and build locations first")
	return cmd
}
