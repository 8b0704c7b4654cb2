package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/common/command"
	"github.com/fsbench/fsbench/pkg/history"
)

type HistoryOption struct {
	Workload string
	Limit    int
}

func (opt *HistoryOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	if len(args) > 0 {
		opt.Workload = args[0]
	}
	return nil
}

func (opt *HistoryOption) Validate(ctx context.Context) error {
	if opt.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

func (opt *HistoryOption) Run(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		return err
	}
	db, err := history.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(ctx, opt.Workload, opt.Limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPASS\tSTARTED\tWORKLOAD\tNATIVE\tOVERLAY\tSHIM\tREVISION\tLOG")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Pass, r.StartedAt.Local().Format(time.DateTime), r.Workload,
			exitColumn(r.NativeExit, false), exitColumn(r.OverlayExit, false), exitColumn(r.ShimExit, r.ShimSkipped),
			shortRevision(r.Revision), r.LogPath)
	}
	return w.Flush()
}

func exitColumn(code int, skipped bool) string {
	if skipped {
		return "skipped"
	}
	if code == history.NotRun {
		return "-"
	}
	return fmt.Sprintf("%d", code)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func NewHistoryCommand() *cobra.Command {
	opt := &HistoryOption{}
	cmd := &cobra.Command{
		Use:   "history [workload]",
		Short: "List recorded benchmark runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE:  command.MakeRunE(opt),
	}
	cmd.Flags().IntVarP(&opt.Limit, "limit", "l", 20, "maximum number of runs to show, 0 for all")
	return cmd
}
