package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/common/command"
)

var rootCmd = &cobra.Command{
	Use:   "fsbench",
	Short: "Compare filesystem throughput natively, on an overlay, and on an overlay with an interception shim",
	Long: `fsbench runs a load-generator workload three times per pass: against a native directory,
against a mounted overlay filesystem, and against the overlay with an interception shim
preloaded, writing one correlated log per workload and pass.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&command.GlobalCommandOption.Debug, "debug", "d", false, "debug mode, output verbose output")
	rootCmd.PersistentFlags().BoolVarP(&command.GlobalCommandOption.Quiet, "quiet", "q", false, "disable spinner")
	rootCmd.PersistentFlags().StringVarP(&command.GlobalCommandOption.ConfigPath, "config", "c", "", "path to the config file (default ~/.config/fsbench/config.yaml)")
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewCleanCommand())
	rootCmd.AddCommand(NewMountCommand())
	rootCmd.AddCommand(NewUmountCommand())
	rootCmd.AddCommand(NewEnvCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewVersionCommand())
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exitErr *command.ExitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.Code > 0 {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
