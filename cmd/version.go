package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fsbench/fsbench/pkg/common/command"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

type VersionOption struct{}

func (opt *VersionOption) Complete(ctx context.Context, args []string, argsLenAtDash int) error {
	return nil
}

func (opt *VersionOption) Validate(ctx context.Context) error {
	return nil
}

func (opt *VersionOption) Run(ctx context.Context, args []string) error {
	fmt.Println(Version)
	return nil
}

func NewVersionCommand() *cobra.Command {
	opt := &VersionOption{}
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE:  command.MakeRunE(opt),
	}
}
