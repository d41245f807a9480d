// Package versioncmder provides the version command.
package versioncmder

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quarry/pkg/utils"
)

type versionCommander struct {
	short bool
	out   io.Writer
}

func NewVersionCmd() *cobra.Command {
	cmder := &versionCommander{}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the quarry version",
		Long:  "Print the quarry version along with the commit and build details it was compiled from.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.out = cmd.OutOrStdout()
			return cmder.run()
		},
	}

	cmd.Flags().BoolVarP(&cmder.short, "short", "s", false, "Print only the version number")
	return cmd
}

func (c *versionCommander) run() error {
	if c.short {
		_, err := fmt.Fprintln(c.out, utils.Version)
		return err
	}

	_, err := fmt.Fprintf(c.out, "quarry %s\n  commit:   %s\n  built:    %s\n  go:       %s %s/%s\n",
		utils.Version, utils.Sha, utils.Buildtime,
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}
