package main

import (
	"fmt"

	"emepath/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root emepath command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "emepath",
		Short:         "EmePath local control plane",
		Long:          "emepath supervises the local gateway fleet, schedules agent jobs,\nand restarts services in place when the source tree changes.",
		Version:       fmt.Sprintf("emepath %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newStopCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newLogsCmd(),
	)

	return cmd
}
