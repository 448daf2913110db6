package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newPauseCmd creates the "emepath pause" subcommand.
func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the job queue",
		Long:  "Stops new jobs from being dispatched. Jobs already running continue\nto completion.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := apiBase()
			if err != nil {
				return err
			}
			if err := apiCall(cmd.Context(), "POST", base+"/pause", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue paused")
			return nil
		},
	}
}
