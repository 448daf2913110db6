package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newResumeCmd creates the "emepath resume" subcommand.
func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the job queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := apiBase()
			if err != nil {
				return err
			}
			if err := apiCall(cmd.Context(), "POST", base+"/resume", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue resumed")
			return nil
		},
	}
}
