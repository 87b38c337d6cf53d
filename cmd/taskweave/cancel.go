package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskweave/internal/signals"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the run in progress",
	Long: `Ask a running 'taskweave run' in the same state directory to stop.
Pending tasks are marked cancelled and running calls are abandoned.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := signals.SendCancel(stateDir); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "⊘", "Cancel signal sent", warnColor)
		return nil
	},
}
