package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Request a cooperative stop of a run",
		Long: `Record a stop request for the run. A running run transitions to
stopping; its worker observes the flag between steps and lands on
stopped. The run's process is never terminated forcibly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.ctrl.StopFlow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rec)
			}
			fmt.Printf("stop requested for %s (status %s)\n", rec.ID, rec.Status)
			return nil
		},
	}
	return cmd
}
