package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a paused, stopped or failed run",
		Long: `Clear the run's stop and failure bookkeeping and set it running
again. A run paused on a blocking reason (waiting for a human, an
infrastructure error) is refused unless a new reply was recorded, the
repository changed since the pause, or --force is given.`,
		Example: `  flowd resume r1

  # Override the resume guard
  flowd resume r1 --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.ctrl.ResumeFlow(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rec)
			}
			fmt.Printf("run %s is %s\n", rec.ID, rec.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "bypass the resume guard")

	return cmd
}
