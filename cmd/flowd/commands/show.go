package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowmill/flowmill/pkg/diagnose"
)

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one flow run's record and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.ctrl.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			artifacts, err := e.ctrl.Artifacts(cmd.Context(), rec.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]any{
					"run":       rec,
					"artifacts": artifacts,
				})
			}

			fmt.Printf("ID:           %s\n", rec.ID)
			fmt.Printf("Flow type:    %s\n", rec.FlowType)
			fmt.Printf("Status:       %s\n", rec.Status)
			fmt.Printf("Current step: %s\n", rec.CurrentStep)
			fmt.Printf("Created:      %s\n", rec.CreatedAt)
			if rec.StartedAt != nil {
				fmt.Printf("Started:      %s\n", rec.StartedAt)
			}
			if rec.FinishedAt != nil {
				fmt.Printf("Finished:     %s\n", rec.FinishedAt)
			}
			if rec.StopRequested {
				fmt.Println("Stop:         requested")
			}
			if rec.ErrorMessage != nil {
				fmt.Printf("Error:        %s\n", *rec.ErrorMessage)
			}
			if payload := diagnose.PayloadFromState(rec.State); payload != nil {
				fmt.Printf("Failure:      %s\n", diagnose.FormatSummary(payload))
			}
			fmt.Printf("Artifacts:    %s\n", e.ctrl.ArtifactsDir(rec.ID))
			for _, a := range artifacts {
				fmt.Printf("  %-12s %s\n", a.Kind, a.Path)
			}
			return nil
		},
	}
	return cmd
}
