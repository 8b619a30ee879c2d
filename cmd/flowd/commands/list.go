package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/stores"
)

func newListCommand() *cobra.Command {
	var (
		status   string
		flowType string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the workspace's flow runs",
		Example: `  # All runs, newest first
  flowd list

  # Only failed runs of one workflow
  flowd list --status failed --flow-type ticket`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			filter := stores.ListFilter{FlowType: flowType}
			if status != "" {
				filter.Status = flow.RunStatus(status)
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}

			runs, err := e.ctrl.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFLOW TYPE\tSTATUS\tSTEP\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.FlowType, r.Status, r.CurrentStep,
					r.CreatedAt.Local().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	cmd.Flags().StringVarP(&flowType, "flow-type", "t", "", "filter by flow type")

	return cmd
}
