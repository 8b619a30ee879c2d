package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmill/flowmill/pkg/flow"
)

func newEventsCommand() *cobra.Command {
	var (
		afterSeq int64
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print a run's event log",
		Long: `Print a run's events in seq order. With --follow the command keeps
polling and prints new events until the run is terminal or paused and the
log is drained.`,
		Example: `  # The full log
  flowd events r1

  # Tail a live run
  flowd events r1 --follow --after 40`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			runID := args[0]
			if follow {
				events, err := e.ctrl.StreamEvents(cmd.Context(), runID, afterSeq)
				if err != nil {
					return err
				}
				for ev := range events {
					printEvent(ev)
				}
				return nil
			}

			if _, err := e.ctrl.GetStatus(cmd.Context(), runID); err != nil {
				return err
			}
			events, err := e.store.GetEvents(cmd.Context(), runID, afterSeq, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(events)
			}
			for _, ev := range events {
				printEvent(ev)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&afterSeq, "after", 0, "only events with seq greater than this")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")

	return cmd
}

func printEvent(ev *flow.Event) {
	if jsonOutput {
		_ = printJSON(ev)
		return
	}
	step := ev.StepID
	if step != "" {
		step = " step=" + step
	}
	fmt.Printf("%6d %s %s%s", ev.Seq, ev.Timestamp.Local().Format(time.RFC3339), ev.Type, step)
	if len(ev.Data) > 0 {
		fmt.Printf(" %v", ev.Data)
	}
	fmt.Println()
}
