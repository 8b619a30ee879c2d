package commands

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmill/flowmill/pkg/reconcile"
	"github.com/flowmill/flowmill/pkg/telemetry"
)

func newReconcileCommand() *cobra.Command {
	var (
		runID    string
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair runs orphaned by crashed workers",
		Long: `Sweep the workspace's non-terminal runs, cross-check each one's
worker liveness and transition orphaned active runs to failed with a
diagnosed failure payload. With --watch the sweep repeats on an interval
and serves Prometheus metrics if enabled in the config.`,
		Example: `  # One sweep
  flowd reconcile

  # Just one run
  flowd reconcile --run r1

  # Daemon mode
  flowd reconcile --watch --interval 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			metrics, err := telemetry.NewMetrics(e.cfg.Metrics)
			if err != nil {
				return err
			}
			r := reconcile.New(e.store, e.cfg.Workspace.Root, nil, e.log, metrics)
			ctx := cmd.Context()

			if runID != "" {
				outcome, err := r.ReconcileRun(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Printf("run %s: %s\n", runID, outcome)
				return nil
			}

			if !watch {
				summary, err := r.Sweep(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(summary)
				}
				fmt.Println(summary)
				return nil
			}

			if e.cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle(e.cfg.Metrics.Path, metrics.Handler())
				srv := &http.Server{Addr: e.cfg.Metrics.ListenAddress, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						e.log.WithError(err).Error("metrics server failed")
					}
				}()
				defer srv.Close()
			}

			if interval <= 0 {
				interval = e.cfg.Engine.ReconcileInterval.Std()
			}
			jitter := e.cfg.Engine.ReconcileJitter.Std()

			for {
				if _, err := r.Sweep(ctx); err != nil {
					e.log.WithError(err).Error("sweep failed")
				}

				wait := interval
				if jitter > 0 {
					wait += time.Duration(rand.Int63n(int64(jitter)))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "reconcile a single run instead of sweeping")
	cmd.Flags().BoolVar(&watch, "watch", false, "sweep periodically until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep interval in watch mode (default from config)")

	return cmd
}
