package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/flowmill/flowmill/pkg/diagnose"
	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/stores"
	"github.com/flowmill/flowmill/pkg/telemetry"
	"github.com/flowmill/flowmill/pkg/worker"
)

// LockFileName is the per-run advisory lock file under the run's
// artifacts directory.
const LockFileName = "reconcile.lock"

// Outcome classifies a single-run reconciliation.
type Outcome string

const (
	// OutcomeActive means the run's status was consistent with its worker.
	OutcomeActive Outcome = "active"

	// OutcomeUpdated means the run was repaired.
	OutcomeUpdated Outcome = "updated"

	// OutcomeLocked means another process held the run's advisory lock and
	// reconciliation was skipped.
	OutcomeLocked Outcome = "locked"

	// OutcomeSkipped means the run's status is not subject to
	// reconciliation.
	OutcomeSkipped Outcome = "skipped"
)

// Summary accumulates the results of a sweep.
type Summary struct {
	Checked int `json:"checked"`
	Active  int `json:"active"`
	Updated int `json:"updated"`
	Locked  int `json:"locked"`
	Errors  int `json:"errors"`
}

func (s Summary) String() string {
	return fmt.Sprintf("checked=%d active=%d updated=%d locked=%d errors=%d",
		s.Checked, s.Active, s.Updated, s.Locked, s.Errors)
}

// Reconciler sweeps a workspace's non-terminal runs and repairs status
// drift caused by worker crashes.
type Reconciler struct {
	store         stores.Store
	workspaceRoot string
	checker       worker.HealthChecker
	log           *telemetry.Logger
	metrics       *telemetry.Metrics
}

// New creates a Reconciler for one workspace. A nil checker defaults to
// the OS process table.
func New(store stores.Store, workspaceRoot string, checker worker.HealthChecker, log *telemetry.Logger, metrics *telemetry.Metrics) *Reconciler {
	if checker == nil {
		checker = worker.ProcessHealthChecker{}
	}
	if log == nil {
		log = telemetry.Nop()
	}
	return &Reconciler{
		store:         store,
		workspaceRoot: workspaceRoot,
		checker:       checker,
		log:           log.WithComponent("reconcile"),
		metrics:       metrics,
	}
}

// ReconcileRun cross-checks one run and repairs it if its worker is gone.
// A held advisory lock means another reconciler or the run's own worker
// is touching the run; backing off is the correct behavior, reported as
// OutcomeLocked.
func (r *Reconciler) ReconcileRun(ctx context.Context, runID string) (Outcome, error) {
	rec, err := r.store.GetFlowRun(ctx, runID)
	if err != nil {
		return "", flow.NewInternal("failed to load flow run", err)
	}
	if rec == nil {
		return "", flow.NewNotFound(runID)
	}
	if rec.Status.IsTerminal() || rec.Status == flow.RunStatusPending {
		return OutcomeSkipped, nil
	}

	dir := stores.RunArtifactsDir(r.workspaceRoot, runID)
	lock := flock.New(filepath.Join(dir, LockFileName))
	held, err := lock.TryLock()
	if err != nil {
		return "", flow.NewInternal("failed to acquire run lock", err)
	}
	if !held {
		return OutcomeLocked, nil
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.log.WithRunID(runID).WithError(err).Warn("failed to release run lock")
		}
	}()

	// Re-read under the lock; the worker may have settled the run between
	// the first read and the lock acquisition.
	rec, err = r.store.GetFlowRun(ctx, runID)
	if err != nil || rec == nil {
		return "", flow.NewInternal("failed to reload flow run", err)
	}
	if rec.Status.IsTerminal() {
		return OutcomeSkipped, nil
	}

	health := r.checker.CheckHealth(dir)
	decision := Decide(rec, health)
	log := r.log.WithRunID(runID).WithFlowType(rec.FlowType)
	if !decision.Change {
		log.Debugf("no repair needed: %s", decision.Note)
		return OutcomeActive, nil
	}

	log.WithField("note", decision.Note).Warn("repairing orphaned run")
	if err := r.apply(ctx, rec, decision); err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

func (r *Reconciler) apply(ctx context.Context, rec *flow.RunRecord, decision Decision) error {
	snapshot := *rec
	snapshot.ErrorMessage = &decision.ErrorMessage
	payload := diagnose.Diagnose(ctx, &snapshot, r.store)
	if payload.ReasonCode == diagnose.ReasonUnknown {
		payload.ReasonCode = diagnose.ReasonWorkerDied
		payload.FailureClass = string(diagnose.ReasonWorkerDied)
		payload.Retryable = payload.ReasonCode.Retryable()
	}
	state := diagnose.EnsurePayload(rec.State, payload)

	// The event lands before the status write so stream consumers drain it.
	if _, err := r.store.AppendEvent(ctx, rec.ID, flow.EventFlowFailed, rec.CurrentStep,
		map[string]any{flow.EventDataError: decision.ErrorMessage, "reconciled": true}); err != nil {
		r.log.WithRunID(rec.ID).WithError(err).Warn("failed to append reconcile event")
	}

	updated, err := r.store.UpdateFlowRunStatus(ctx, rec.ID, decision.Status,
		stores.WithState(state),
		stores.WithFinishedAt(time.Now().UTC()),
		stores.WithErrorMessage(decision.ErrorMessage),
	)
	if err != nil || updated == nil {
		return flow.NewInternal("failed to repair flow run", err)
	}

	if decision.ClearWorker {
		dir := stores.RunArtifactsDir(r.workspaceRoot, rec.ID)
		if err := worker.ClearMetadata(dir); err != nil {
			r.log.WithRunID(rec.ID).WithError(err).Warn("failed to clear stale worker metadata")
		}
	}
	return nil
}

// Sweep reconciles every non-terminal run in the workspace. Individual
// run failures are counted and do not abort the remaining runs.
func (r *Reconciler) Sweep(ctx context.Context) (Summary, error) {
	runs, err := r.store.ListFlowRuns(ctx, stores.ListFilter{})
	if err != nil {
		return Summary{}, flow.NewInternal("failed to list flow runs", err)
	}

	var summary Summary
	for _, rec := range runs {
		if rec.Status.IsTerminal() || rec.Status == flow.RunStatusPending {
			continue
		}
		summary.Checked++

		outcome, err := r.ReconcileRun(ctx, rec.ID)
		if err != nil {
			summary.Errors++
			r.log.WithRunID(rec.ID).WithError(err).Error("reconcile failed")
			continue
		}
		switch outcome {
		case OutcomeActive:
			summary.Active++
		case OutcomeUpdated:
			summary.Updated++
		case OutcomeLocked:
			summary.Locked++
		}
	}

	if r.metrics != nil {
		r.metrics.RecordSweep(summary.Checked, summary.Updated, summary.Locked, summary.Errors)
	}
	r.log.Infof("sweep finished: %s", summary)
	return summary, nil
}
