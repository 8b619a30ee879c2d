package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmill/flowmill/pkg/diagnose"
	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/stores"
	"github.com/flowmill/flowmill/pkg/telemetry"
)

// Runner drives a run through its definition's steps until it completes,
// fails, pauses or stops.
type Runner struct {
	store stores.Store
	def   *flow.Definition
	log   *telemetry.Logger

	// OnEvent, when set, is invoked after every event the runner persists.
	OnEvent func(e *flow.Event)

	// OnLifecycle, when set, is invoked on paused/completed/failed/stopped
	// transitions.
	OnLifecycle func(rec *flow.RunRecord, transition flow.LifecycleTransition)
}

// NewRunner creates a runner for a definition.
func NewRunner(store stores.Store, def *flow.Definition, log *telemetry.Logger) *Runner {
	if log == nil {
		log = telemetry.Nop()
	}
	return &Runner{store: store, def: def, log: log.WithComponent("runtime")}
}

// Run executes the run's steps to completion, failure, pause or stop, and
// returns the final record. A completed run is returned unchanged. The
// optional initialState is merged into the run state before the first
// step.
func (r *Runner) Run(ctx context.Context, runID string, initialState map[string]any) (*flow.RunRecord, error) {
	rec, err := r.store.GetFlowRun(ctx, runID)
	if err != nil {
		return nil, flow.NewInternal("failed to load flow run", err)
	}
	if rec == nil {
		return nil, flow.NewNotFound(runID)
	}
	if rec.Status == flow.RunStatusCompleted {
		return rec, nil
	}
	if rec.Status.IsTerminal() {
		return rec, flow.NewInternal(
			fmt.Sprintf("flow run is %s and cannot be executed", rec.Status), nil)
	}

	log := r.log.WithRunID(runID).WithFlowType(rec.FlowType)
	wasPending := rec.Status == flow.RunStatusPending

	state := flow.CloneState(rec.State)
	if state == nil {
		state = map[string]any{}
	}
	for k, v := range initialState {
		state[k] = v
	}

	opts := []stores.UpdateOption{stores.WithState(state)}
	if rec.StartedAt == nil {
		opts = append(opts, stores.WithStartedAt(time.Now().UTC()))
	}
	rec, err = r.store.UpdateFlowRunStatus(ctx, runID, flow.RunStatusRunning, opts...)
	if err != nil {
		return nil, flow.NewInternal("failed to mark run running", err)
	}
	if rec == nil {
		return nil, flow.NewNotFound(runID)
	}
	if wasPending {
		r.appendEvent(ctx, runID, flow.EventFlowStarted, "", nil)
	}

	token := NewStopToken(r.store, runID)
	stepCtx := WithStopToken(ctx, token)

	for {
		// Safe point: honor stop requests between steps. The final persist
		// must survive the cancellation that triggered it.
		if token.ShouldStop(ctx) {
			log.Info("stop requested, landing on stopped")
			return r.finish(context.WithoutCancel(ctx), rec, flow.RunStatusStopped, rec.State, nil)
		}

		stepID := rec.CurrentStep
		fn, ok := r.def.Step(stepID)
		if !ok {
			err := fmt.Errorf("step %q not defined for flow type %q", stepID, rec.FlowType)
			return r.fail(ctx, rec, err)
		}

		r.appendEvent(ctx, runID, flow.EventStepStarted, stepID, nil)
		log.Debugf("executing step %s", stepID)

		outcome, stepErr := fn(stepCtx, rec, rec.InputData)
		if stepErr != nil {
			outcome = flow.Fail(stepErr)
		}

		state = flow.CloneState(rec.State)
		if state == nil {
			state = map[string]any{}
		}
		for k, v := range outcome.Output() {
			state[k] = v
		}

		switch outcome.Kind() {
		case flow.OutcomeContinue:
			next := outcome.NextSteps()
			if len(next) == 0 {
				return r.fail(ctx, rec, fmt.Errorf("step %q continued without next steps", stepID))
			}
			r.appendEvent(ctx, runID, flow.EventStepCompleted, stepID,
				map[string]any{"next_steps": next})
			rec, err = r.store.UpdateFlowRunStatus(ctx, runID, flow.RunStatusRunning,
				stores.WithState(state), stores.WithCurrentStep(next[0]))
			if err != nil || rec == nil {
				return nil, flow.NewInternal("failed to advance run", err)
			}

		case flow.OutcomeComplete:
			r.appendEvent(ctx, runID, flow.EventStepCompleted, stepID, nil)
			return r.finish(ctx, rec, flow.RunStatusCompleted, state, nil)

		case flow.OutcomePause:
			r.appendEvent(ctx, runID, flow.EventStepCompleted, stepID,
				map[string]any{"outcome": "pause"})
			updated, err := r.store.UpdateFlowRunStatus(ctx, runID, flow.RunStatusPaused,
				stores.WithState(state))
			if err != nil || updated == nil {
				return nil, flow.NewInternal("failed to pause run", err)
			}
			log.Info("run paused")
			r.notifyLifecycle(updated, flow.LifecyclePaused)
			return updated, nil

		case flow.OutcomeStop:
			return r.finish(ctx, rec, flow.RunStatusStopped, state, nil)

		case flow.OutcomeFail:
			return r.failWithState(ctx, rec, state, outcome.Err())

		default:
			return r.fail(ctx, rec, fmt.Errorf("step %q returned an invalid outcome", stepID))
		}
	}
}

func (r *Runner) fail(ctx context.Context, rec *flow.RunRecord, cause error) (*flow.RunRecord, error) {
	return r.failWithState(ctx, rec, rec.State, cause)
}

func (r *Runner) failWithState(ctx context.Context, rec *flow.RunRecord, state map[string]any, cause error) (*flow.RunRecord, error) {
	// The failure may be the context's own cancellation; the terminal
	// persist must still land or the run stays running forever.
	ctx = context.WithoutCancel(ctx)

	msg := "step failed"
	if cause != nil {
		msg = cause.Error()
	}

	// Events land before the status write so a consumer observing the
	// terminal status can drain the log with one final read.
	r.appendEvent(ctx, rec.ID, flow.EventStepFailed, rec.CurrentStep,
		map[string]any{flow.EventDataError: msg})

	// Diagnose against a record carrying the failure message so the
	// classifier sees it.
	snapshot := *rec
	snapshot.State = state
	snapshot.ErrorMessage = &msg
	payload := diagnose.Diagnose(ctx, &snapshot, r.store)
	if payload.ReasonCode == diagnose.ReasonUnknown {
		payload.ReasonCode = diagnose.ReasonStepFailed
		payload.FailureClass = string(diagnose.ReasonStepFailed)
	}
	state = diagnose.EnsurePayload(state, payload)
	r.appendEvent(ctx, rec.ID, flow.EventFlowFailed, rec.CurrentStep,
		map[string]any{flow.EventDataError: msg})

	updated, err := r.store.UpdateFlowRunStatus(ctx, rec.ID, flow.RunStatusFailed,
		stores.WithState(state),
		stores.WithFinishedAt(time.Now().UTC()),
		stores.WithErrorMessage(msg),
	)
	if err != nil || updated == nil {
		return nil, flow.NewInternal("failed to record run failure", err)
	}

	r.log.WithRunID(rec.ID).WithError(cause).Error("run failed")
	r.notifyLifecycle(updated, flow.LifecycleFailed)
	return updated, nil
}

func (r *Runner) finish(ctx context.Context, rec *flow.RunRecord, status flow.RunStatus, state map[string]any, errMsg *string) (*flow.RunRecord, error) {
	// Lifecycle events land before the status write so a consumer observing
	// the terminal status can drain the log with one final read.
	switch status {
	case flow.RunStatusCompleted:
		r.appendEvent(ctx, rec.ID, flow.EventFlowCompleted, "", nil)
	case flow.RunStatusStopped:
		r.appendEvent(ctx, rec.ID, flow.EventFlowStopped, "", nil)
	}

	opts := []stores.UpdateOption{
		stores.WithState(state),
		stores.WithFinishedAt(time.Now().UTC()),
	}
	if errMsg != nil {
		opts = append(opts, stores.WithErrorMessage(*errMsg))
	}
	updated, err := r.store.UpdateFlowRunStatus(ctx, rec.ID, status, opts...)
	if err != nil || updated == nil {
		return nil, flow.NewInternal("failed to finish run", err)
	}

	switch status {
	case flow.RunStatusCompleted:
		r.notifyLifecycle(updated, flow.LifecycleCompleted)
	case flow.RunStatusStopped:
		r.notifyLifecycle(updated, flow.LifecycleStopped)
	}
	r.log.WithRunID(rec.ID).Infof("run finished with status %s", status)
	return updated, nil
}

func (r *Runner) appendEvent(ctx context.Context, runID string, eventType flow.EventType, stepID string, data map[string]any) {
	e, err := r.store.AppendEvent(ctx, runID, eventType, stepID, data)
	if err != nil {
		r.log.WithRunID(runID).WithError(err).Warn("failed to append event")
		return
	}
	if r.OnEvent != nil {
		r.OnEvent(e)
	}
}

func (r *Runner) notifyLifecycle(rec *flow.RunRecord, transition flow.LifecycleTransition) {
	if r.OnLifecycle != nil {
		r.OnLifecycle(rec, transition)
	}
}
