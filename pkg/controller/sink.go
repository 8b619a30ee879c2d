package controller

import "github.com/flowmill/flowmill/pkg/flow"

// LifecycleSink receives noteworthy run transitions so a separate,
// durable notification store can be built on top of the engine. The
// engine never interprets what the sink does with them.
type LifecycleSink interface {
	EmitFlowPaused(repoID, runID string, data map[string]any, origin string)
	EmitFlowCompleted(repoID, runID string, data map[string]any, origin string)
	EmitFlowFailed(repoID, runID string, data map[string]any, origin string)
	EmitFlowStopped(repoID, runID string, data map[string]any, origin string)
}

// SinkListener adapts a LifecycleSink to the controller's listener
// fan-out. repoID identifies the workspace, origin names the emitting
// process.
func SinkListener(sink LifecycleSink, repoID, origin string) LifecycleListener {
	return func(rec *flow.RunRecord, tr flow.LifecycleTransition) {
		data := map[string]any{
			"flow_type":    rec.FlowType,
			"current_step": rec.CurrentStep,
			"status":       string(rec.Status),
		}
		if rec.ErrorMessage != nil {
			data["error"] = *rec.ErrorMessage
		}
		if summary, ok := rec.State[flow.StateKeyReasonSummary].(string); ok && summary != "" {
			data["reason_summary"] = summary
		}

		switch tr {
		case flow.LifecyclePaused:
			sink.EmitFlowPaused(repoID, rec.ID, data, origin)
		case flow.LifecycleCompleted:
			sink.EmitFlowCompleted(repoID, rec.ID, data, origin)
		case flow.LifecycleFailed:
			sink.EmitFlowFailed(repoID, rec.ID, data, origin)
		case flow.LifecycleStopped:
			sink.EmitFlowStopped(repoID, rec.ID, data, origin)
		}
	}
}
