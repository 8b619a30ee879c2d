package flow

import "time"

// RunRecord is the durable record of one flow run. It is created by the
// controller, mutated by the runtime while the run is active, and repaired
// by the reconciler when the owning worker dies. Records are never deleted.
type RunRecord struct {
	// ID is an opaque token identifying the run, stable for its lifetime.
	// Caller-supplied or generated at creation.
	ID string `json:"id"`

	// FlowType names the Definition that produced the run. The engine treats
	// it as an opaque tag.
	FlowType string `json:"flow_type"`

	// Status is the current lifecycle status. Only the store's status-update
	// operation may change it.
	Status RunStatus `json:"status"`

	// InputData is the immutable configuration supplied at creation.
	InputData map[string]any `json:"input_data"`

	// State is the mutable scratch space steps persist progress into. The
	// engine never interprets its contents except for the "failure" key
	// holding the last diagnosed failure payload, and the transient pause
	// keys stripped on resume.
	State map[string]any `json:"state"`

	// CurrentStep is the workflow's own notion of where it is.
	CurrentStep string `json:"current_step"`

	// StopRequested is the cooperative cancellation flag, independent of
	// status. Set by StopFlow, cleared by ResumeFlow.
	StopRequested bool `json:"stop_requested"`

	// ErrorMessage is set when the run fails and cleared on resume.
	ErrorMessage *string `json:"error_message,omitempty"`

	// Metadata is caller-supplied and never mutated by the engine.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StateKeyFailure is the one convention-typed key in RunRecord.State the
// engine itself reads and writes: the last diagnosed failure payload.
const StateKeyFailure = "failure"

// StateKeyReasonSummary holds the rendered one-line failure summary next to
// the structured payload. Stripped on resume together with "failure".
const StateKeyReasonSummary = "reason_summary"

// Artifact is a pointer to a file produced by a run, stored under the run's
// artifacts directory.
type Artifact struct {
	RunID    string         `json:"run_id"`
	Kind     string         `json:"kind"`
	Path     string         `json:"path"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CloneState returns a deep-enough copy of a state map for callers that
// mutate it before writing back. Nested maps are copied one level deep,
// which covers every key the engine itself touches.
func CloneState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		if m, ok := v.(map[string]any); ok {
			inner := make(map[string]any, len(m))
			for ik, iv := range m {
				inner[ik] = iv
			}
			out[k] = inner
			continue
		}
		out[k] = v
	}
	return out
}
