package flow

// BlockingReason is a pause reason that requires an explicit external
// signal (a new human reply or a workspace change) before the controller
// allows a resume without force.
type BlockingReason string

const (
	// BlockingNeedsHumanInput indicates the workflow paused waiting for a
	// human reply.
	BlockingNeedsHumanInput BlockingReason = "needs_human_input"

	// BlockingInfraError indicates the workflow paused after an
	// infrastructure failure a human needs to look at.
	BlockingInfraError BlockingReason = "infra_error"

	// BlockingNoDiffLoop indicates the workflow paused because repeated
	// agent turns produced no changes.
	BlockingNoDiffLoop BlockingReason = "no_diff_loop"

	// BlockingMaxTurns indicates the workflow paused after exhausting its
	// turn budget.
	BlockingMaxTurns BlockingReason = "max_turns"
)

// ResumeHooks lets a Definition describe how its workflow-specific state
// relates to pause and resume, keeping the engine core free of knowledge
// about any particular workflow's state shape.
type ResumeHooks interface {
	// ClassifyPause inspects run state and reports whether the run paused
	// on a blocking condition.
	ClassifyPause(state map[string]any) (BlockingReason, bool)

	// OnResume transforms run state for a successful resume, stripping
	// transient pause bookkeeping. It must not mutate its argument.
	OnResume(state map[string]any) map[string]any
}

// DefaultHooks implements the stock state convention: workflow-specific
// pause bookkeeping lives under state[Namespace] with the keys "reason",
// "reason_details", "reason_code", "pause_context" and a "turns" counter.
type DefaultHooks struct {
	// Namespace is the nested state key holding workflow bookkeeping.
	// Empty means "workflow".
	Namespace string
}

// Keys inside the DefaultHooks namespace.
const (
	hookKeyReason        = "reason"
	hookKeyReasonDetails = "reason_details"
	hookKeyReasonCode    = "reason_code"
	hookKeyPauseContext  = "pause_context"
	hookKeyTurns         = "turns"
)

// DefaultHooksNamespace is the nested state key DefaultHooks reads when no
// namespace is configured.
const DefaultHooksNamespace = "workflow"

func (h DefaultHooks) namespace() string {
	if h.Namespace == "" {
		return DefaultHooksNamespace
	}
	return h.Namespace
}

func (h DefaultHooks) nested(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	m, _ := state[h.namespace()].(map[string]any)
	return m
}

// ClassifyPause reports a blocking reason when the nested reason_code is in
// the blocking set.
func (h DefaultHooks) ClassifyPause(state map[string]any) (BlockingReason, bool) {
	nested := h.nested(state)
	if nested == nil {
		return "", false
	}
	code, _ := nested[hookKeyReasonCode].(string)
	switch BlockingReason(code) {
	case BlockingNeedsHumanInput, BlockingInfraError, BlockingNoDiffLoop, BlockingMaxTurns:
		return BlockingReason(code), true
	}
	return "", false
}

// OnResume strips the transient pause keys from the nested namespace and
// the top-level failure payload, and resets the turn counter when the
// pause reason was max_turns.
func (h DefaultHooks) OnResume(state map[string]any) map[string]any {
	out := CloneState(state)
	if out == nil {
		return nil
	}
	delete(out, StateKeyFailure)
	delete(out, StateKeyReasonSummary)

	nested, _ := out[h.namespace()].(map[string]any)
	if nested == nil {
		return out
	}
	code, _ := nested[hookKeyReasonCode].(string)
	delete(nested, hookKeyReason)
	delete(nested, hookKeyReasonDetails)
	delete(nested, hookKeyReasonCode)
	delete(nested, hookKeyPauseContext)
	if BlockingReason(code) == BlockingMaxTurns {
		nested[hookKeyTurns] = 0
	}
	return out
}
