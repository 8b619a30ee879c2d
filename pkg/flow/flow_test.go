package flow

import (
	"context"
	"errors"
	"testing"
)

func TestRunStatusClassification(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusStopped}
	active := []RunStatus{RunStatusPending, RunStatusRunning, RunStatusStopping}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.IsActive() {
			t.Errorf("%s should not be active", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.IsActive() {
			t.Errorf("%s should be active", s)
		}
	}
	if !RunStatusPaused.IsPaused() || RunStatusPaused.IsActive() || RunStatusPaused.IsTerminal() {
		t.Error("paused should be paused only")
	}
	if err := RunStatus("bogus").Validate(); err == nil {
		t.Error("expected validation error for bogus status")
	}
}

func TestNewDefinitionRejectsMissingInitialStep(t *testing.T) {
	step := func(ctx context.Context, rec *RunRecord, input map[string]any) (StepOutcome, error) {
		return Complete(nil), nil
	}

	if _, err := NewDefinition("t", "absent", map[string]StepFunc{"present": step}); err == nil {
		t.Fatal("expected error for initial step not in steps")
	}
	if _, err := NewDefinition("t", "present", map[string]StepFunc{"present": step}); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}
	if _, err := NewDefinition("", "present", map[string]StepFunc{"present": step}); err == nil {
		t.Fatal("expected error for empty flow type")
	}
}

func TestStepOutcomeConstructors(t *testing.T) {
	o := ContinueTo([]string{"a", "b"}, map[string]any{"k": 1})
	if o.Kind() != OutcomeContinue || len(o.NextSteps()) != 2 {
		t.Errorf("unexpected continue outcome: %+v", o)
	}
	if Complete(nil).Kind() != OutcomeComplete {
		t.Error("complete kind mismatch")
	}
	failErr := errors.New("boom")
	if f := Fail(failErr); f.Kind() != OutcomeFail || f.Err() != failErr {
		t.Error("fail outcome mismatch")
	}
	if Pause(nil).Kind() != OutcomePause {
		t.Error("pause kind mismatch")
	}
	if Stop(nil).Kind() != OutcomeStop {
		t.Error("stop kind mismatch")
	}
}

func TestFlowErrorClassMatching(t *testing.T) {
	err := NewNotFound("r1")
	if !errors.Is(err, ErrNotFound) {
		t.Error("NewNotFound should match ErrNotFound")
	}
	if errors.Is(err, ErrAlreadyExists) {
		t.Error("NewNotFound should not match ErrAlreadyExists")
	}
	if !IsResumeBlocked(NewResumeBlocked("r1", "waiting on a reply")) {
		t.Error("IsResumeBlocked mismatch")
	}

	wrapped := NewInternal("store write", errors.New("disk full"))
	if wrapped.Unwrap() == nil {
		t.Error("internal error should unwrap")
	}
}

func TestDefaultHooksClassifyPause(t *testing.T) {
	hooks := DefaultHooks{}

	tests := []struct {
		name     string
		state    map[string]any
		want     BlockingReason
		blocking bool
	}{
		{"nil state", nil, "", false},
		{"no namespace", map[string]any{"x": 1}, "", false},
		{
			"blocking code",
			map[string]any{"workflow": map[string]any{"reason_code": "needs_human_input"}},
			BlockingNeedsHumanInput, true,
		},
		{
			"non-blocking code",
			map[string]any{"workflow": map[string]any{"reason_code": "just_resting"}},
			"", false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := hooks.ClassifyPause(tt.state)
			if ok != tt.blocking || got != tt.want {
				t.Errorf("ClassifyPause() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.blocking)
			}
		})
	}
}

func TestDefaultHooksOnResume(t *testing.T) {
	state := map[string]any{
		StateKeyFailure:       map[string]any{"failed_at": "sometime"},
		StateKeyReasonSummary: "it broke",
		"workflow": map[string]any{
			"reason_code":   "max_turns",
			"reason":        "ran out of turns",
			"pause_context": map[string]any{"turn": 8},
			"turns":         8,
			"progress":      "kept",
		},
		"other": "kept",
	}

	out := DefaultHooks{}.OnResume(state)

	if _, ok := out[StateKeyFailure]; ok {
		t.Error("failure payload not stripped")
	}
	if _, ok := out[StateKeyReasonSummary]; ok {
		t.Error("reason summary not stripped")
	}
	nested := out["workflow"].(map[string]any)
	for _, k := range []string{"reason", "reason_code", "pause_context"} {
		if _, ok := nested[k]; ok {
			t.Errorf("transient key %q not stripped", k)
		}
	}
	if nested["turns"] != 0 {
		t.Errorf("turns = %v, want reset to 0", nested["turns"])
	}
	if nested["progress"] != "kept" || out["other"] != "kept" {
		t.Error("non-transient keys must survive resume")
	}

	// The input state must not be mutated.
	if _, ok := state[StateKeyFailure]; !ok {
		t.Error("OnResume mutated its argument")
	}
}
