package flow

import (
	"context"
	"fmt"
)

// StepFunc is one named unit of work in a Definition. The runtime calls
// exactly one step per scheduling pass. The record is a snapshot; steps
// persist progress only through the returned outcome's output map, which
// the runtime merges into the run state.
type StepFunc func(ctx context.Context, rec *RunRecord, input map[string]any) (StepOutcome, error)

// Definition is the pluggable unit a workflow author implements: a named
// flow type, an initial step, and a map of step functions.
type Definition struct {
	flowType    string
	initialStep string
	steps       map[string]StepFunc
	hooks       ResumeHooks
}

// NewDefinition validates and constructs a Definition. The initial step
// must be present in steps.
func NewDefinition(flowType, initialStep string, steps map[string]StepFunc) (*Definition, error) {
	if flowType == "" {
		return nil, fmt.Errorf("flow type is required")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("definition %q has no steps", flowType)
	}
	if _, ok := steps[initialStep]; !ok {
		return nil, fmt.Errorf("definition %q: initial step %q not in steps", flowType, initialStep)
	}
	return &Definition{
		flowType:    flowType,
		initialStep: initialStep,
		steps:       steps,
		hooks:       DefaultHooks{},
	}, nil
}

// WithHooks overrides the definition's resume hooks. Returns the definition
// for chaining.
func (d *Definition) WithHooks(hooks ResumeHooks) *Definition {
	d.hooks = hooks
	return d
}

// FlowType returns the definition's flow type tag.
func (d *Definition) FlowType() string { return d.flowType }

// InitialStep returns the step new runs start on.
func (d *Definition) InitialStep() string { return d.initialStep }

// Step looks up a step function by name.
func (d *Definition) Step(name string) (StepFunc, bool) {
	fn, ok := d.steps[name]
	return fn, ok
}

// Hooks returns the definition's resume hooks.
func (d *Definition) Hooks() ResumeHooks { return d.hooks }
