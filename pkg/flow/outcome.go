package flow

// OutcomeKind discriminates the StepOutcome tagged union.
type OutcomeKind string

const (
	OutcomeContinue OutcomeKind = "continue"
	OutcomeComplete OutcomeKind = "complete"
	OutcomeFail     OutcomeKind = "fail"
	OutcomePause    OutcomeKind = "pause"
	OutcomeStop     OutcomeKind = "stop"
)

// StepOutcome is the tagged result a step function returns. Construct it
// with one of ContinueTo, Complete, Fail, Pause or Stop; the zero value is
// invalid.
type StepOutcome struct {
	kind      OutcomeKind
	nextSteps []string
	output    map[string]any
	err       error
}

// ContinueTo keeps the run in status running and advances it to the first
// of nextSteps. The full list is recorded so consumers can see planned
// branches.
func ContinueTo(nextSteps []string, output map[string]any) StepOutcome {
	return StepOutcome{kind: OutcomeContinue, nextSteps: nextSteps, output: output}
}

// Complete finishes the run with status completed.
func Complete(output map[string]any) StepOutcome {
	return StepOutcome{kind: OutcomeComplete, output: output}
}

// Fail finishes the run with status failed and the given error recorded.
func Fail(err error) StepOutcome {
	return StepOutcome{kind: OutcomeFail, err: err}
}

// Pause suspends the run with status paused until it is resumed.
func Pause(output map[string]any) StepOutcome {
	return StepOutcome{kind: OutcomePause, output: output}
}

// Stop finishes the run with status stopped, typically after the step
// observed a stop request mid-flight.
func Stop(output map[string]any) StepOutcome {
	return StepOutcome{kind: OutcomeStop, output: output}
}

// Kind returns the outcome discriminator.
func (o StepOutcome) Kind() OutcomeKind { return o.kind }

// NextSteps returns the steps a continue outcome advances to.
func (o StepOutcome) NextSteps() []string { return o.nextSteps }

// Output returns the step's output map, if any.
func (o StepOutcome) Output() map[string]any { return o.output }

// Err returns the failure reported by a fail outcome.
func (o StepOutcome) Err() error { return o.err }
