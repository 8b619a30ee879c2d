// Package flow defines the persisted vocabulary of the Flowmill engine:
// run records, the append-only event log, artifacts, the run status state
// machine, the step-outcome contract that workflow definitions implement,
// and the classified error taxonomy shared by the controller, runtime and
// reconciler.
//
// The engine is deliberately ignorant of what a workflow does. It knows
// runs, steps, events and statuses; everything else (tickets, agent turns,
// pull requests) lives in the opaque input, state and metadata maps.
package flow
