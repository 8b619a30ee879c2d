// Package runtime implements the step-execution loop: it repeatedly asks
// the workflow definition for the current step, executes it, persists the
// outcome through the store, and lands the run on a terminal or paused
// status. Cancellation is cooperative via a StopToken checked between
// steps.
package runtime
