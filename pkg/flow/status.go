package flow

import "fmt"

// RunStatus represents the lifecycle status of a flow run.
//
// Transitions: pending -> running -> {paused, stopping, completed, failed,
// stopped}; stopping -> stopped; paused -> running (resume). A terminal run
// never transitions again.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but no step has
	// executed yet.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates a worker is actively executing steps.
	RunStatusRunning RunStatus = "running"

	// RunStatusPaused indicates the run suspended itself and is waiting for
	// an external signal (typically human input) before it can continue.
	RunStatusPaused RunStatus = "paused"

	// RunStatusStopping indicates a stop was requested while the run was
	// running; the worker is expected to land on stopped cooperatively.
	RunStatusStopping RunStatus = "stopping"

	// RunStatusCompleted indicates the run finished successfully.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed indicates the run finished with an error, either
	// reported by a step or diagnosed after a worker crash.
	RunStatusFailed RunStatus = "failed"

	// RunStatusStopped indicates the run was stopped on request.
	RunStatusStopped RunStatus = "stopped"
)

// IsTerminal returns true if the status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusStopped
}

// IsActive returns true if a live worker is expected to own the run.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning || s == RunStatusStopping
}

// IsPaused returns true if the run is suspended waiting for external input.
func (s RunStatus) IsPaused() bool {
	return s == RunStatusPaused
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPaused,
		RunStatusStopping, RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
