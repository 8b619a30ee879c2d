package reconcile

import (
	"fmt"

	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/worker"
)

// Decision is the outcome of cross-checking one run's status against its
// worker's liveness. The zero value means "leave the run alone".
type Decision struct {
	// Change reports whether the run must be repaired.
	Change bool

	// Status is the new status when Change is set.
	Status flow.RunStatus

	// ErrorMessage is recorded on the run when Change is set.
	ErrorMessage string

	// ClearWorker requests removal of the stale spawn metadata so a future
	// spawn does not collide with it.
	ClearWorker bool

	// Note explains the decision for logs and sweep output.
	Note string
}

// Decide combines a run's recorded status with its worker's liveness and
// returns the repair to apply, if any. It is pure: no I/O, no clock.
//
// A paused run legitimately has no live worker, so only active statuses
// are repaired. A mismatched identity fingerprint means the PID was
// reused by an unrelated process and the original worker is gone.
func Decide(rec *flow.RunRecord, health worker.Health) Decision {
	switch rec.Status {
	case flow.RunStatusRunning, flow.RunStatusStopping:
	case flow.RunStatusPaused:
		return Decision{Note: "paused run needs no live worker"}
	default:
		return Decision{Note: fmt.Sprintf("status %s is not reconciled", rec.Status)}
	}

	switch health.Status {
	case worker.HealthAlive:
		return Decision{Note: "worker alive"}
	case worker.HealthDead:
		return Decision{
			Change:       true,
			Status:       flow.RunStatusFailed,
			ErrorMessage: fmt.Sprintf("worker process died while run was %s: %s", rec.Status, health.Message),
			ClearWorker:  true,
			Note:         "dead worker owned an active run",
		}
	case worker.HealthMismatch:
		return Decision{
			Change:       true,
			Status:       flow.RunStatusFailed,
			ErrorMessage: fmt.Sprintf("worker identity mismatch while run was %s: %s", rec.Status, health.Message),
			ClearWorker:  true,
			Note:         "recorded pid was reused by another process",
		}
	case worker.HealthInvalid:
		return Decision{
			Change:       true,
			Status:       flow.RunStatusFailed,
			ErrorMessage: fmt.Sprintf("no usable worker metadata while run was %s: %s", rec.Status, health.Message),
			ClearWorker:  true,
			Note:         "active run has no provable worker",
		}
	default:
		return Decision{Note: fmt.Sprintf("unknown health status %s", health.Status)}
	}
}
