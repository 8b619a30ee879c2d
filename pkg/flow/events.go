package flow

import (
	"fmt"
	"time"
)

// EventType identifies the kind of event appended to a run's event log.
type EventType string

const (
	EventStepStarted   EventType = "step_started"
	EventStepProgress  EventType = "step_progress"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"

	// EventAgentStreamDelta carries incremental agent output bridged from a
	// backend session. The engine only stores it.
	EventAgentStreamDelta EventType = "agent_stream_delta"

	// EventAppServerEvent carries a raw event forwarded from an app-server
	// protocol client.
	EventAppServerEvent EventType = "app_server_event"

	// EventTokenUsage records token accounting reported by an agent backend.
	EventTokenUsage EventType = "token_usage"

	EventFlowStarted   EventType = "flow_started"
	EventFlowStopped   EventType = "flow_stopped"
	EventFlowResumed   EventType = "flow_resumed"
	EventFlowCompleted EventType = "flow_completed"
	EventFlowFailed    EventType = "flow_failed"
)

// Validate checks if the event type is valid.
func (t EventType) Validate() error {
	switch t {
	case EventStepStarted, EventStepProgress, EventStepCompleted, EventStepFailed,
		EventAgentStreamDelta, EventAppServerEvent, EventTokenUsage,
		EventFlowStarted, EventFlowStopped, EventFlowResumed,
		EventFlowCompleted, EventFlowFailed:
		return nil
	default:
		return fmt.Errorf("invalid event type: %s", t)
	}
}

// Event is one immutable entry in a run's append-only event log.
//
// Seq is assigned by the store at insert time, strictly monotonically
// increasing and gap-free within a run. It is the only ordering invariant
// consumers may rely on; no ordering exists across runs.
type Event struct {
	RunID     string         `json:"run_id"`
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// LifecycleTransition names the run transitions lifecycle listeners are
// notified of. Unlike EventType these are not all persisted events:
// flow_paused exists only as a notification.
type LifecycleTransition string

const (
	LifecyclePaused    LifecycleTransition = "flow_paused"
	LifecycleCompleted LifecycleTransition = "flow_completed"
	LifecycleFailed    LifecycleTransition = "flow_failed"
	LifecycleStopped   LifecycleTransition = "flow_stopped"
)

// Well-known keys inside Event.Data scanned by failure diagnostics. The
// producers own the interpretation of everything else.
const (
	EventDataCommand  = "command"
	EventDataExitCode = "exit_code"
	EventDataStderr   = "stderr"
	EventDataError    = "error"
)
