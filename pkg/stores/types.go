package stores

import (
	"context"
	"time"

	"github.com/flowmill/flowmill/pkg/flow"
)

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file path. Use WorkspacePath to derive it from a
	// workspace root.
	Path string

	// Durable selects fsync-on-commit (synchronous=FULL) when true, relaxed
	// durability (synchronous=NORMAL) when false.
	Durable bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ListFilter narrows ListFlowRuns. Zero values match everything.
type ListFilter struct {
	FlowType string
	Status   flow.RunStatus
}

// updatePatch accumulates the fields an UpdateFlowRunStatus call touches.
// Absent fields are left untouched; ClearX options set NULL explicitly.
type updatePatch struct {
	state    map[string]any
	stateSet bool

	currentStep string
	stepSet     bool

	startedAt  *time.Time
	startedSet bool

	finishedAt  *time.Time
	finishedSet bool

	errorMessage *string
	errorSet     bool
}

// UpdateOption selects which run fields an UpdateFlowRunStatus call writes
// besides the status itself.
type UpdateOption func(*updatePatch)

// WithState replaces the run's state map.
func WithState(state map[string]any) UpdateOption {
	return func(p *updatePatch) {
		p.state = state
		p.stateSet = true
	}
}

// WithCurrentStep sets the run's current step.
func WithCurrentStep(step string) UpdateOption {
	return func(p *updatePatch) {
		p.currentStep = step
		p.stepSet = true
	}
}

// WithStartedAt sets the run's started_at timestamp.
func WithStartedAt(t time.Time) UpdateOption {
	return func(p *updatePatch) {
		p.startedAt = &t
		p.startedSet = true
	}
}

// WithFinishedAt sets the run's finished_at timestamp.
func WithFinishedAt(t time.Time) UpdateOption {
	return func(p *updatePatch) {
		p.finishedAt = &t
		p.finishedSet = true
	}
}

// ClearFinishedAt explicitly nulls the run's finished_at timestamp.
func ClearFinishedAt() UpdateOption {
	return func(p *updatePatch) {
		p.finishedAt = nil
		p.finishedSet = true
	}
}

// WithErrorMessage sets the run's error message.
func WithErrorMessage(msg string) UpdateOption {
	return func(p *updatePatch) {
		p.errorMessage = &msg
		p.errorSet = true
	}
}

// ClearErrorMessage explicitly nulls the run's error message.
func ClearErrorMessage() UpdateOption {
	return func(p *updatePatch) {
		p.errorMessage = nil
		p.errorSet = true
	}
}

// Store defines the persistence contract for flow runs, events and
// artifacts. Lookup and update methods return (nil, nil) when the run id
// is unknown; translating that into a NotFound error is the caller's
// concern.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Run operations
	CreateFlowRun(ctx context.Context, rec *flow.RunRecord) error
	GetFlowRun(ctx context.Context, id string) (*flow.RunRecord, error)
	UpdateFlowRunStatus(ctx context.Context, id string, status flow.RunStatus, opts ...UpdateOption) (*flow.RunRecord, error)
	// TransitionFlowRunStatus is the compare-and-set form: the write lands
	// only if the run's status still equals from, and (nil, nil) reports a
	// missed guard as well as a missing run.
	TransitionFlowRunStatus(ctx context.Context, id string, from, to flow.RunStatus, opts ...UpdateOption) (*flow.RunRecord, error)
	SetStopRequested(ctx context.Context, id string, requested bool) (*flow.RunRecord, error)
	ListFlowRuns(ctx context.Context, filter ListFilter) ([]*flow.RunRecord, error)

	// Event operations. Seq assignment is the store's alone.
	AppendEvent(ctx context.Context, runID string, eventType flow.EventType, stepID string, data map[string]any) (*flow.Event, error)
	GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]*flow.Event, error)
	GetEventsByType(ctx context.Context, runID string, types []flow.EventType, limit int) ([]*flow.Event, error)
	GetRecentEvents(ctx context.Context, runID string, limit int) ([]*flow.Event, error)
	GetLastEventSeqByTypes(ctx context.Context, runID string, types []flow.EventType) (int64, error)
	GetLastEventMeta(ctx context.Context, runID string) (int64, time.Time, error)

	// Artifact operations
	RecordArtifact(ctx context.Context, artifact *flow.Artifact) error
	GetArtifacts(ctx context.Context, runID string) ([]*flow.Artifact, error)
}
