package runtime

import (
	"context"

	"github.com/flowmill/flowmill/pkg/stores"
)

// StopToken is the cooperative cancellation signal for a run. It is
// checked by the runner at safe points between steps, and long-running
// steps may poll it themselves via TokenFromContext.
type StopToken struct {
	store stores.Store
	runID string
}

// NewStopToken creates a token backed by the run's persisted
// stop_requested flag.
func NewStopToken(store stores.Store, runID string) *StopToken {
	return &StopToken{store: store, runID: runID}
}

// ShouldStop reports whether the run should stop: the context is done or
// stop_requested has been set, possibly by another process.
func (t *StopToken) ShouldStop(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	rec, err := t.store.GetFlowRun(ctx, t.runID)
	if err != nil || rec == nil {
		return false
	}
	return rec.StopRequested
}

type stopTokenKey struct{}

// WithStopToken attaches the token to a context handed to step functions.
func WithStopToken(ctx context.Context, token *StopToken) context.Context {
	return context.WithValue(ctx, stopTokenKey{}, token)
}

// TokenFromContext retrieves the run's stop token, or nil when the step is
// executed outside the runner.
func TokenFromContext(ctx context.Context) *StopToken {
	token, _ := ctx.Value(stopTokenKey{}).(*StopToken)
	return token
}
