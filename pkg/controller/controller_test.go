package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flowmill/flowmill/pkg/fingerprint"
	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/stores"
)

func newTestController(t *testing.T, fp fingerprint.Fingerprinter) (*Controller, *stores.SQLiteStore, string) {
	t.Helper()

	root := t.TempDir()
	store, err := stores.OpenWorkspace(context.Background(), root, false)
	if err != nil {
		t.Fatalf("failed to open workspace store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctrl, err := New(Options{
		Store:              store,
		WorkspaceRoot:      root,
		RepoDir:            root,
		Fingerprinter:      fp,
		StreamPollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return ctrl, store, root
}

// pauseOnceSteps pauses on the first pass through "turn" with a blocking
// reason, and completes on the second.
func pauseOnceSteps() map[string]flow.StepFunc {
	return map[string]flow.StepFunc{
		"turn": func(_ context.Context, rec *flow.RunRecord, _ map[string]any) (flow.StepOutcome, error) {
			if rec.State["asked"] == true {
				return flow.Complete(map[string]any{"answer": 42}), nil
			}
			return flow.Pause(map[string]any{
				"asked": true,
				flow.DefaultHooksNamespace: map[string]any{
					"reason_code": string(flow.BlockingNeedsHumanInput),
					"reason":      "waiting for a human",
				},
			}), nil
		},
	}
}

func registerDefinition(t *testing.T, ctrl *Controller, steps map[string]flow.StepFunc, initial string) *flow.Definition {
	t.Helper()

	def, err := flow.NewDefinition("ticket", initial, steps)
	if err != nil {
		t.Fatalf("failed to build definition: %v", err)
	}
	if err := ctrl.Register(def); err != nil {
		t.Fatalf("failed to register definition: %v", err)
	}
	return def
}

func TestStartFlowCreatesPendingRun(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	rec, err := ctrl.StartFlow(ctx, StartRequest{
		FlowType:  "ticket",
		InputData: map[string]any{"repo": "demo"},
		Metadata:  map[string]any{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated run id")
	}
	if rec.Status != flow.RunStatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if rec.CurrentStep != "turn" {
		t.Fatalf("expected initial step turn, got %q", rec.CurrentStep)
	}
	if info, err := os.Stat(ctrl.ArtifactsDir(rec.ID)); err != nil || !info.IsDir() {
		t.Fatalf("expected artifacts directory to exist: %v", err)
	}
}

func TestStartFlowDuplicateID(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	_, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"})
	if !errors.Is(err, flow.ErrAlreadyExists) {
		t.Fatalf("expected already-exists error, got %v", err)
	}
}

func TestPauseResumeCompleteScenario(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec, err := ctrl.RunFlow(ctx, "r1", nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rec.Status != flow.RunStatusPaused {
		t.Fatalf("expected paused, got %s", rec.Status)
	}

	// Blocking pause with no reply and an unchanged fingerprint.
	_, err = ctrl.ResumeFlow(ctx, "r1", false)
	if !flow.IsResumeBlocked(err) {
		t.Fatalf("expected resume-blocked error, got %v", err)
	}

	rec, err = ctrl.ResumeFlow(ctx, "r1", true)
	if err != nil {
		t.Fatalf("forced resume failed: %v", err)
	}
	if rec.Status != flow.RunStatusRunning {
		t.Fatalf("expected running after resume, got %s", rec.Status)
	}
	if rec.StopRequested {
		t.Fatal("resume must clear stop_requested")
	}
	nested, _ := rec.State[flow.DefaultHooksNamespace].(map[string]any)
	if _, ok := nested["reason_code"]; ok {
		t.Fatal("resume must strip the pause reason code")
	}

	rec, err = ctrl.RunFlow(ctx, "r1", nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if rec.Status != flow.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.FinishedAt == nil {
		t.Fatal("expected finished_at on the completed run")
	}
}

func TestResumeUnblockedByReplyMarker(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := ctrl.RunFlow(ctx, "r1", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	marker := filepath.Join(ctrl.ArtifactsDir("r1"), ReplyMarkerName)
	if err := os.WriteFile(marker, []byte("reply"), 0o644); err != nil {
		t.Fatalf("failed to write reply marker: %v", err)
	}

	rec, err := ctrl.ResumeFlow(ctx, "r1", false)
	if err != nil {
		t.Fatalf("resume with reply marker failed: %v", err)
	}
	if rec.Status != flow.RunStatusRunning {
		t.Fatalf("expected running, got %s", rec.Status)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("resume must consume the reply marker")
	}
}

func TestResumeUnblockedByFingerprintChange(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("after"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := ctrl.RunFlow(ctx, "r1", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Simulate a workspace that changed since the pause was recorded.
	fpPath := filepath.Join(ctrl.ArtifactsDir("r1"), pauseFingerprintName)
	if err := os.WriteFile(fpPath, []byte("before"), 0o644); err != nil {
		t.Fatalf("failed to seed pause fingerprint: %v", err)
	}

	if _, err := ctrl.ResumeFlow(ctx, "r1", false); err != nil {
		t.Fatalf("resume after workspace change failed: %v", err)
	}
}

func TestResumeCompletedIsNoOp(t *testing.T) {
	ctrl, store, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, map[string]flow.StepFunc{
		"done": func(_ context.Context, _ *flow.RunRecord, _ map[string]any) (flow.StepOutcome, error) {
			return flow.Complete(nil), nil
		},
	}, "done")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := ctrl.RunFlow(ctx, "r1", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rec, err := ctrl.ResumeFlow(ctx, "r1", false)
	if err != nil {
		t.Fatalf("resume on completed run failed: %v", err)
	}
	if rec.Status != flow.RunStatusCompleted {
		t.Fatalf("expected completed unchanged, got %s", rec.Status)
	}

	// No resume event must have been appended.
	events, err := store.GetEventsByType(ctx, "r1", []flow.EventType{flow.EventFlowResumed}, 0)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(events) != 0 {
		t.Fatal("resume on completed run must not append events")
	}
}

func TestResumeRunningIsAlreadyActive(t *testing.T) {
	ctrl, store, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := store.UpdateFlowRunStatus(ctx, "r1", flow.RunStatusRunning); err != nil {
		t.Fatalf("failed to mark running: %v", err)
	}

	_, err := ctrl.ResumeFlow(ctx, "r1", false)
	if !errors.Is(err, flow.ErrAlreadyActive) {
		t.Fatalf("expected already-active error, got %v", err)
	}
}

func TestStopFlow(t *testing.T) {
	ctrl, store, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	if _, err := ctrl.StopFlow(ctx, "missing"); !flow.IsNotFound(err) {
		t.Fatal("expected not-found error for unknown run")
	}

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := store.UpdateFlowRunStatus(ctx, "r1", flow.RunStatusRunning); err != nil {
		t.Fatalf("failed to mark running: %v", err)
	}

	rec, err := ctrl.StopFlow(ctx, "r1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if rec.Status != flow.RunStatusStopping {
		t.Fatalf("expected stopping, got %s", rec.Status)
	}
	if !rec.StopRequested {
		t.Fatal("expected stop_requested to be set")
	}
}

func TestStreamEventsDrainsFully(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, map[string]flow.StepFunc{
		"first": func(_ context.Context, _ *flow.RunRecord, _ map[string]any) (flow.StepOutcome, error) {
			return flow.ContinueTo([]string{"second"}, nil), nil
		},
		"second": func(_ context.Context, _ *flow.RunRecord, _ map[string]any) (flow.StepOutcome, error) {
			return flow.Complete(nil), nil
		},
	}, "first")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events, err := ctrl.StreamEvents(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	done := make(chan struct{})
	var got []*flow.Event
	go func() {
		defer close(done)
		for e := range events {
			got = append(got, e)
		}
	}()

	if _, err := ctrl.RunFlow(ctx, "r1", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate after the run completed")
	}

	if len(got) == 0 {
		t.Fatal("expected streamed events")
	}
	var lastSeq int64
	for _, e := range got {
		if e.Seq != lastSeq+1 {
			t.Fatalf("expected gap-free seq after %d, got %d", lastSeq, e.Seq)
		}
		lastSeq = e.Seq
	}
	if got[len(got)-1].Type != flow.EventFlowCompleted {
		t.Fatalf("expected the stream to end with flow_completed, got %s", got[len(got)-1].Type)
	}
}

func TestListenersSurvivePanics(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, map[string]flow.StepFunc{
		"done": func(_ context.Context, _ *flow.RunRecord, _ map[string]any) (flow.StepOutcome, error) {
			return flow.Complete(nil), nil
		},
	}, "done")
	ctx := context.Background()

	ctrl.AddEventListener(func(*flow.Event) { panic("listener bug") })
	var eventCount int
	ctrl.AddEventListener(func(*flow.Event) { eventCount++ })

	var transitions []flow.LifecycleTransition
	remove := ctrl.AddLifecycleListener(func(_ *flow.RunRecord, tr flow.LifecycleTransition) {
		transitions = append(transitions, tr)
	})

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := ctrl.RunFlow(ctx, "r1", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if eventCount == 0 {
		t.Fatal("surviving listener must still receive events")
	}
	if len(transitions) != 1 || transitions[0] != flow.LifecycleCompleted {
		t.Fatalf("expected one completed transition, got %v", transitions)
	}

	remove()
	transitions = nil
	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r2", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := ctrl.RunFlow(ctx, "r2", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(transitions) != 0 {
		t.Fatal("removed listener must not be invoked")
	}
}

func TestAwaitReply(t *testing.T) {
	ctrl, _, _ := newTestController(t, fingerprint.Static("fp"))
	registerDefinition(t, ctrl, pauseOnceSteps(), "turn")
	ctx := context.Background()

	if _, err := ctrl.StartFlow(ctx, StartRequest{RunID: "r1", FlowType: "ticket"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		done <- ctrl.AwaitReply(waitCtx, "r1")
	}()

	time.Sleep(50 * time.Millisecond)
	marker := filepath.Join(ctrl.ArtifactsDir("r1"), ReplyMarkerName)
	if err := os.WriteFile(marker, []byte("reply"), 0o644); err != nil {
		t.Fatalf("failed to write reply marker: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("await reply failed: %v", err)
	}
}

// settleAfterReadStore finishes the run from "another process" right after
// the stream's first event read, so the terminal event lands in the window
// between the stream's two store reads.
type settleAfterReadStore struct {
	stores.Store
	once sync.Once
}

func (s *settleAfterReadStore) GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]*flow.Event, error) {
	events, err := s.Store.GetEvents(ctx, runID, afterSeq, limit)
	s.once.Do(func() {
		_, _ = s.Store.AppendEvent(ctx, runID, flow.EventFlowCompleted, "", nil)
		_, _ = s.Store.UpdateFlowRunStatus(ctx, runID, flow.RunStatusCompleted,
			stores.WithFinishedAt(time.Now().UTC()))
	})
	return events, err
}

func TestStreamEventsDeliversEventsLandingWithTerminalStatus(t *testing.T) {
	root := t.TempDir()
	base, err := stores.OpenWorkspace(context.Background(), root, false)
	if err != nil {
		t.Fatalf("failed to open workspace store: %v", err)
	}
	t.Cleanup(func() { _ = base.Close() })
	wrapped := &settleAfterReadStore{Store: base}

	ctrl, err := New(Options{
		Store:              wrapped,
		WorkspaceRoot:      root,
		Fingerprinter:      fingerprint.Static("fp"),
		StreamPollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	ctx := context.Background()

	rec := &flow.RunRecord{
		ID:        "r1",
		FlowType:  "ticket",
		Status:    flow.RunStatusRunning,
		State:     map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
	if err := base.CreateFlowRun(ctx, rec); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	events, err := ctrl.StreamEvents(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var got []*flow.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			got = append(got, e)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate after the run completed")
	}

	if len(got) != 1 || got[0].Type != flow.EventFlowCompleted {
		t.Fatalf("expected the completion event to be streamed, got %v", got)
	}
}

// flakyReadStore fails a fixed number of event reads before recovering.
type flakyReadStore struct {
	stores.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyReadStore) GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]*flow.Event, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.Store.GetEvents(ctx, runID, afterSeq, limit)
}

func TestStreamEventsRetriesAfterReadError(t *testing.T) {
	root := t.TempDir()
	base, err := stores.OpenWorkspace(context.Background(), root, false)
	if err != nil {
		t.Fatalf("failed to open workspace store: %v", err)
	}
	t.Cleanup(func() { _ = base.Close() })
	wrapped := &flakyReadStore{Store: base, failures: 2}

	ctrl, err := New(Options{
		Store:              wrapped,
		WorkspaceRoot:      root,
		Fingerprinter:      fingerprint.Static("fp"),
		StreamPollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	ctx := context.Background()

	rec := &flow.RunRecord{
		ID:        "r1",
		FlowType:  "ticket",
		Status:    flow.RunStatusRunning,
		State:     map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
	if err := base.CreateFlowRun(ctx, rec); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if _, err := base.AppendEvent(ctx, "r1", flow.EventFlowStarted, "", nil); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if _, err := base.AppendEvent(ctx, "r1", flow.EventFlowCompleted, "", nil); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if _, err := base.UpdateFlowRunStatus(ctx, "r1", flow.RunStatusCompleted,
		stores.WithFinishedAt(time.Now().UTC())); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	events, err := ctrl.StreamEvents(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var got []*flow.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			got = append(got, e)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate")
	}

	if len(got) != 2 || got[1].Type != flow.EventFlowCompleted {
		t.Fatalf("expected both events despite transient read errors, got %v", got)
	}
}

// settleOnStopStore completes the run from "another process" in the window
// between the controller's stop-flag write and its status transition.
type settleOnStopStore struct {
	stores.Store
	once sync.Once
}

func (s *settleOnStopStore) SetStopRequested(ctx context.Context, id string, requested bool) (*flow.RunRecord, error) {
	rec, err := s.Store.SetStopRequested(ctx, id, requested)
	s.once.Do(func() {
		_, _ = s.Store.AppendEvent(ctx, id, flow.EventFlowCompleted, "", nil)
		_, _ = s.Store.UpdateFlowRunStatus(ctx, id, flow.RunStatusCompleted,
			stores.WithFinishedAt(time.Now().UTC()))
	})
	return rec, err
}

func TestStopFlowKeepsConcurrentlySettledStatus(t *testing.T) {
	root := t.TempDir()
	base, err := stores.OpenWorkspace(context.Background(), root, false)
	if err != nil {
		t.Fatalf("failed to open workspace store: %v", err)
	}
	t.Cleanup(func() { _ = base.Close() })

	ctrl, err := New(Options{
		Store:         &settleOnStopStore{Store: base},
		WorkspaceRoot: root,
		Fingerprinter: fingerprint.Static("fp"),
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	ctx := context.Background()

	rec := &flow.RunRecord{
		ID:        "r1",
		FlowType:  "ticket",
		Status:    flow.RunStatusRunning,
		State:     map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
	if err := base.CreateFlowRun(ctx, rec); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := ctrl.StopFlow(ctx, "r1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got.Status != flow.RunStatusCompleted {
		t.Fatalf("expected the settled status to be reported, got %s", got.Status)
	}

	stored, err := base.GetFlowRun(ctx, "r1")
	if err != nil || stored == nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if stored.Status != flow.RunStatusCompleted {
		t.Fatalf("terminal status was overwritten: %s", stored.Status)
	}
}

func TestResumeFlowKeepsConcurrentlySettledStatus(t *testing.T) {
	root := t.TempDir()
	base, err := stores.OpenWorkspace(context.Background(), root, false)
	if err != nil {
		t.Fatalf("failed to open workspace store: %v", err)
	}
	t.Cleanup(func() { _ = base.Close() })

	ctrl, err := New(Options{
		Store:         &settleOnStopStore{Store: base},
		WorkspaceRoot: root,
		Fingerprinter: fingerprint.Static("fp"),
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	ctx := context.Background()

	msg := "step failed"
	rec := &flow.RunRecord{
		ID:           "r1",
		FlowType:     "ticket",
		Status:       flow.RunStatusFailed,
		State:        map[string]any{},
		ErrorMessage: &msg,
		CreatedAt:    time.Now().UTC(),
	}
	if err := base.CreateFlowRun(ctx, rec); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := ctrl.ResumeFlow(ctx, "r1", false)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if got.Status != flow.RunStatusCompleted {
		t.Fatalf("expected the settled status to be reported, got %s", got.Status)
	}

	stored, err := base.GetFlowRun(ctx, "r1")
	if err != nil || stored == nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if stored.Status != flow.RunStatusCompleted {
		t.Fatalf("terminal status was overwritten: %s", stored.Status)
	}
	resumed, err := base.GetEventsByType(ctx, "r1", []flow.EventType{flow.EventFlowResumed}, 0)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(resumed) != 0 {
		t.Fatal("no resume event may be appended when the run settled first")
	}
}
