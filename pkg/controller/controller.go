package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmill/flowmill/pkg/fingerprint"
	"github.com/flowmill/flowmill/pkg/flow"
	"github.com/flowmill/flowmill/pkg/runtime"
	"github.com/flowmill/flowmill/pkg/stores"
	"github.com/flowmill/flowmill/pkg/telemetry"
	"github.com/flowmill/flowmill/pkg/worker"
)

const (
	// ReplyMarkerName is the file a collaborator drops into a run's
	// artifacts directory to signal a new human reply since the pause.
	ReplyMarkerName = "reply.new"

	// pauseFingerprintName holds the workspace fingerprint captured when
	// the run paused, for the resume guard's change detection.
	pauseFingerprintName = "pause.fingerprint"

	defaultStreamPollInterval = 200 * time.Millisecond
)

// Options configures a Controller.
type Options struct {
	// Store is the workspace's run store. Required.
	Store stores.Store

	// WorkspaceRoot is the managed workspace directory. Required; artifacts
	// directories are created under it.
	WorkspaceRoot string

	// RepoDir is the directory the resume guard fingerprints for change
	// detection. Empty disables fingerprint comparison.
	RepoDir string

	Logger        *telemetry.Logger
	Metrics       *telemetry.Metrics
	Fingerprinter fingerprint.Fingerprinter

	// StreamPollInterval overrides the event stream poll interval.
	StreamPollInterval time.Duration
}

// Controller exposes the run lifecycle operations. Multi-step operations
// are serialized behind an in-process mutex; cross-process races are
// resolved by the store's transactional guarantees.
type Controller struct {
	store         stores.Store
	workspaceRoot string
	repoDir       string
	log           *telemetry.Logger
	metrics       *telemetry.Metrics
	fp            fingerprint.Fingerprinter
	pollInterval  time.Duration

	mu   sync.Mutex
	defs map[string]*flow.Definition

	listenersMu        sync.Mutex
	nextListenerID     int
	eventListeners     map[int]EventListener
	lifecycleListeners map[int]LifecycleListener
}

// EventListener receives every event the controller's in-process runs
// persist.
type EventListener func(e *flow.Event)

// LifecycleListener receives paused/completed/failed/stopped transitions.
type LifecycleListener func(rec *flow.RunRecord, transition flow.LifecycleTransition)

// New creates a Controller for one workspace.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.WorkspaceRoot == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.Nop()
	}
	fp := opts.Fingerprinter
	if fp == nil {
		fp = fingerprint.Git{}
	}
	poll := opts.StreamPollInterval
	if poll <= 0 {
		poll = defaultStreamPollInterval
	}
	return &Controller{
		store:              opts.Store,
		workspaceRoot:      opts.WorkspaceRoot,
		repoDir:            opts.RepoDir,
		log:                log.WithComponent("controller"),
		metrics:            opts.Metrics,
		fp:                 fp,
		pollInterval:       poll,
		defs:               map[string]*flow.Definition{},
		eventListeners:     map[int]EventListener{},
		lifecycleListeners: map[int]LifecycleListener{},
	}, nil
}

// Register makes a definition available for StartFlow/RunFlow by its flow
// type. Registering the same flow type twice is an error.
func (c *Controller) Register(def *flow.Definition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[def.FlowType()]; ok {
		return fmt.Errorf("flow type %q already registered", def.FlowType())
	}
	c.defs[def.FlowType()] = def
	return nil
}

func (c *Controller) definition(flowType string) (*flow.Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.defs[flowType]
	if !ok {
		return nil, fmt.Errorf("flow type %q not registered", flowType)
	}
	return def, nil
}

// StartRequest carries the inputs of StartFlow.
type StartRequest struct {
	// RunID is optional; a uuid is generated when empty.
	RunID string

	// FlowType selects the registered definition.
	FlowType string

	// InputData is the run's immutable configuration.
	InputData map[string]any

	// InitialState seeds the run's mutable state.
	InitialState map[string]any

	// Metadata is caller-supplied and stored verbatim.
	Metadata map[string]any
}

// StartFlow creates a run at status pending with the definition's initial
// step, and eagerly creates its artifacts directory. It never executes a
// step; pair it with RunFlow or hand the id to a worker process.
func (c *Controller) StartFlow(ctx context.Context, req StartRequest) (*flow.RunRecord, error) {
	def, err := c.definition(req.FlowType)
	if err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	// The artifacts directory exists before the run does so that step
	// implementations never create their own root.
	dir := c.ArtifactsDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, flow.NewInternal("failed to create artifacts directory", err)
	}

	rec := &flow.RunRecord{
		ID:          runID,
		FlowType:    req.FlowType,
		Status:      flow.RunStatusPending,
		InputData:   req.InputData,
		State:       req.InitialState,
		CurrentStep: def.InitialStep(),
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	c.mu.Lock()
	err = c.store.CreateFlowRun(ctx, rec)
	c.mu.Unlock()
	if errors.Is(err, stores.ErrDuplicateRun) {
		return nil, flow.NewAlreadyExists(runID)
	}
	if err != nil {
		return nil, flow.NewInternal("failed to create flow run", err)
	}

	if c.metrics != nil {
		c.metrics.RecordRunStarted(req.FlowType)
	}
	c.log.WithRunID(runID).WithFlowType(req.FlowType).Info("flow run created")
	return rec, nil
}

// RunFlow executes the run in-process to completion, pause or stop. It
// records this process as the run's worker for the duration, so a
// concurrent reconciler sees a live owner.
func (c *Controller) RunFlow(ctx context.Context, runID string, initialState map[string]any) (*flow.RunRecord, error) {
	rec, err := c.store.GetFlowRun(ctx, runID)
	if err != nil {
		return nil, flow.NewInternal("failed to load flow run", err)
	}
	if rec == nil {
		return nil, flow.NewNotFound(runID)
	}
	def, err := c.definition(rec.FlowType)
	if err != nil {
		return nil, err
	}

	dir := c.ArtifactsDir(runID)
	if _, err := worker.RecordMetadata(dir, os.Getpid()); err != nil {
		c.log.WithRunID(runID).WithError(err).Warn("failed to record worker metadata")
	}
	defer func() {
		if err := worker.ClearMetadata(dir); err != nil {
			c.log.WithRunID(runID).WithError(err).Warn("failed to clear worker metadata")
		}
	}()

	runner := runtime.NewRunner(c.store, def, c.log)
	runner.OnEvent = c.dispatchEvent
	runner.OnLifecycle = func(rec *flow.RunRecord, tr flow.LifecycleTransition) {
		c.onLifecycle(ctx, rec, tr)
	}
	return runner.Run(ctx, runID, initialState)
}

// onLifecycle runs between the runtime's status write and its return: it
// captures the pause-time fingerprint, records metrics and fans out to
// lifecycle listeners.
func (c *Controller) onLifecycle(ctx context.Context, rec *flow.RunRecord, tr flow.LifecycleTransition) {
	if tr == flow.LifecyclePaused {
		c.capturePauseFingerprint(ctx, rec.ID)
	}
	if c.metrics != nil && tr != flow.LifecyclePaused {
		c.metrics.RecordRunFinished(rec.FlowType, string(rec.Status))
	}
	c.dispatchLifecycle(rec, tr)
}

// StopFlow records a cooperative stop request. A running run transitions
// to stopping; the runtime observes the flag between steps and lands on
// stopped.
func (c *Controller) StopFlow(ctx context.Context, runID string) (*flow.RunRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.SetStopRequested(ctx, runID, true)
	if err != nil {
		return nil, flow.NewInternal("failed to set stop flag", err)
	}
	if rec == nil {
		return nil, flow.NewNotFound(runID)
	}
	if rec.Status == flow.RunStatusRunning {
		// Guarded so a worker settling the run in another process cannot
		// have its terminal status overwritten here.
		updated, err := c.store.TransitionFlowRunStatus(ctx, runID, flow.RunStatusRunning, flow.RunStatusStopping)
		if err != nil {
			return nil, flow.NewInternal("failed to mark run stopping", err)
		}
		if updated != nil {
			rec = updated
		} else {
			rec, err = c.store.GetFlowRun(ctx, runID)
			if err != nil || rec == nil {
				return nil, flow.NewInternal("failed to reload flow run", err)
			}
		}
	}
	c.log.WithRunID(runID).Info("stop requested")
	return rec, nil
}

// ResumeFlow clears a run's stop and failure bookkeeping and sets it
// running again. Resuming a completed run is a no-op; resuming a running
// or stopping run fails with AlreadyActive. A paused run whose pause
// reason is blocking is refused unless force is set, a new reply marker
// exists, or the workspace fingerprint changed since the pause.
func (c *Controller) ResumeFlow(ctx context.Context, runID string, force bool) (*flow.RunRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.GetFlowRun(ctx, runID)
	if err != nil {
		return nil, flow.NewInternal("failed to load flow run", err)
	}
	if rec == nil {
		return nil, flow.NewNotFound(runID)
	}
	switch rec.Status {
	case flow.RunStatusCompleted:
		return rec, nil
	case flow.RunStatusRunning, flow.RunStatusStopping:
		return nil, flow.NewAlreadyActive(runID)
	}

	// Without a registered definition (e.g. a CLI resuming another
	// process's run) the stock state convention applies.
	var hooks flow.ResumeHooks = flow.DefaultHooks{}
	if def, ok := c.defs[rec.FlowType]; ok {
		hooks = def.Hooks()
	}

	if rec.Status == flow.RunStatusPaused && !force {
		if reason, blocking := hooks.ClassifyPause(rec.State); blocking {
			if err := c.checkResumeSignals(ctx, runID, reason); err != nil {
				return nil, err
			}
		}
	}

	newState := hooks.OnResume(rec.State)
	if newState == nil {
		newState = map[string]any{}
	}

	if _, err := c.store.SetStopRequested(ctx, runID, false); err != nil {
		return nil, flow.NewInternal("failed to clear stop flag", err)
	}
	// Guarded on the status read above so a concurrent settle is never
	// overwritten; a missed guard reclassifies from the fresh record.
	prev := rec.Status
	rec, err = c.store.TransitionFlowRunStatus(ctx, runID, prev, flow.RunStatusRunning,
		stores.WithState(newState),
		stores.ClearFinishedAt(),
		stores.ClearErrorMessage(),
	)
	if err != nil {
		return nil, flow.NewInternal("failed to resume flow run", err)
	}
	if rec == nil {
		cur, err := c.store.GetFlowRun(ctx, runID)
		if err != nil {
			return nil, flow.NewInternal("failed to reload flow run", err)
		}
		if cur == nil {
			return nil, flow.NewNotFound(runID)
		}
		switch cur.Status {
		case flow.RunStatusCompleted:
			return cur, nil
		case flow.RunStatusRunning, flow.RunStatusStopping:
			return nil, flow.NewAlreadyActive(runID)
		default:
			return nil, flow.NewInternal(fmt.Sprintf("flow run became %s during resume", cur.Status), nil)
		}
	}

	c.consumeResumeSignals(runID)
	if _, err := c.store.AppendEvent(ctx, runID, flow.EventFlowResumed, "",
		map[string]any{"force": force}); err != nil {
		c.log.WithRunID(runID).WithError(err).Warn("failed to append resume event")
	}
	c.log.WithRunID(runID).Info("flow run resumed")
	return rec, nil
}

// checkResumeSignals decides whether a blocking pause may be resumed
// without force: a new reply marker or a changed workspace fingerprint
// unblocks it.
func (c *Controller) checkResumeSignals(ctx context.Context, runID string, reason flow.BlockingReason) error {
	dir := c.ArtifactsDir(runID)

	if _, err := os.Stat(filepath.Join(dir, ReplyMarkerName)); err == nil {
		return nil
	}

	if c.repoDir != "" {
		paused, err := os.ReadFile(filepath.Join(dir, pauseFingerprintName))
		if err == nil && len(paused) > 0 {
			current, err := c.fp.Fingerprint(ctx, c.repoDir)
			if err != nil {
				c.log.WithRunID(runID).WithError(err).Warn("failed to fingerprint workspace")
			} else if current != string(paused) {
				return nil
			}
		}
	}

	return flow.NewResumeBlocked(runID,
		fmt.Sprintf("run paused on %s and nothing changed since; use force to override", reason))
}

func (c *Controller) capturePauseFingerprint(ctx context.Context, runID string) {
	if c.repoDir == "" {
		return
	}
	fp, err := c.fp.Fingerprint(ctx, c.repoDir)
	if err != nil {
		c.log.WithRunID(runID).WithError(err).Warn("failed to fingerprint workspace at pause")
		return
	}
	path := filepath.Join(c.ArtifactsDir(runID), pauseFingerprintName)
	if err := os.WriteFile(path, []byte(fp), 0o644); err != nil {
		c.log.WithRunID(runID).WithError(err).Warn("failed to record pause fingerprint")
	}
}

// consumeResumeSignals removes the reply marker and pause fingerprint so
// they cannot unblock a later, unrelated pause.
func (c *Controller) consumeResumeSignals(runID string) {
	dir := c.ArtifactsDir(runID)
	for _, name := range []string{ReplyMarkerName, pauseFingerprintName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			c.log.WithRunID(runID).WithError(err).Warn("failed to remove resume signal file")
		}
	}
}

// GetStatus returns the run's current record.
func (c *Controller) GetStatus(ctx context.Context, runID string) (*flow.RunRecord, error) {
	rec, err := c.store.GetFlowRun(ctx, runID)
	if err != nil {
		return nil, flow.NewInternal("failed to load flow run", err)
	}
	if rec == nil {
		return nil, flow.NewNotFound(runID)
	}
	return rec, nil
}

// ListRuns lists the workspace's runs newest-first, optionally filtered.
func (c *Controller) ListRuns(ctx context.Context, filter stores.ListFilter) ([]*flow.RunRecord, error) {
	return c.store.ListFlowRuns(ctx, filter)
}

// ArtifactsDir returns the run's artifacts directory path. The directory
// is created at StartFlow time.
func (c *Controller) ArtifactsDir(runID string) string {
	return stores.RunArtifactsDir(c.workspaceRoot, runID)
}

// Artifacts returns the run's registered artifacts.
func (c *Controller) Artifacts(ctx context.Context, runID string) ([]*flow.Artifact, error) {
	return c.store.GetArtifacts(ctx, runID)
}

// RecordArtifact registers a file a step produced under the run.
func (c *Controller) RecordArtifact(ctx context.Context, runID, kind, path string, metadata map[string]any) error {
	return c.store.RecordArtifact(ctx, &flow.Artifact{
		RunID:     runID,
		Kind:      kind,
		Path:      path,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})
}
