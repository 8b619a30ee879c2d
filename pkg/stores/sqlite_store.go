package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/flowmill/flowmill/pkg/flow"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DirName is the per-workspace directory holding the store file and the
// per-run artifacts directories.
const DirName = ".flowd"

// timeLayout is the persisted timestamp format (ISO-8601, UTC).
const timeLayout = time.RFC3339Nano

// ErrDuplicateRun is returned by CreateFlowRun when the run id collides
// with an existing record, including collisions raced from another process.
var ErrDuplicateRun = errors.New("flow run id already exists")

// WorkspacePath returns the store file path for a workspace root.
func WorkspacePath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, DirName, "flowd.db")
}

// RunArtifactsDir returns the artifacts directory for a run. The controller
// creates it eagerly at start time; the spawn metadata file and everything
// steps write live underneath it.
func RunArtifactsDir(workspaceRoot, runID string) string {
	return filepath.Join(workspaceRoot, DirName, "runs", runID)
}

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// OpenWorkspace creates, initializes and migrates the store for a workspace
// root, creating the workspace directory if needed.
func OpenWorkspace(ctx context.Context, workspaceRoot string, durable bool) (*SQLiteStore, error) {
	path := WorkspacePath(workspaceRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}
	store, err := NewSQLiteStore(Config{Path: path, Durable: durable})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init initializes the database connection and enables WAL mode. The file
// may be open in several OS processes at once; busy_timeout plus immediate
// transactions keep cross-process writes serialized.
func (s *SQLiteStore) Init(ctx context.Context) error {
	synchronous := "NORMAL"
	if s.cfg.Durable {
		synchronous = "FULL"
	}
	dsn := fmt.Sprintf("%s?_txlock=immediate"+
		"&_pragma=foreign_keys(1)"+
		"&_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(%s)",
		s.cfg.Path, synchronous)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreateFlowRun creates a new run record. Returns ErrDuplicateRun on id
// collision.
func (s *SQLiteStore) CreateFlowRun(ctx context.Context, rec *flow.RunRecord) error {
	inputJSON, err := marshalMap(rec.InputData)
	if err != nil {
		return fmt.Errorf("failed to encode input data: %w", err)
	}
	stateJSON, err := marshalMap(rec.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	metaJSON, err := marshalMap(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO flow_runs (id, flow_type, status, input_data, state, current_step,
			stop_requested, error_message, metadata, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.FlowType,
		string(rec.Status),
		inputJSON,
		stateJSON,
		rec.CurrentStep,
		boolToInt(rec.StopRequested),
		rec.ErrorMessage,
		metaJSON,
		formatTime(rec.CreatedAt),
		formatTimePtr(rec.StartedAt),
		formatTimePtr(rec.FinishedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateRun
		}
		return fmt.Errorf("failed to create flow run: %w", err)
	}

	return nil
}

const runColumns = `id, flow_type, status, input_data, state, current_step,
	stop_requested, error_message, metadata, created_at, started_at, finished_at`

// GetFlowRun retrieves a run by ID, returning (nil, nil) if absent.
func (s *SQLiteStore) GetFlowRun(ctx context.Context, id string) (*flow.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM flow_runs WHERE id = ?`

	rec, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow run: %w", err)
	}
	return rec, nil
}

// UpdateFlowRunStatus writes a new status plus any fields selected by
// options, and returns the updated record. Fields without an option are
// never altered; ClearFinishedAt/ClearErrorMessage set NULL explicitly.
// Returns (nil, nil) if the run does not exist.
func (s *SQLiteStore) UpdateFlowRunStatus(ctx context.Context, id string, status flow.RunStatus, opts ...UpdateOption) (*flow.RunRecord, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}

	sets, args, err := buildStatusSets(status, opts)
	if err != nil {
		return nil, err
	}
	args = append(args, id)
	query := "UPDATE flow_runs SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update flow run status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return s.GetFlowRun(ctx, id)
}

// TransitionFlowRunStatus writes the new status and optional fields only if
// the run's status still equals from, in a single statement. A concurrent
// writer that settled the run in the meantime makes this a no-op. Returns
// (nil, nil) when the run is missing or the guard did not match; the caller
// re-reads to tell the two apart.
func (s *SQLiteStore) TransitionFlowRunStatus(ctx context.Context, id string, from, to flow.RunStatus, opts ...UpdateOption) (*flow.RunRecord, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}

	sets, args, err := buildStatusSets(to, opts)
	if err != nil {
		return nil, err
	}
	args = append(args, id, string(from))
	query := "UPDATE flow_runs SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition flow run status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return s.GetFlowRun(ctx, id)
}

func buildStatusSets(status flow.RunStatus, opts []UpdateOption) ([]string, []any, error) {
	patch := &updatePatch{}
	for _, opt := range opts {
		opt(patch)
	}

	sets := []string{"status = ?"}
	args := []any{string(status)}

	if patch.stateSet {
		stateJSON, err := marshalMap(patch.state)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode state: %w", err)
		}
		sets = append(sets, "state = ?")
		args = append(args, stateJSON)
	}
	if patch.stepSet {
		sets = append(sets, "current_step = ?")
		args = append(args, patch.currentStep)
	}
	if patch.startedSet {
		sets = append(sets, "started_at = ?")
		args = append(args, formatTimePtr(patch.startedAt))
	}
	if patch.finishedSet {
		sets = append(sets, "finished_at = ?")
		args = append(args, formatTimePtr(patch.finishedAt))
	}
	if patch.errorSet {
		sets = append(sets, "error_message = ?")
		args = append(args, patch.errorMessage)
	}
	return sets, args, nil
}

// SetStopRequested flips the cooperative stop flag and returns the updated
// record, or (nil, nil) if the run does not exist.
func (s *SQLiteStore) SetStopRequested(ctx context.Context, id string, requested bool) (*flow.RunRecord, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE flow_runs SET stop_requested = ? WHERE id = ?`, boolToInt(requested), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set stop_requested: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}
	return s.GetFlowRun(ctx, id)
}

// ListFlowRuns lists runs matching the filter, newest first.
func (s *SQLiteStore) ListFlowRuns(ctx context.Context, filter ListFilter) ([]*flow.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM flow_runs WHERE 1=1`
	args := []any{}

	if filter.FlowType != "" {
		query += " AND flow_type = ?"
		args = append(args, filter.FlowType)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	// rowid reflects insertion order exactly; created_at strings can tie
	// within a millisecond.
	query += " ORDER BY rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow runs: %w", err)
	}
	defer rows.Close()

	runs := []*flow.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flow runs: %w", err)
	}
	return runs, nil
}

// AppendEvent appends an event to the run's log, assigning the next seq
// inside the insert transaction so the sequence stays gap-free under
// concurrent writers.
func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, eventType flow.EventType, stepID string, data map[string]any) (*flow.Event, error) {
	if err := eventType.Validate(); err != nil {
		return nil, err
	}
	dataJSON, err := marshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM flow_events WHERE run_id = ?`, runID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to assign event seq: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO flow_events (run_id, seq, event_type, step_id, data, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, seq, string(eventType), stepID, dataJSON, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event: %w", err)
	}

	return &flow.Event{
		RunID:     runID,
		Seq:       seq,
		Type:      eventType,
		StepID:    stepID,
		Data:      data,
		Timestamp: now,
	}, nil
}

const eventColumns = `run_id, seq, event_type, step_id, data, timestamp`

// GetEvents returns events with seq > afterSeq in seq order, up to limit
// (0 = no limit).
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]*flow.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM flow_events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{runID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// GetEventsByType returns the run's events of the given types in seq
// order, up to limit (0 = no limit).
func (s *SQLiteStore) GetEventsByType(ctx context.Context, runID string, types []flow.EventType, limit int) ([]*flow.Event, error) {
	if len(types) == 0 {
		return []*flow.Event{}, nil
	}
	query := `SELECT ` + eventColumns + ` FROM flow_events WHERE run_id = ? AND event_type IN (` +
		placeholders(len(types)) + `) ORDER BY seq ASC`
	args := []any{runID}
	for _, t := range types {
		args = append(args, string(t))
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// GetRecentEvents returns the newest events first, up to limit. This is the
// tail scan failure diagnostics work from.
func (s *SQLiteStore) GetRecentEvents(ctx context.Context, runID string, limit int) ([]*flow.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + eventColumns + ` FROM flow_events WHERE run_id = ? ORDER BY seq DESC LIMIT ?`
	return s.queryEvents(ctx, query, runID, limit)
}

// GetLastEventSeqByTypes returns the highest seq among events of the given
// types, or 0 when none exist.
func (s *SQLiteStore) GetLastEventSeqByTypes(ctx context.Context, runID string, types []flow.EventType) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	query := `SELECT COALESCE(MAX(seq), 0) FROM flow_events WHERE run_id = ? AND event_type IN (` +
		placeholders(len(types)) + `)`
	args := []any{runID}
	for _, t := range types {
		args = append(args, string(t))
	}
	var seq int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get last event seq: %w", err)
	}
	return seq, nil
}

// GetLastEventMeta returns the seq and timestamp of the run's newest event,
// or (0, zero time) when the log is empty.
func (s *SQLiteStore) GetLastEventMeta(ctx context.Context, runID string) (int64, time.Time, error) {
	var seq int64
	var ts string
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, timestamp FROM flow_events WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID).
		Scan(&seq, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get last event meta: %w", err)
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to parse event timestamp: %w", err)
	}
	return seq, t, nil
}

// RecordArtifact registers an artifact pointer for a run.
func (s *SQLiteStore) RecordArtifact(ctx context.Context, artifact *flow.Artifact) error {
	metaJSON, err := marshalMap(artifact.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode artifact metadata: %w", err)
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_artifacts (run_id, kind, path, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		artifact.RunID, artifact.Kind, artifact.Path, metaJSON, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}
	return nil
}

// GetArtifacts returns the artifacts registered for a run, oldest first.
func (s *SQLiteStore) GetArtifacts(ctx context.Context, runID string) ([]*flow.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, kind, path, metadata, created_at FROM flow_artifacts WHERE run_id = ? ORDER BY id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []*flow.Artifact{}
	for rows.Next() {
		a := &flow.Artifact{}
		var metaJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&a.RunID, &a.Kind, &a.Path, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		if a.Metadata, err = unmarshalMap(metaJSON); err != nil {
			return nil, fmt.Errorf("failed to decode artifact metadata: %w", err)
		}
		if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse artifact timestamp: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}
	return artifacts, nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]*flow.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*flow.Event{}
	for rows.Next() {
		e := &flow.Event{}
		var eventType string
		var dataJSON sql.NullString
		var ts string
		if err := rows.Scan(&e.RunID, &e.Seq, &eventType, &e.StepID, &dataJSON, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = flow.EventType(eventType)
		if e.Data, err = unmarshalMap(dataJSON); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*flow.RunRecord, error) {
	rec := &flow.RunRecord{}
	var status string
	var inputJSON, stateJSON string
	var metaJSON, errMsg sql.NullString
	var stopRequested int
	var createdAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.FlowType,
		&status,
		&inputJSON,
		&stateJSON,
		&rec.CurrentStep,
		&stopRequested,
		&errMsg,
		&metaJSON,
		&createdAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = flow.RunStatus(status)
	rec.StopRequested = stopRequested != 0
	if errMsg.Valid {
		rec.ErrorMessage = &errMsg.String
	}
	if rec.InputData, err = unmarshalMap(sql.NullString{String: inputJSON, Valid: true}); err != nil {
		return nil, fmt.Errorf("failed to decode input data: %w", err)
	}
	if rec.State, err = unmarshalMap(sql.NullString{String: stateJSON, Valid: true}); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if rec.Metadata, err = unmarshalMap(metaJSON); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if rec.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	return rec, nil
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{String: "{}", Valid: true}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
