package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// MetadataFileName is the spawn metadata file inside a run's artifacts
// directory.
const MetadataFileName = "worker.json"

// Metadata identifies the worker process that owns a run: PID plus the
// process start time, which together survive PID reuse.
type Metadata struct {
	PID int `json:"pid"`

	// StartTimeMS is the process creation time in Unix milliseconds, the
	// identity fingerprint a bare PID lacks.
	StartTimeMS int64 `json:"start_time_ms"`

	Hostname   string    `json:"hostname,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MetadataPath returns the spawn metadata file path for an artifacts dir.
func MetadataPath(artifactsDir string) string {
	return filepath.Join(artifactsDir, MetadataFileName)
}

// RecordMetadata captures the identity of the given PID and writes it to
// the run's artifacts directory. Called by the spawn side right after
// starting a worker.
func RecordMetadata(artifactsDir string, pid int) (*Metadata, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect pid %d: %w", pid, err)
	}
	startMS, err := proc.CreateTime()
	if err != nil {
		return nil, fmt.Errorf("failed to read start time of pid %d: %w", pid, err)
	}
	hostname, _ := os.Hostname()

	meta := &Metadata{
		PID:         pid,
		StartTimeMS: startMS,
		Hostname:    hostname,
		RecordedAt:  time.Now().UTC(),
	}
	if err := WriteMetadata(artifactsDir, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// WriteMetadata persists a metadata record to the artifacts directory.
func WriteMetadata(artifactsDir string, meta *Metadata) error {
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode worker metadata: %w", err)
	}
	if err := os.WriteFile(MetadataPath(artifactsDir), data, 0o644); err != nil {
		return fmt.Errorf("failed to write worker metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the spawn metadata record, returning (nil, nil) when
// no record exists.
func ReadMetadata(artifactsDir string) (*Metadata, error) {
	data, err := os.ReadFile(MetadataPath(artifactsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read worker metadata: %w", err)
	}
	meta := &Metadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to decode worker metadata: %w", err)
	}
	return meta, nil
}

// ClearMetadata removes the spawn metadata record so a future spawn does
// not collide with a stale one. Removing a missing file is not an error.
func ClearMetadata(artifactsDir string) error {
	err := os.Remove(MetadataPath(artifactsDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear worker metadata: %w", err)
	}
	return nil
}
