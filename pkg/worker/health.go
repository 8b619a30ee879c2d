package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// HealthStatus classifies the liveness of a run's recorded worker.
type HealthStatus string

const (
	// HealthAlive means the recorded PID exists and its start time matches
	// the spawn fingerprint.
	HealthAlive HealthStatus = "alive"

	// HealthDead means the recorded PID no longer exists.
	HealthDead HealthStatus = "dead"

	// HealthInvalid means no usable spawn metadata exists for the run.
	HealthInvalid HealthStatus = "invalid"

	// HealthMismatch means the PID exists but belongs to a different
	// process than the one recorded at spawn time (PID reuse).
	HealthMismatch HealthStatus = "mismatch"
)

// Health is the result of a worker liveness check.
type Health struct {
	Status       HealthStatus
	Message      string
	ArtifactPath string
}

// startTimeToleranceMS absorbs clock granularity differences between the
// recording and checking reads of the process creation time.
const startTimeToleranceMS = 2000

// HealthChecker answers whether the process that owns a run is still
// alive, and whether it is the process recorded at spawn time.
type HealthChecker interface {
	CheckHealth(artifactsDir string) Health
}

// ProcessHealthChecker checks liveness against the OS process table.
type ProcessHealthChecker struct{}

// CheckHealth reads the spawn metadata under artifactsDir and cross-checks
// it against the live process table.
func (ProcessHealthChecker) CheckHealth(artifactsDir string) Health {
	path := MetadataPath(artifactsDir)

	meta, err := ReadMetadata(artifactsDir)
	if err != nil {
		return Health{Status: HealthInvalid, Message: err.Error(), ArtifactPath: path}
	}
	if meta == nil {
		return Health{Status: HealthInvalid, Message: "no worker metadata recorded", ArtifactPath: path}
	}
	if meta.PID <= 0 {
		return Health{Status: HealthInvalid, Message: fmt.Sprintf("invalid pid %d in worker metadata", meta.PID), ArtifactPath: path}
	}

	proc, err := process.NewProcess(int32(meta.PID))
	if err != nil {
		return Health{Status: HealthDead, Message: fmt.Sprintf("pid %d not found", meta.PID), ArtifactPath: path}
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return Health{Status: HealthDead, Message: fmt.Sprintf("pid %d is not running", meta.PID), ArtifactPath: path}
	}

	startMS, err := proc.CreateTime()
	if err != nil {
		return Health{Status: HealthDead, Message: fmt.Sprintf("pid %d start time unreadable", meta.PID), ArtifactPath: path}
	}
	delta := startMS - meta.StartTimeMS
	if delta < 0 {
		delta = -delta
	}
	if delta > startTimeToleranceMS {
		return Health{
			Status:       HealthMismatch,
			Message:      fmt.Sprintf("pid %d start time %d does not match recorded %d", meta.PID, startMS, meta.StartTimeMS),
			ArtifactPath: path,
		}
	}

	return Health{Status: HealthAlive, ArtifactPath: path}
}
