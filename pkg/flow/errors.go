package flow

import (
	"errors"
	"fmt"
)

// ErrorClass classifies engine errors for the caller's handling logic.
type ErrorClass string

const (
	// ErrorClassNotFound indicates the run id is unknown. Never retried.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassAlreadyExists indicates a run id collision at creation.
	ErrorClassAlreadyExists ErrorClass = "already_exists"

	// ErrorClassAlreadyActive indicates a resume was attempted on a run that
	// is still running.
	ErrorClassAlreadyActive ErrorClass = "already_active"

	// ErrorClassResumeBlocked indicates the resume guard refused. Recoverable
	// by the caller supplying force.
	ErrorClassResumeBlocked ErrorClass = "resume_blocked"

	// ErrorClassLockContention indicates another process holds the per-run
	// advisory lock. Callers back off and retry later.
	ErrorClassLockContention ErrorClass = "lock_contention"

	// ErrorClassInternal indicates an unexpected store or I/O failure.
	ErrorClassInternal ErrorClass = "internal"
)

// FlowError is a classified error with run context.
type FlowError struct {
	Class   ErrorClass
	Message string
	RunID   string
	Err     error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("[%s] %s (run=%s)%s", e.Class, e.Message, e.RunID, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is matches FlowErrors by class so callers can compare against the
// class sentinels below with errors.Is.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// Class sentinels for errors.Is checks.
var (
	ErrNotFound       = &FlowError{Class: ErrorClassNotFound}
	ErrAlreadyExists  = &FlowError{Class: ErrorClassAlreadyExists}
	ErrAlreadyActive  = &FlowError{Class: ErrorClassAlreadyActive}
	ErrResumeBlocked  = &FlowError{Class: ErrorClassResumeBlocked}
	ErrLockContention = &FlowError{Class: ErrorClassLockContention}
)

// NewNotFound creates a not-found error for the given run id.
func NewNotFound(runID string) *FlowError {
	return &FlowError{Class: ErrorClassNotFound, Message: "flow run not found", RunID: runID}
}

// NewAlreadyExists creates an id-collision error for the given run id.
func NewAlreadyExists(runID string) *FlowError {
	return &FlowError{Class: ErrorClassAlreadyExists, Message: "flow run already exists", RunID: runID}
}

// NewAlreadyActive creates an already-active error for the given run id.
func NewAlreadyActive(runID string) *FlowError {
	return &FlowError{Class: ErrorClassAlreadyActive, Message: "flow run is already running", RunID: runID}
}

// NewResumeBlocked creates a resume-guard refusal with a human-readable
// reason.
func NewResumeBlocked(runID, reason string) *FlowError {
	return &FlowError{Class: ErrorClassResumeBlocked, Message: reason, RunID: runID}
}

// NewInternal wraps an unexpected store or I/O failure.
func NewInternal(message string, err error) *FlowError {
	return &FlowError{Class: ErrorClassInternal, Message: message, Err: err}
}

// IsNotFound returns true if err is a not-found flow error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsResumeBlocked returns true if err is a resume-guard refusal.
func IsResumeBlocked(err error) bool { return errors.Is(err, ErrResumeBlocked) }
