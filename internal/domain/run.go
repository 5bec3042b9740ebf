package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle states of a pipeline run.
// These values must match the database check constraint on pipeline_runs.status.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// IsValid reports whether s is a known status.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// PhaseRecord is the persisted outcome of one executed phase.
type PhaseRecord struct {
	Name      string        `json:"name"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// PipelineRun is the persisted record of one pipeline execution.
type PipelineRun struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id,omitempty"`
	Status       RunStatus       `json:"status"`
	Config       json.RawMessage `json:"config"`
	Phases       []PhaseRecord   `json:"phases"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Duration returns the wall time of the run, or zero if it has not finished.
func (r *PipelineRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// RunFilter narrows run listings.
type RunFilter struct {
	UserID string
	Status []RunStatus
	Limit  int
	Offset int
}

// Validate applies default pagination and rejects invalid values.
func (f *RunFilter) Validate() error {
	if f.Limit < 0 {
		return NewValidationError("limit", "must be non-negative")
	}
	if f.Limit == 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		return NewValidationError("offset", "must be non-negative")
	}
	return nil
}
