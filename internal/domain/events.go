package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for run events.
const (
	EventTypeRunRequested      = "run.requested"
	EventTypeRunStarted        = "run.started"
	EventTypeRunPhaseCompleted = "run.phase_completed"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunFailed         = "run.failed"
)

// RunEvent is the envelope published for every run lifecycle change.
type RunEvent struct {
	EventID      string          `json:"event_id"`
	EventVersion int             `json:"event_version"`
	EventType    string          `json:"event_type"`
	RunID        uuid.UUID       `json:"run_id"`
	UserID       string          `json:"user_id,omitempty"`
	Source       string          `json:"source"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewRunEvent creates an event for runID. The payload is JSON-serialized.
func NewRunEvent(eventType string, runID uuid.UUID, userID string, payload interface{}) (*RunEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &RunEvent{
		EventID:      uuid.New().String(),
		EventVersion: 1,
		EventType:    eventType,
		RunID:        runID,
		UserID:       userID,
		Payload:      raw,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// DecodePayload unmarshals the event payload into v.
func (e *RunEvent) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return NewValidationError("payload", "event has no payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// RunRequestedPayload is the payload for run.requested events. Config holds
// a JSON-encoded PipelineConfig.
type RunRequestedPayload struct {
	Config json.RawMessage `json:"config"`
}

// RunStartedPayload is the payload for run.started events.
type RunStartedPayload struct {
	Phases []string `json:"phases"`
}

// RunPhaseCompletedPayload is the payload for run.phase_completed events.
type RunPhaseCompletedPayload struct {
	Phase    PhaseRecord `json:"phase"`
	Index    int         `json:"index"`
	Total    int         `json:"total"`
	Progress float64     `json:"progress"`
}

// RunFinishedPayload is the payload for run.completed and run.failed events.
type RunFinishedPayload struct {
	Status         RunStatus     `json:"status"`
	PhasesExecuted []string      `json:"phases_executed"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}
