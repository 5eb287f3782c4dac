package models

import "time"

// Cadence event types recorded once per scheduler tick.
const (
	EventIdle            = "IDLE"
	EventSubmitted       = "SUBMITTED"
	EventSkipped         = "SKIPPED"
	EventConfigError     = "CONFIG_ERROR"
	EventValidationError = "VALIDATION_ERROR"
	EventSubmissionError = "SUBMISSION_ERROR"
	EventError           = "ERROR"
)

// CadenceEvent is a single entry of the scheduler audit trail.
type CadenceEvent struct {
	EventID     string    `json:"event_id"`
	CadenceID   int64     `json:"cadence_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // IDLE | SUBMITTED | SKIPPED | CONFIG_ERROR | VALIDATION_ERROR | SUBMISSION_ERROR | ERROR
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
