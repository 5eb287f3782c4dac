package models

import (
	"slices"
	"strings"
	"time"
)

// Facility status values shared by the LCO-style facilities.
const (
	StatusPending             = "PENDING"
	StatusCompleted           = "COMPLETED"
	StatusWindowExpired       = "WINDOW_EXPIRED"
	StatusCanceled            = "CANCELED"
	StatusFailed              = "FAILED"
	StatusFailureLimitReached = "FAILURE_LIMIT_REACHED"
	StatusNotAttempted        = "NOT_ATTEMPTED"
)

// StatusVocabulary is the facility-defined set of terminal statuses.
type StatusVocabulary struct {
	Successful []string
	Failed     []string
}

// DefaultVocabulary is the status vocabulary of the LCO observation portal.
var DefaultVocabulary = StatusVocabulary{
	Successful: []string{StatusCompleted},
	Failed: []string{
		StatusWindowExpired,
		StatusCanceled,
		StatusFailureLimitReached,
		StatusNotAttempted,
		StatusFailed,
	},
}

// IsTerminal reports whether status will not progress any further.
func (v StatusVocabulary) IsTerminal(status string) bool {
	return v.IsSuccessful(status) || v.IsFailed(status)
}

// IsSuccessful reports whether status is a successful terminal status.
func (v StatusVocabulary) IsSuccessful(status string) bool {
	return slices.Contains(v.Successful, normalizeStatus(status))
}

// IsFailed reports whether status is an unsuccessful terminal status.
func (v StatusVocabulary) IsFailed(status string) bool {
	return slices.Contains(v.Failed, normalizeStatus(status))
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ObservationRecord is one request submitted to, and tracked at, a facility.
type ObservationRecord struct {
	ID             int64      `json:"id"`
	ObservationID  string     `json:"observation_id"`
	GroupID        int64      `json:"observation_group_id"`
	TargetID       int64      `json:"target_id,omitempty"`
	TargetName     string     `json:"target_name,omitempty"`
	Facility       string     `json:"facility"`
	Parameters     Payload    `json:"parameters"`
	Status         string     `json:"status"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the record reached a terminal status of v.
func (r ObservationRecord) Terminal(v StatusVocabulary) bool {
	return v.IsTerminal(r.Status)
}

// Failed reports whether the record is terminal and unsuccessful.
func (r ObservationRecord) Failed(v StatusVocabulary) bool {
	return v.IsFailed(r.Status)
}

// ObservationStatus is the facility view of a submitted observation.
type ObservationStatus struct {
	State          string
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
}
