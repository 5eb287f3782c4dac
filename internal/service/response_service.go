package service

import (
	"time"

	"cadence_scheduler/internal/models"
)

// CadenceInput creates a cadence together with its observation group.
type CadenceInput struct {
	Strategy   string
	GroupName  string
	Parameters models.CadenceParameters
	Active     bool
}

// CadenceUpdate changes a cadence. Nil fields are left untouched.
type CadenceUpdate struct {
	Parameters models.CadenceParameters
	Active     *bool
}

// CadenceListFilter narrows Cadences.List. Empty fields match everything.
type CadenceListFilter struct {
	Strategy string
	Active   *bool
}

// TargetListFilter narrows Targets.ListTargets.
type TargetListFilter struct {
	InSeason bool // only targets observable in the current month
}

// LogFilter supports history filtering by time range, type and cadence.
type LogFilter struct {
	From      time.Time // inclusive; zero means no lower bound
	To        time.Time // inclusive; zero means no upper bound
	Type      string    // "", "IDLE", "SUBMITTED", "SKIPPED", "CONFIG_ERROR", ...
	CadenceID int64     // 0 means every cadence
}

// TickResult is the outcome of one cadence tick, as recorded in the event log.
type TickResult struct {
	CadenceID int64                      `json:"cadence_id"`
	Event     models.CadenceEvent        `json:"event"`
	Submitted []models.ObservationRecord `json:"submitted,omitempty"`
}

// SweepReport summarises one pass over the active cadences.
type SweepReport struct {
	StartedAt time.Time      `json:"started_at"`
	Results   []TickResult   `json:"results"`
	Counts    map[string]int `json:"counts"`
}

// FilterStatus is the calibration freshness of one filter or filter set.
type FilterStatus struct {
	Name    string   `json:"name"`
	Filters []string `json:"filters"`
	Age     *int     `json:"age_days"`
	MaxAge  int      `json:"max_age"`
	Overdue bool     `json:"overdue"`
}

// InstrumentStatus lists the freshness of every filter and filter set of an instrument.
type InstrumentStatus struct {
	Instrument models.Instrument `json:"instrument"`
	Filters    []FilterStatus    `json:"filters"`
	FilterSets []FilterStatus    `json:"filter_sets"`
}

// SyncReport summarises an instrument sync from ConfigDB.
type SyncReport struct {
	Synced  []string `json:"synced"`
	Skipped int      `json:"skipped_spectrographs"`
}
