package cadence_scheduler

import (
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/service"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CadenceList is the body of GET /api/v1/cadences.
type CadenceList struct {
	Count    int                     `json:"count"`
	Cadences []models.DynamicCadence `json:"cadences"`
}

// ObservationList is the body of GET /api/v1/cadences/{id}/observations.
type ObservationList struct {
	CadenceID    int64                      `json:"cadence_id"`
	Count        int                        `json:"count"`
	Observations []models.ObservationRecord `json:"observations"`
}

// RunResponse is the body of POST /api/v1/cadences/{id}/run.
type RunResponse struct {
	Status string             `json:"status"`
	Result service.TickResult `json:"result"`
}

// InstrumentList is the body of GET /api/v1/instruments.
type InstrumentList struct {
	Count       int                 `json:"count"`
	Instruments []models.Instrument `json:"instruments"`
}

// TargetList is the body of GET /api/v1/targets.
type TargetList struct {
	Count   int             `json:"count"`
	Targets []models.Target `json:"targets"`
}

// EventList is the body of GET /api/v1/logs.
type EventList struct {
	Count  int                   `json:"count"`
	Events []models.CadenceEvent `json:"events"`
}
