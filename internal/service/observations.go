package service

import (
	"context"

	"cadence_scheduler/internal/cadence"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"
)

type ObservationService struct {
	cadences     repository.CadenceRepo
	observations repository.ObservationRepo
	instruments  repository.InstrumentRepo
	aging        cadence.AgingPolicy
}

func NewObservationService(cadences repository.CadenceRepo, observations repository.ObservationRepo, instruments repository.InstrumentRepo, aging cadence.AgingPolicy) *ObservationService {
	return &ObservationService{cadences: cadences, observations: observations, instruments: instruments, aging: aging}
}

// History returns the records submitted for a cadence, newest first.
func (s *ObservationService) History(ctx context.Context, cadenceID int64) ([]models.ObservationRecord, error) {
	dc, err := s.cadences.Get(ctx, cadenceID)
	if err != nil {
		return nil, err
	}
	return s.observations.History(ctx, dc.GroupID)
}

// FilterStatus reports the age of every filter and filter set of an
// instrument against its max age, across every cadence that observed it.
func (s *ObservationService) FilterStatus(ctx context.Context, instrumentCode string) (InstrumentStatus, error) {
	inst, err := s.instruments.InstrumentByCode(ctx, instrumentCode)
	if err != nil {
		return InstrumentStatus{}, err
	}
	history, err := s.observations.ByInstrument(ctx, inst.Code)
	if err != nil {
		return InstrumentStatus{}, err
	}

	filters := make([]cadence.Candidate, 0, len(inst.Filters))
	for _, f := range inst.Filters {
		filters = append(filters, cadence.FilterCandidate(f))
	}
	sets := make([]cadence.Candidate, 0, len(inst.FilterSets))
	for _, fs := range inst.FilterSets {
		sets = append(sets, cadence.FilterSetCandidate(fs))
	}

	return InstrumentStatus{
		Instrument: inst,
		Filters:    toFilterStatus(s.aging.Ages(filters, inst.Code, history)),
		FilterSets: toFilterStatus(s.aging.Ages(sets, inst.Code, history)),
	}, nil
}

func toFilterStatus(ages []cadence.FilterAge) []FilterStatus {
	out := make([]FilterStatus, 0, len(ages))
	for _, a := range ages {
		out = append(out, FilterStatus{
			Name:    a.Candidate.Name,
			Filters: a.Candidate.Filters,
			Age:     a.Age,
			MaxAge:  a.Candidate.MaxAge,
			Overdue: a.Overdue(),
		})
	}
	return out
}
