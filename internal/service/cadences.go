package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"cadence_scheduler/internal/cadence"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"
)

// DefaultImagerFrequencyHours is the cadence of imager calibrations created by
// InitializeImagerCadences.
const DefaultImagerFrequencyHours = 24

// ErrInvalidInput is wrapped by every rejection of caller-supplied values.
var ErrInvalidInput = errors.New("invalid input")

var (
	errUnknownStrategy  = fmt.Errorf("%w: unknown cadence strategy", ErrInvalidInput)
	errEmptyGroupName   = fmt.Errorf("%w: observation group name is required", ErrInvalidInput)
	errInvalidFrequency = fmt.Errorf("%w: cadence_frequency must be a positive number of hours", ErrInvalidInput)
	errTargetRequired   = fmt.Errorf("%w: target_id is required", ErrInvalidInput)
)

type CadenceService struct {
	cadences    repository.CadenceRepo
	instruments repository.InstrumentRepo
	runner      CadenceRunner
}

func NewCadenceService(cadences repository.CadenceRepo, instruments repository.InstrumentRepo, runner CadenceRunner) *CadenceService {
	return &CadenceService{cadences: cadences, instruments: instruments, runner: runner}
}

func (s *CadenceService) Create(ctx context.Context, in CadenceInput) (models.DynamicCadence, error) {
	in.Strategy = strings.TrimSpace(in.Strategy)
	in.GroupName = strings.TrimSpace(in.GroupName)
	if err := s.checkStrategy(in.Strategy); err != nil {
		return models.DynamicCadence{}, err
	}
	if in.GroupName == "" {
		return models.DynamicCadence{}, errEmptyGroupName
	}
	if in.Parameters == nil {
		in.Parameters = models.CadenceParameters{}
	}
	if err := checkFrequency(in.Parameters); err != nil {
		return models.DynamicCadence{}, err
	}
	return s.cadences.Create(ctx, models.DynamicCadence{
		Strategy:   in.Strategy,
		GroupName:  in.GroupName,
		Parameters: in.Parameters,
		Active:     in.Active,
	})
}

func (s *CadenceService) Get(ctx context.Context, id int64) (models.DynamicCadence, error) {
	return s.cadences.Get(ctx, id)
}

func (s *CadenceService) List(ctx context.Context, f CadenceListFilter) ([]models.DynamicCadence, error) {
	return s.cadences.List(ctx, repository.CadenceFilter{Strategy: f.Strategy, Active: f.Active})
}

// Update replaces the parameters and/or the active flag of a cadence.
func (s *CadenceService) Update(ctx context.Context, id int64, u CadenceUpdate) (models.DynamicCadence, error) {
	if u.Parameters != nil {
		if err := checkFrequency(u.Parameters); err != nil {
			return models.DynamicCadence{}, err
		}
	}
	patch := repository.CadencePatch{Parameters: u.Parameters, Active: u.Active}
	if err := s.cadences.Update(ctx, id, patch); err != nil {
		return models.DynamicCadence{}, err
	}
	return s.cadences.Get(ctx, id)
}

// InitializeImagerCadences creates one active imager cadence observing
// targetID per catalogued instrument with filters that does not have one yet.
func (s *CadenceService) InitializeImagerCadences(ctx context.Context, targetID int64, frequencyHours int) ([]models.DynamicCadence, error) {
	if targetID <= 0 {
		return nil, errTargetRequired
	}
	if frequencyHours <= 0 {
		frequencyHours = DefaultImagerFrequencyHours
	}
	insts, err := s.instruments.List(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.cadences.List(ctx, repository.CadenceFilter{Strategy: cadence.ImagerCadence})
	if err != nil {
		return nil, err
	}
	covered := make(map[string]bool, len(existing))
	for _, dc := range existing {
		if code, ok := dc.Parameters.String(models.ParamInstrumentCode); ok {
			covered[code] = true
		}
	}

	var created []models.DynamicCadence
	for _, inst := range insts {
		if covered[inst.Code] || len(inst.Filters) == 0 {
			continue
		}
		dc, err := s.cadences.Create(ctx, models.DynamicCadence{
			Strategy:  cadence.ImagerCadence,
			GroupName: fmt.Sprintf("Photometric standard calibration for %s", inst.Code),
			Active:    true,
			Parameters: models.CadenceParameters{
				models.ParamInstrumentCode:   inst.Code,
				models.ParamTargetID:         targetID,
				models.ParamCadenceFrequency: frequencyHours,
			},
		})
		if err != nil {
			return created, err
		}
		created = append(created, dc)
	}
	return created, nil
}

func (s *CadenceService) checkStrategy(name string) error {
	if s.runner == nil {
		return nil
	}
	if !slices.Contains(s.runner.Names(), name) {
		return fmt.Errorf("%w: %q", errUnknownStrategy, name)
	}
	return nil
}

func checkFrequency(p models.CadenceParameters) error {
	if !p.Has(models.ParamCadenceFrequency) && !p.Has(models.ParamCadenceFrequencyHours) {
		return nil
	}
	if f, ok := p.Frequency(); !ok || f <= 0 {
		return errInvalidFrequency
	}
	return nil
}
