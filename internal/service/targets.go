package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cadence_scheduler/internal/cadence"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"
)

var (
	errTargetName   = fmt.Errorf("%w: target name is required", ErrInvalidInput)
	errTargetType   = fmt.Errorf("%w: target type must be SIDEREAL or HOUR_ANGLE", ErrInvalidInput)
	errTargetCoords = fmt.Errorf("%w: sidereal targets need ra and dec, hour angle targets need hour_angle and dec", ErrInvalidInput)
	errTargetSeason = fmt.Errorf("%w: seasonal bounds must be months 1-12 and given together", ErrInvalidInput)
)

type TargetService struct {
	targets repository.TargetRepo
	now     func() time.Time
}

func NewTargetService(targets repository.TargetRepo, now func() time.Time) *TargetService {
	if now == nil {
		now = time.Now
	}
	return &TargetService{targets: targets, now: now}
}

func (s *TargetService) CreateTarget(ctx context.Context, t models.Target) (models.Target, error) {
	t.Name = strings.TrimSpace(t.Name)
	t.Type = strings.ToUpper(strings.TrimSpace(t.Type))
	if t.Type == "" {
		t.Type = models.TargetSidereal
	}
	if err := validateTarget(t); err != nil {
		return models.Target{}, err
	}
	id, err := s.targets.Create(ctx, t)
	if err != nil {
		return models.Target{}, err
	}
	t.ID = id
	return t, nil
}

// ListTargets returns every target, or with f.InSeason only those whose
// seasonal window contains the current month. Targets without a season always match.
func (s *TargetService) ListTargets(ctx context.Context, f TargetListFilter) ([]models.Target, error) {
	all, err := s.targets.List(ctx)
	if err != nil || !f.InSeason {
		return all, err
	}
	now := s.now().UTC()
	out := make([]models.Target, 0, len(all))
	for _, t := range all {
		if cadence.InSeason(t, now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func validateTarget(t models.Target) error {
	if t.Name == "" {
		return errTargetName
	}
	switch t.Type {
	case models.TargetSidereal:
		if t.RA == nil || t.Dec == nil {
			return errTargetCoords
		}
	case models.TargetHourAngle:
		if t.HourAngle == nil || t.Dec == nil {
			return errTargetCoords
		}
	default:
		return errTargetType
	}
	if (t.SeasonalStart == nil) != (t.SeasonalEnd == nil) {
		return errTargetSeason
	}
	if t.SeasonalStart != nil && (!validMonth(*t.SeasonalStart) || !validMonth(*t.SeasonalEnd)) {
		return errTargetSeason
	}
	return nil
}

func validMonth(m int) bool { return m >= 1 && m <= 12 }
