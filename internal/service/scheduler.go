package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cadence_scheduler/internal/cadence"
	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"

	"github.com/google/uuid"
)

// ErrCadenceInactive rejects on-demand ticks of a deactivated cadence.
var ErrCadenceInactive = errors.New("cadence is not active")

// SchedulerService ticks every active cadence and records one event per tick.
type SchedulerService struct {
	cadences  repository.CadenceRepo
	eventRepo repository.EventRepo
	runner    CadenceRunner
	directory Directory
	log       *logger.Logger
	now       func() time.Time
}

// NewSchedulerService returns a scheduler. directory may be nil when ConfigDB is not used.
func NewSchedulerService(cadences repository.CadenceRepo, eventRepo repository.EventRepo, runner CadenceRunner, directory Directory, log *logger.Logger) *SchedulerService {
	return &SchedulerService{
		cadences:  cadences,
		eventRepo: eventRepo,
		runner:    runner,
		directory: directory,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

// Run sweeps at the given interval until ctx is canceled.
func (s *SchedulerService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			report := s.Sweep(ctx)
			s.log.Infow("scheduler_sweep_done", "cadences", len(report.Results), "counts", report.Counts)
		}
	}
}

// Sweep runs every active cadence once, sequentially. A failing cadence never
// stops the sweep.
func (s *SchedulerService) Sweep(ctx context.Context) SweepReport {
	report := SweepReport{StartedAt: s.now().UTC(), Counts: map[string]int{}}

	if s.directory != nil {
		if err := s.directory.RefreshIfStale(ctx); err != nil {
			s.log.Warnw("configdb_refresh_failed", "err", err)
		}
	}

	active := true
	list, err := s.cadences.List(ctx, repository.CadenceFilter{Active: &active})
	if err != nil {
		s.log.Errorw("scheduler_list_cadences_failed", "err", err)
		return report
	}

	for _, dc := range list {
		if ctx.Err() != nil {
			break
		}
		res := s.tick(ctx, dc)
		report.Results = append(report.Results, res)
		report.Counts[res.Event.Type]++
	}
	return report
}

// RunCadence ticks one cadence on demand.
func (s *SchedulerService) RunCadence(ctx context.Context, id int64) (TickResult, error) {
	dc, err := s.cadences.Get(ctx, id)
	if err != nil {
		return TickResult{}, err
	}
	if !dc.Active {
		return TickResult{}, fmt.Errorf("cadence %d: %w", id, ErrCadenceInactive)
	}
	return s.tick(ctx, dc), nil
}

func (s *SchedulerService) tick(ctx context.Context, dc models.DynamicCadence) TickResult {
	records, err := s.runner.Run(ctx, dc)

	ev := tickEvent(dc, records, err)
	ev.EventID = uuid.NewString()
	ev.OccurredAt = s.now().UTC()

	if err != nil {
		s.log.Warnw("cadence_tick_failed", "dynamic_cadence_id", dc.ID, "strategy", dc.Strategy, "event", ev.Type, "err", err)
	}
	if aerr := s.eventRepo.Append(context.WithoutCancel(ctx), ev); aerr != nil {
		s.log.Errorw("cadence_event_append_failed", "dynamic_cadence_id", dc.ID, "event", ev.Type, "err", aerr)
	}
	return TickResult{CadenceID: dc.ID, Event: ev, Submitted: records}
}

// tickEvent maps the outcome of a tick onto its audit event.
func tickEvent(dc models.DynamicCadence, records []models.ObservationRecord, err error) models.CadenceEvent {
	ev := models.CadenceEvent{CadenceID: dc.ID}
	meta := map[string]any{"strategy": dc.Strategy}
	if len(records) > 0 {
		ids := make([]string, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ObservationID)
		}
		meta["observation_ids"] = ids
	}
	ev.Metadata = meta

	var (
		cfgErr     *cadence.ConfigurationError
		subErr     *cadence.SubmissionError
		valErr     *cadence.ValidationError
		persistErr *cadence.PersistenceError
	)
	switch {
	case err == nil && len(records) == 0:
		ev.Type = models.EventIdle
		ev.Description = "Previous observation still pending"
	case err == nil:
		ev.Type = models.EventSubmitted
		ev.Description = fmt.Sprintf("Submitted %d observation(s)", len(records))
	case errors.Is(err, cadence.ErrTickInProgress):
		ev.Type = models.EventSkipped
		ev.Description = err.Error()
	case errors.As(err, &cfgErr):
		ev.Type = models.EventConfigError
		ev.Description = err.Error()
	case errors.As(err, &subErr) && errors.As(err, &valErr):
		ev.Type = models.EventValidationError
		ev.Description = err.Error()
		meta["fields"] = valErr.Fields
	case errors.As(err, &subErr):
		ev.Type = models.EventSubmissionError
		ev.Description = err.Error()
		meta["facility"] = subErr.Facility
	case errors.As(err, &persistErr):
		ev.Type = models.EventError
		ev.Description = err.Error()
		meta["unrecorded_observation_ids"] = persistErr.ObservationIDs
	default:
		ev.Type = models.EventError
		ev.Description = err.Error()
	}
	return ev
}
