// Package cadence decides, on every scheduler tick, whether a dynamic cadence
// needs its next observation and submits it.
package cadence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"cadence_scheduler/internal/configdb"
	"cadence_scheduler/internal/facility"
	"cadence_scheduler/internal/lock"
	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/models"
)

// ObservationStore persists the observation history of cadence groups.
type ObservationStore interface {
	// Latest returns the most recently created record of group, or nil.
	Latest(ctx context.Context, groupID int64) (*models.ObservationRecord, error)
	// History returns every record of group, newest first. Group 0 means all records.
	History(ctx context.Context, groupID int64) ([]models.ObservationRecord, error)
	Create(ctx context.Context, rec models.ObservationRecord) (int64, error)
	UpdateStatus(ctx context.Context, id int64, st models.ObservationStatus) error
}

type TargetStore interface {
	TargetByID(ctx context.Context, id int64) (models.Target, error)
}

type InstrumentCatalog interface {
	InstrumentByCode(ctx context.Context, code string) (models.Instrument, error)
}

// Directory answers instrument lookups from ConfigDB.
type Directory interface {
	MatchingInstrument(q configdb.Query) (configdb.Instrument, error)
}

type FacilityRegistry interface {
	Get(name string) (facility.Facility, bool)
}

// State is the step a cadence is at, derived from its most recent record.
type State int

const (
	NeverRun State = iota
	AwaitingCompletion
	ResubmitAfterFailure
	AdvanceAfterSuccess
)

func (s State) String() string {
	switch s {
	case NeverRun:
		return "NEVER_RUN"
	case AwaitingCompletion:
		return "AWAITING_COMPLETION"
	case ResubmitAfterFailure:
		return "RESUBMIT_AFTER_FAILURE"
	case AdvanceAfterSuccess:
		return "ADVANCE_AFTER_SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// Classify derives the cadence state from its most recent record.
func Classify(last *models.ObservationRecord, vocab models.StatusVocabulary) State {
	switch {
	case last == nil:
		return NeverRun
	case !last.Terminal(vocab):
		return AwaitingCompletion
	case last.Failed(vocab):
		return ResubmitAfterFailure
	default:
		return AdvanceAfterSuccess
	}
}

// LockKey is the lock name guarding one cadence.
func LockKey(cadenceID int64) string {
	return "cadence:" + strconv.FormatInt(cadenceID, 10)
}

// Deps are the collaborators shared by every strategy.
type Deps struct {
	Observations ObservationStore
	Targets      TargetStore
	Instruments  InstrumentCatalog
	Directory    Directory
	Facilities   FacilityRegistry
	Locker       lock.Locker
	Log          *logger.Logger
	Now          Clock
	// PersistTries bounds attempts to record a submitted observation.
	PersistTries uint
	// PersistBackOff builds the delay schedule between those attempts.
	PersistBackOff func() backoff.BackOff
}

// Tick is what a strategy knows while building the next request.
type Tick struct {
	Cadence         models.DynamicCadence
	State           State
	Last            *models.ObservationRecord
	Target          models.Target
	Facility        facility.Facility
	ObservationType string
	Now             time.Time
}

// Strategy is the cadence state machine, specialised by its config.
type Strategy struct {
	cfg     StrategyConfig
	deps    Deps
	windows WindowPolicy
	log     *logger.Logger
}

func NewStrategy(cfg StrategyConfig, deps Deps) *Strategy {
	deps.Now = deps.Now.orDefault()
	if deps.Locker == nil {
		deps.Locker = lock.NewMemory()
	}
	if deps.PersistTries == 0 {
		deps.PersistTries = 5
	}
	if deps.PersistBackOff == nil {
		deps.PersistBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return &Strategy{
		cfg:     cfg,
		deps:    deps,
		windows: NewWindowPolicy(deps.Now),
		log:     logger.OrNop(deps.Log),
	}
}

func (s *Strategy) Name() string { return s.cfg.Name }

// Config returns the strategy's configuration.
func (s *Strategy) Config() StrategyConfig { return s.cfg }

// Run performs one tick of dc. It returns nil, nil when the previous request
// is still pending, and the newly recorded observations after a submission.
func (s *Strategy) Run(ctx context.Context, dc models.DynamicCadence) ([]models.ObservationRecord, error) {
	log := s.log.With("dynamic_cadence_id", dc.ID, "strategy", s.cfg.Name)

	release, err := s.deps.Locker.TryLock(ctx, LockKey(dc.ID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, ErrTickInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("lock cadence %d: %w", dc.ID, err)
	}
	defer release()

	last, err := s.deps.Observations.Latest(ctx, dc.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load latest observation of cadence %d: %w", dc.ID, err)
	}

	fac, err := s.facilityFor(dc, last)
	if err != nil {
		log.Errorw("cadence_misconfigured", "target", dc.Parameters[models.ParamTargetID], "err", err)
		return nil, err
	}
	if last != nil {
		s.refreshStatus(ctx, log, fac, last)
	}

	state := Classify(last, fac.Vocabulary())
	if state == AwaitingCompletion {
		log.Debugw("cadence_awaiting_completion", "observation_id", last.ObservationID, "status", last.Status)
		return nil, nil
	}

	target, err := s.resolveTarget(ctx, dc, last)
	if err != nil {
		log.Errorw("cadence_target_unresolved", "target", "", "err", err)
		return nil, err
	}
	log = log.With("target", target.Name)

	tick := &Tick{
		Cadence:         dc,
		State:           state,
		Last:            last,
		Target:          target,
		Facility:        fac,
		ObservationType: s.observationType(last),
		Now:             s.deps.Now().UTC(),
	}
	if tick.ObservationType == "" {
		err := configErr(dc.ID, nil, "observation type unknown for strategy %s", s.cfg.Name)
		log.Errorw("cadence_misconfigured", "err", err)
		return nil, err
	}

	payload, err := s.nextPayload(ctx, tick)
	if err != nil {
		log.Errorw("cadence_payload_build_failed", "state", state.String(), "err", err)
		return nil, err
	}

	s.applyFixups(payload, tick)

	log.Infow("cadence_payload_ready", "state", state.String(), "facility", fac.Name(), "payload", payload)
	if err := s.validate(ctx, tick, payload); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			log.Errorw("cadence_payload_invalid", "state", state.String(), "fields", ve.Fields, "err", err)
			if state == NeverRun {
				return nil, configErr(dc.ID, ve, "initial request for cadence is invalid")
			}
		} else {
			log.Errorw("cadence_validation_unavailable", "err", err)
		}
		return nil, &SubmissionError{CadenceID: dc.ID, Facility: fac.Name(), Err: err}
	}

	ids, err := fac.Submit(ctx, payload)
	if err != nil {
		log.Errorw("cadence_submission_failed", "err", err)
		var fe facility.FieldErrors
		if errors.As(err, &fe) {
			err = &ValidationError{CadenceID: dc.ID, Target: target.Name, Fields: fe, Err: err}
		}
		return nil, &SubmissionError{CadenceID: dc.ID, Facility: fac.Name(), Err: err}
	}
	log.Infow("cadence_submitted", "observation_ids", ids)

	created, perr := s.record(ctx, log, tick, payload, ids)
	s.pollNew(ctx, log, fac, created)
	return created, perr
}

func (s *Strategy) facilityFor(dc models.DynamicCadence, last *models.ObservationRecord) (facility.Facility, error) {
	name := s.cfg.FacilityName
	if last != nil && last.Facility != "" {
		name = last.Facility
	}
	if name == "" {
		return nil, configErr(dc.ID, nil, "strategy %s needs a previous observation to resume", s.cfg.Name)
	}
	fac, ok := s.deps.Facilities.Get(name)
	if !ok {
		return nil, configErr(dc.ID, nil, "facility %q is not registered", name)
	}
	return fac, nil
}

func (s *Strategy) observationType(last *models.ObservationRecord) string {
	if s.cfg.ObservationType != "" {
		return s.cfg.ObservationType
	}
	if last != nil {
		return last.Parameters.String(models.PayloadObservationType)
	}
	return ""
}

// refreshStatus polls the facility for last. Failures degrade to the stored status.
func (s *Strategy) refreshStatus(ctx context.Context, log *logger.Logger, fac facility.Facility, last *models.ObservationRecord) {
	st, err := fac.Status(ctx, last.ObservationID)
	if err != nil {
		terr := &TransientFacilityError{Facility: fac.Name(), ObservationID: last.ObservationID, Err: err}
		log.Warnw("observation_status_refresh_failed", "observation_id", last.ObservationID, "stored_status", last.Status, "err", terr)
		return
	}
	if err := s.deps.Observations.UpdateStatus(ctx, last.ID, st); err != nil {
		log.Warnw("observation_status_store_failed", "observation_id", last.ObservationID, "err", err)
	}
	applyStatus(last, st)
}

func applyStatus(rec *models.ObservationRecord, st models.ObservationStatus) {
	rec.Status = st.State
	if st.ScheduledStart != nil {
		rec.ScheduledStart = st.ScheduledStart
	}
	if st.ScheduledEnd != nil {
		rec.ScheduledEnd = st.ScheduledEnd
	}
}

// resolveTarget loads the cadence's target, falling back to the strategy's
// fixed target or to the target of the previous record.
func (s *Strategy) resolveTarget(ctx context.Context, dc models.DynamicCadence, last *models.ObservationRecord) (models.Target, error) {
	if id, ok := dc.Parameters.Int(models.ParamTargetID); ok {
		return s.loadTarget(ctx, dc.ID, int64(id))
	}
	if dc.Parameters.Has(models.ParamTargetID) {
		return models.Target{}, configErr(dc.ID, nil, "target_id %v is not an integer", dc.Parameters[models.ParamTargetID])
	}
	if s.cfg.FixedTarget != nil {
		return *s.cfg.FixedTarget, nil
	}
	if last != nil {
		if last.TargetID > 0 {
			return s.loadTarget(ctx, dc.ID, last.TargetID)
		}
		return models.Target{Name: last.TargetName}, nil
	}
	return models.Target{}, configErr(dc.ID, nil, "no target_id in cadence_parameters")
}

func (s *Strategy) loadTarget(ctx context.Context, cadenceID, id int64) (models.Target, error) {
	t, err := s.deps.Targets.TargetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Target{}, configErr(cadenceID, err, "target %d does not exist", id)
	}
	if err != nil {
		return models.Target{}, fmt.Errorf("load target %d: %w", id, err)
	}
	return t, nil
}

func (s *Strategy) nextPayload(ctx context.Context, t *Tick) (models.Payload, error) {
	startKey, endKey := t.Facility.StartEndKeywords()

	switch t.State {
	case NeverRun:
		if s.cfg.BuildInitial == nil {
			return nil, configErr(t.Cadence.ID, nil, "strategy %s needs a previous observation to resume", s.cfg.Name)
		}
		return s.cfg.BuildInitial(ctx, s, t)

	case ResubmitAfterFailure:
		payload := t.Last.Parameters.Clone()
		prev, err := WindowFromPayload(payload, startKey, endKey)
		if err != nil {
			return nil, configErr(t.Cadence.ID, err, "previous request has no usable window")
		}
		s.windows.ResubmitImmediately(prev).Stamp(payload, startKey, endKey)
		return payload, nil

	case AdvanceAfterSuccess:
		payload := t.Last.Parameters.Clone()
		prev, err := WindowFromPayload(payload, startKey, endKey)
		if err != nil {
			return nil, configErr(t.Cadence.ID, err, "previous request has no usable window")
		}
		freq, _ := t.Cadence.Parameters.Frequency()
		next, err := s.windows.Advance(prev, freq)
		if err != nil {
			var ce *ConfigurationError
			if errors.As(err, &ce) {
				ce.CadenceID = t.Cadence.ID
			}
			return nil, err
		}
		next.Stamp(payload, startKey, endKey)
		if err := s.reselectFilters(ctx, t, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil, fmt.Errorf("cadence %d: unexpected state %s", t.Cadence.ID, t.State)
}

// reselectFilters replaces the filter selection of payload with the most
// overdue candidates of the cadence's instrument.
func (s *Strategy) reselectFilters(ctx context.Context, t *Tick, payload models.Payload) error {
	if s.cfg.Selection == SelectNone {
		return nil
	}
	inst, err := s.instrument(ctx, t.Cadence, payload)
	if err != nil {
		return err
	}
	count, err := s.filterCount(t.Cadence, false)
	if err != nil {
		return err
	}
	candidates := s.candidates(inst)
	if len(candidates) == 0 {
		return configErr(t.Cadence.ID, nil, "instrument %s has no filters to select", inst.Code)
	}
	history, err := s.deps.Observations.History(ctx, t.Cadence.GroupID)
	if err != nil {
		return fmt.Errorf("load history of cadence %d: %w", t.Cadence.ID, err)
	}
	aging := NewAgingPolicy(s.deps.Now, t.Facility.Vocabulary())
	chosen := aging.SelectNext(candidates, inst.Code, history, count)
	ApplySelection(payload, candidates, chosen)
	return nil
}

// instrument loads the catalogued instrument named by the cadence, or by the
// previous payload when the cadence does not name one.
func (s *Strategy) instrument(ctx context.Context, dc models.DynamicCadence, payload models.Payload) (models.Instrument, error) {
	code := dc.Parameters.StringOr(models.ParamInstrumentCode, payload.String(models.PayloadInstrument))
	if code == "" {
		return models.Instrument{}, configErr(dc.ID, nil, "no instrument_code in cadence_parameters")
	}
	if s.deps.Instruments == nil {
		return models.Instrument{}, configErr(dc.ID, nil, "no instrument catalog configured")
	}
	inst, err := s.deps.Instruments.InstrumentByCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return models.Instrument{}, configErr(dc.ID, err, "instrument %s is not catalogued", code)
	}
	if err != nil {
		return models.Instrument{}, fmt.Errorf("load instrument %s: %w", code, err)
	}
	return inst, nil
}

// candidates lists the selectable filters or filter sets of inst.
func (s *Strategy) candidates(inst models.Instrument) []Candidate {
	var out []Candidate
	if s.cfg.Selection == SelectFilterSets && len(inst.FilterSets) > 0 {
		for _, fs := range inst.FilterSets {
			out = append(out, FilterSetCandidate(fs))
		}
		return out
	}
	for _, f := range inst.Filters {
		out = append(out, FilterCandidate(f))
	}
	return out
}

// filterCount is the configured selection size; filter_count in the cadence
// parameters overrides it.
func (s *Strategy) filterCount(dc models.DynamicCadence, initial bool) (int, error) {
	count := s.cfg.FilterCount
	if initial && s.cfg.InitialFilterCount > 0 {
		count = s.cfg.InitialFilterCount
	}
	if dc.Parameters.Has(models.ParamFilterCount) && !initial {
		n, ok := dc.Parameters.Int(models.ParamFilterCount)
		if !ok {
			return 0, configErr(dc.ID, nil, "filter_count %v is not an integer", dc.Parameters[models.ParamFilterCount])
		}
		count = n
	}
	if count <= 0 {
		return 0, configErr(dc.ID, nil, "strategy %s requires a positive filter count", s.cfg.Name)
	}
	return count, nil
}

func (s *Strategy) applyFixups(payload models.Payload, t *Tick) {
	if id, ok := t.Cadence.Parameters.Int(models.ParamTargetID); ok {
		payload[models.PayloadTargetID] = id
	}
	for _, fix := range s.cfg.Fixups {
		fix(payload, t)
	}
}

func (s *Strategy) validate(ctx context.Context, t *Tick, payload models.Payload) error {
	if err := t.Facility.Validate(ctx, t.ObservationType, payload); err != nil {
		return s.validationError(t, err)
	}
	return nil
}

// validationError wraps facility field errors; other failures pass through.
func (s *Strategy) validationError(t *Tick, err error) error {
	var fe facility.FieldErrors
	if errors.As(err, &fe) {
		return &ValidationError{CadenceID: t.Cadence.ID, Target: t.Target.Name, Fields: fe, Err: err}
	}
	return err
}

// record persists one record per submitted id. Persistence ignores
// cancellation of ctx: the observations already exist at the facility.
func (s *Strategy) record(ctx context.Context, log *logger.Logger, t *Tick, payload models.Payload, ids []string) ([]models.ObservationRecord, error) {
	persistCtx := context.WithoutCancel(ctx)

	var (
		created []models.ObservationRecord
		lost    []string
		lastErr error
	)
	for _, id := range ids {
		rec := models.ObservationRecord{
			ObservationID: id,
			GroupID:       t.Cadence.GroupID,
			TargetID:      t.Target.ID,
			TargetName:    t.Target.Name,
			Facility:      t.Facility.Name(),
			Parameters:    payload.Clone(),
		}
		recID, err := backoff.Retry(persistCtx, func() (int64, error) {
			return s.deps.Observations.Create(persistCtx, rec)
		}, backoff.WithBackOff(s.deps.PersistBackOff()), backoff.WithMaxTries(s.deps.PersistTries))
		if err != nil {
			log.Errorw("observation_record_lost", "observation_id", id, "err", err)
			lost = append(lost, id)
			lastErr = err
			continue
		}
		rec.ID = recID
		created = append(created, rec)
	}

	if len(lost) > 0 {
		return created, &PersistenceError{CadenceID: t.Cadence.ID, ObservationIDs: lost, Err: lastErr}
	}
	return created, nil
}

// pollNew fetches an initial status for every new record. Failures are logged only.
func (s *Strategy) pollNew(ctx context.Context, log *logger.Logger, fac facility.Facility, created []models.ObservationRecord) {
	for i := range created {
		rec := &created[i]
		st, err := fac.Status(ctx, rec.ObservationID)
		if err != nil {
			log.Warnw("observation_status_poll_failed", "observation_id", rec.ObservationID, "err", err)
			continue
		}
		if err := s.deps.Observations.UpdateStatus(ctx, rec.ID, st); err != nil {
			log.Warnw("observation_status_store_failed", "observation_id", rec.ObservationID, "err", err)
		}
		applyStatus(rec, st)
	}
}
