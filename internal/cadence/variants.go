package cadence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cadence_scheduler/internal/configdb"
	"cadence_scheduler/internal/facility"
	"cadence_scheduler/internal/models"
)

// Registered strategy names, as stored in dynamic_cadences.cadence_strategy.
const (
	ResumeAfterFailure   = "ResumeCadenceAfterFailureStrategy"
	NRESCadence          = "NRESCadenceStrategy"
	ImagerCadence        = "ImagerCadenceStrategy"
	PhotometricStandards = "PhotometricStandardsCadenceStrategy"
	BiasCadence          = "BiasCadenceStrategy"
)

// SelectionMode is how a strategy picks filters for its next request.
type SelectionMode int

const (
	SelectNone SelectionMode = iota
	SelectFilters
	// SelectFilterSets falls back to single filters when the instrument has no sets.
	SelectFilterSets
)

// InitialBuilder builds the first request of a cadence from its parameters.
type InitialBuilder func(ctx context.Context, s *Strategy, t *Tick) (models.Payload, error)

// PayloadFixup adjusts every payload before validation.
type PayloadFixup func(p models.Payload, t *Tick)

// StrategyConfig specialises the cadence state machine.
type StrategyConfig struct {
	Name string
	// FacilityName is used for the first request; later requests go to the
	// facility of the previous record.
	FacilityName    string
	ObservationType string

	Selection          SelectionMode
	FilterCount        int
	InitialFilterCount int

	// FixedTarget is used when the cadence parameters carry no target_id.
	FixedTarget *models.Target

	BuildInitial InitialBuilder
	Fixups       []PayloadFixup
}

const (
	nresInstrumentType = "1M0-NRES-SCICAM"
	nresProposal       = "NRES standards"
	photometryProposal = "Photometric standards"
	imagerProposal     = "standard"
	biasProposal       = "calibrate"
)

var diffuserKeys = []string{"diffusers", "g_diffuser", "r_diffuser", "i_diffuser", "z_diffuser"}

// Variants returns the configuration of every registered strategy.
func Variants() []StrategyConfig {
	bias := models.BiasTarget()
	return []StrategyConfig{
		{
			Name: ResumeAfterFailure,
		},
		{
			Name:            NRESCadence,
			FacilityName:    facility.LCOCalibrations,
			ObservationType: facility.TypeNRES,
			BuildInitial:    buildNRES,
		},
		{
			Name:               ImagerCadence,
			FacilityName:       facility.ImagerCalibrations,
			ObservationType:    facility.TypeImager,
			Selection:          SelectFilters,
			FilterCount:        2,
			InitialFilterCount: 1,
			BuildInitial:       imagerBuilder(imagerProposal, 1.05),
		},
		{
			Name:               PhotometricStandards,
			FacilityName:       facility.PhotometricStandards,
			ObservationType:    facility.TypePhotometricStandards,
			Selection:          SelectFilterSets,
			FilterCount:        1,
			InitialFilterCount: 1,
			BuildInitial:       imagerBuilder(photometryProposal, 1.0),
			Fixups:             []PayloadFixup{forcePhotometricProposal},
		},
		{
			Name:            BiasCadence,
			FacilityName:    facility.BiasCalibrations,
			ObservationType: facility.TypeBias,
			FixedTarget:     &bias,
			BuildInitial:    buildBias,
		},
	}
}

// basePayload fills the keys shared by every first request.
func basePayload(t *Tick, proposal string, ipp float64) models.Payload {
	p := t.Cadence.Parameters
	return models.Payload{
		models.PayloadFacility:        t.Facility.Name(),
		models.PayloadProposal:        p.StringOr(models.ParamProposal, proposal),
		models.PayloadIPPValue:        p.FloatOr(models.ParamIPPValue, ipp),
		models.PayloadObservationType: t.ObservationType,
		models.PayloadObservationMode: "NORMAL",
	}
}

// stampStarting writes a window of the given length beginning now.
func (s *Strategy) stampStarting(payload models.Payload, t *Tick, length time.Duration) {
	startKey, endKey := t.Facility.StartEndKeywords()
	s.windows.Starting(length).Stamp(payload, startKey, endKey)
}

func placePayload(payload models.Payload, site, enclosure, telescope, instrument, instrumentType string) {
	payload[models.PayloadSite] = site
	payload[models.PayloadEnclosure] = enclosure
	payload[models.PayloadTelescope] = telescope
	payload[models.PayloadInstrument] = instrument
	payload[models.PayloadInstrumentType] = instrumentType
}

func requestName(kind, subject string) string {
	name := kind + " for " + subject
	if len(name) > 50 {
		name = name[:50]
	}
	return name
}

// imagerBuilder builds the first request of a filter-selecting cadence: every
// filter of the catalogued instrument with its default exposure, and the
// most overdue filters selected.
func imagerBuilder(proposal string, ipp float64) InitialBuilder {
	return func(ctx context.Context, s *Strategy, t *Tick) (models.Payload, error) {
		dc := t.Cadence
		freq, ok := dc.Parameters.Frequency()
		if !ok || freq <= 0 {
			return nil, configErr(dc.ID, nil, "cadence_frequency must be a positive number of hours")
		}
		inst, err := s.instrument(ctx, dc, models.Payload{})
		if err != nil {
			return nil, err
		}

		payload := basePayload(t, proposal, ipp)
		payload[models.PayloadName] = requestName(strings.ToLower(t.ObservationType), inst.Code)
		placePayload(payload, inst.Site, inst.Enclosure, inst.Telescope, inst.Code, inst.Type)
		payload[models.PayloadCadenceFrequency] = freq
		payload[models.PayloadTargetID] = t.Target.ID
		payload[models.PayloadMaxAirmass] = dc.Parameters.FloatOr(models.ParamMaxAirmass, 3)
		payload[models.PayloadMinLunarDistance] = dc.Parameters.FloatOr(models.ParamMinLunarDistance, 20)
		for _, k := range diffuserKeys {
			payload[k] = "Out"
		}
		s.stampStarting(payload, t, time.Duration(freq)*time.Hour)

		for _, f := range instrumentFilters(inst) {
			payload[models.SelectedKey(f.Name)] = false
			payload[models.ExposureCountKey(f.Name)] = max(f.ExposureCount, 1)
			payload[models.ExposureTimeKey(f.Name)] = f.ExposureTime
		}

		candidates := s.candidates(inst)
		if len(candidates) == 0 {
			return nil, configErr(dc.ID, nil, "instrument %s has no filters to select", inst.Code)
		}
		count, err := s.filterCount(dc, true)
		if err != nil {
			return nil, err
		}
		history, err := s.deps.Observations.History(ctx, dc.GroupID)
		if err != nil {
			return nil, fmt.Errorf("load history of cadence %d: %w", dc.ID, err)
		}
		aging := NewAgingPolicy(s.deps.Now, t.Facility.Vocabulary())
		ApplySelection(payload, candidates, aging.SelectNext(candidates, inst.Code, history, count))
		return payload, nil
	}
}

// instrumentFilters lists every distinct filter of inst, including filter set members.
func instrumentFilters(inst models.Instrument) []models.Filter {
	seen := map[string]models.Filter{}
	for _, f := range inst.Filters {
		seen[f.Filter.Name] = f.Filter
	}
	for _, fs := range inst.FilterSets {
		for _, f := range fs.Filters {
			if _, ok := seen[f.Name]; !ok {
				seen[f.Name] = f
			}
		}
	}
	out := make([]models.Filter, 0, len(seen))
	for _, f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func forcePhotometricProposal(p models.Payload, t *Tick) {
	if t.State == NeverRun {
		return
	}
	p[models.PayloadIPPValue] = 1.0
	p[models.PayloadProposal] = photometryProposal
}

// buildNRES builds the first NRES standard request from the NRES unit at the
// cadence's site and the exposure stored with the target.
func buildNRES(ctx context.Context, s *Strategy, t *Tick) (models.Payload, error) {
	dc := t.Cadence
	site, ok := dc.Parameters.String(models.ParamSite)
	if !ok {
		return nil, configErr(dc.ID, nil, "no site in cadence_parameters")
	}
	inst, err := s.directoryLookup(dc, configdb.Query{
		Site:           site,
		Enclosure:      dc.Parameters.StringOr(models.ParamEnclosure, ""),
		Telescope:      dc.Parameters.StringOr(models.ParamTelescope, ""),
		InstrumentType: nresInstrumentType,
	})
	if err != nil {
		return nil, err
	}

	expTime, err := targetExtra(t.Target, "exp_time")
	if err != nil {
		return nil, configErr(dc.ID, err, "target %s has no usable exp_time", t.Target.Name)
	}
	expCount, err := targetExtra(t.Target, "exp_count")
	if err != nil || expCount != float64(int(expCount)) {
		return nil, configErr(dc.ID, err, "target %s has no usable exp_count", t.Target.Name)
	}

	payload := basePayload(t, nresProposal, 1.05)
	payload[models.PayloadName] = requestName("NRES standard", t.Target.Name)
	placePayload(payload, inst.Site, inst.Enclosure, inst.Telescope, inst.Code, nresInstrumentType)
	payload[models.PayloadTargetID] = t.Target.ID
	payload[models.PayloadExposureTime] = dc.Parameters.FloatOr(models.ParamExposureTime, expTime)
	payload[models.PayloadExposureCount] = int(dc.Parameters.FloatOr(models.ParamExposureCount, expCount))
	payload[models.PayloadMaxAirmass] = dc.Parameters.FloatOr(models.ParamMaxAirmass, 2)
	if mld, err := targetExtra(t.Target, "min_lunar_distance"); err == nil {
		payload[models.PayloadMinLunarDistance] = mld
	}
	if dc.Parameters.Has(models.ParamMinLunarDistance) {
		payload[models.PayloadMinLunarDistance] = dc.Parameters.FloatOr(models.ParamMinLunarDistance, 0)
	}
	if freq, ok := dc.Parameters.Frequency(); ok {
		payload[models.PayloadCadenceFrequency] = freq
	}
	s.stampStarting(payload, t, 24*time.Hour)
	return payload, nil
}

// buildBias builds the first bias request for the instrument named by the
// cadence, with its default readout mode.
func buildBias(ctx context.Context, s *Strategy, t *Tick) (models.Payload, error) {
	dc := t.Cadence
	code, ok := dc.Parameters.String(models.ParamInstrumentCode)
	if !ok {
		return nil, configErr(dc.ID, nil, "no instrument_code in cadence_parameters")
	}
	inst, err := s.directoryLookup(dc, configdb.Query{
		Site:           dc.Parameters.StringOr(models.ParamSite, ""),
		Enclosure:      dc.Parameters.StringOr(models.ParamEnclosure, ""),
		Telescope:      dc.Parameters.StringOr(models.ParamTelescope, ""),
		InstrumentCode: code,
	})
	if err != nil {
		return nil, err
	}

	mode := dc.Parameters.StringOr(models.ParamReadoutMode, inst.DefaultReadoutMode)
	if mode == "" {
		return nil, configErr(dc.ID, nil, "instrument %s has no default readout mode", inst.Code)
	}
	count, ok := dc.Parameters.Int(models.ParamExposureCount)
	if !ok {
		count = 1
	}

	payload := basePayload(t, biasProposal, 1.0)
	payload[models.PayloadProposal] = biasProposal
	payload[models.PayloadName] = requestName("Bias", inst.Code)
	placePayload(payload, inst.Site, inst.Enclosure, inst.Telescope, inst.Code, inst.Type)
	payload[models.PayloadReadoutMode] = mode
	payload[models.PayloadExposureCount] = count
	payload[models.PayloadExposureTime] = 0.0
	payload[models.PayloadMaxAirmass] = 20.0
	payload[models.PayloadMinLunarDistance] = 0.0
	if freq, ok := dc.Parameters.Frequency(); ok && freq > 0 {
		payload[models.PayloadCadenceFrequency] = freq
		s.stampStarting(payload, t, time.Duration(freq)*time.Hour)
	} else {
		s.stampStarting(payload, t, 24*time.Hour)
	}
	return payload, nil
}

func (s *Strategy) directoryLookup(dc models.DynamicCadence, q configdb.Query) (configdb.Instrument, error) {
	if s.deps.Directory == nil {
		return configdb.Instrument{}, configErr(dc.ID, nil, "no ConfigDB directory configured")
	}
	inst, err := s.deps.Directory.MatchingInstrument(q)
	if errors.Is(err, configdb.ErrInstrumentNotFound) {
		return configdb.Instrument{}, configErr(dc.ID, err, "no active instrument matches the cadence")
	}
	if err != nil {
		return configdb.Instrument{}, fmt.Errorf("look up instrument: %w", err)
	}
	return inst, nil
}

func targetExtra(t models.Target, key string) (float64, error) {
	raw, ok := t.Extras[key]
	if !ok {
		return 0, fmt.Errorf("extra %q missing", key)
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// Engine dispatches a cadence to the strategy named by its cadence_strategy.
type Engine struct {
	strategies map[string]*Strategy
}

func NewEngine(deps Deps) *Engine {
	e := &Engine{strategies: make(map[string]*Strategy)}
	for _, cfg := range Variants() {
		e.strategies[cfg.Name] = NewStrategy(cfg, deps)
	}
	return e
}

// Run performs one tick of dc with its strategy.
func (e *Engine) Run(ctx context.Context, dc models.DynamicCadence) ([]models.ObservationRecord, error) {
	s, ok := e.strategies[dc.Strategy]
	if !ok {
		return nil, configErr(dc.ID, ErrUnknownStrategy, "strategy %q", dc.Strategy)
	}
	return s.Run(ctx, dc)
}

// Names lists the registered strategies, sorted.
func (e *Engine) Names() []string {
	out := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Strategy(name string) (*Strategy, bool) {
	s, ok := e.strategies[name]
	return s, ok
}
