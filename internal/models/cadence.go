package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Well-known cadence_parameters keys.
const (
	ParamSite                  = "site"
	ParamEnclosure             = "enclosure"
	ParamTelescope             = "telescope"
	ParamInstrumentCode        = "instrument_code"
	ParamTargetID              = "target_id"
	ParamCadenceFrequency      = "cadence_frequency"
	ParamCadenceFrequencyHours = "cadence_frequency_hours"
	ParamProposal              = "proposal"
	ParamIPPValue              = "ipp_value"
	ParamMaxAirmass            = "max_airmass"
	ParamMinLunarDistance      = "min_lunar_distance"
	ParamFilterCount           = "filter_count"
	ParamReadoutMode           = "readout_mode"
	ParamExposureCount         = "exposure_count"
	ParamExposureTime          = "exposure_time"
)

// DynamicCadence is the persisted configuration and history pointer of one cadence.
type DynamicCadence struct {
	ID         int64             `json:"id"`
	Strategy   string            `json:"cadence_strategy"`
	Parameters CadenceParameters `json:"cadence_parameters"`
	GroupID    int64             `json:"observation_group_id"`
	GroupName  string            `json:"observation_group_name"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// CadenceParameters is the open, per-strategy parameter mapping of a cadence.
type CadenceParameters map[string]any

// Has reports whether key is present with a non-nil value.
func (p CadenceParameters) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value under key rendered as a string.
func (p CadenceParameters) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

// Int returns the value under key as an integer. Whole floats and numeric
// strings are accepted since parameters usually arrive through JSON.
func (p CadenceParameters) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Float returns the value under key as a float64.
func (p CadenceParameters) Float(key string) (float64, bool) {
	return numberValue(p[key])
}

// numberValue coerces the numeric shapes produced by JSON, YAML and SQLite
// decoding into a float64.
func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatOr returns the float under key or def when absent.
func (p CadenceParameters) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

// StringOr returns the string under key or def when absent.
func (p CadenceParameters) StringOr(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

// Frequency returns the cadence frequency in hours, accepting both the
// historical key and its explicit-unit alias.
func (p CadenceParameters) Frequency() (int, bool) {
	if !p.Has(ParamCadenceFrequency) {
		return p.Int(ParamCadenceFrequencyHours)
	}
	return p.Int(ParamCadenceFrequency)
}

// Clone returns a shallow copy; parameter values are scalars.
func (p CadenceParameters) Clone() CadenceParameters {
	out := make(CadenceParameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
