package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload keys shared by every facility form.
const (
	PayloadName             = "name"
	PayloadFacility         = "facility"
	PayloadProposal         = "proposal"
	PayloadIPPValue         = "ipp_value"
	PayloadInstrumentType   = "instrument_type"
	PayloadObservationType  = "observation_type"
	PayloadObservationMode  = "observation_mode"
	PayloadCadenceFrequency = "cadence_frequency"
	PayloadSite             = "site"
	PayloadEnclosure        = "enclosure"
	PayloadTelescope        = "telescope"
	PayloadInstrument       = "instrument"
	PayloadTargetID         = "target_id"
	PayloadMaxAirmass       = "max_airmass"
	PayloadMinLunarDistance = "min_lunar_distance"
	PayloadExposureCount    = "exposure_count"
	PayloadExposureTime     = "exposure_time"
	PayloadReadoutMode      = "readout_mode"
	PayloadConfigType       = "configuration_type"
)

// Payload is the flat request mapping submitted to a facility. Its schema is
// facility specific and validated by the facility itself.
type Payload map[string]any

// Clone deep-copies the payload through its JSON form so nested values are
// not shared with the record it came from.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		out := make(Payload, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	var out Payload
	if err := json.Unmarshal(b, &out); err != nil {
		return Payload{}
	}
	return out
}

// String returns the string value under key.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Float returns the numeric value under key.
func (p Payload) Float(key string) (float64, bool) {
	return numberValue(p[key])
}

// Int returns the integral value under key.
func (p Payload) Int(key string) (int, bool) {
	f, ok := numberValue(p[key])
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Time parses the timestamp stored under key.
func (p Payload) Time(key string) (time.Time, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return time.Time{}, fmt.Errorf("payload has no %q", key)
	}
	switch v := raw.(type) {
	case string:
		return ParseTimestamp(v)
	case time.Time:
		return v.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("payload %q is %T, want timestamp string", key, raw)
	}
}

// Selected reports whether the filter is selected in the payload.
func (p Payload) Selected(filter string) bool {
	b, _ := p[SelectedKey(filter)].(bool)
	return b
}

// SelectedKey is the payload key toggling a filter.
func SelectedKey(filter string) string { return filter + "_selected" }

// ExposureCountKey is the payload key of a filter's exposure count.
func ExposureCountKey(filter string) string { return filter + "_exposure_count" }

// ExposureTimeKey is the payload key of a filter's exposure time.
func ExposureTimeKey(filter string) string { return filter + "_exposure_time" }

// Layouts accepted for window timestamps. Naive timestamps are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp as written by the facility or
// by earlier versions of this service.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimestamp renders t as RFC3339 in UTC, without trailing zero fractions.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
