package models

import "strings"

// Filter is an optical filter with its default calibration exposure.
type Filter struct {
	Name          string  `json:"name" yaml:"name"`
	ExposureTime  float64 `json:"exposure_time" yaml:"exposure_time"`
	ExposureCount int     `json:"exposure_count" yaml:"exposure_count"`
}

// InstrumentFilter attaches a filter to an instrument.
type InstrumentFilter struct {
	Filter Filter `json:"filter"`
	MaxAge int    `json:"max_age"`
}

// InstrumentFilterSet attaches a set of filters calibrated together.
type InstrumentFilterSet struct {
	ID      int64    `json:"id"`
	Filters []Filter `json:"filters"`
	MaxAge  int      `json:"max_age"`
}

// Names returns the member filter names in order.
func (s InstrumentFilterSet) Names() []string {
	out := make([]string, 0, len(s.Filters))
	for _, f := range s.Filters {
		out = append(out, f.Name)
	}
	return out
}

// Label is a short human-readable identifier such as "g r i".
func (s InstrumentFilterSet) Label() string {
	return strings.Join(s.Names(), " ")
}

// Instrument is a catalogued imager or spectrograph.
type Instrument struct {
	Code       string                `json:"code"`
	Site       string                `json:"site"`
	Enclosure  string                `json:"enclosure"`
	Telescope  string                `json:"telescope"`
	Type       string                `json:"type"`
	Filters    []InstrumentFilter    `json:"filters,omitempty"`
	FilterSets []InstrumentFilterSet `json:"filter_sets,omitempty"`
}

// String renders site.enclosure.telescope.code.
func (i Instrument) String() string {
	return i.Site + "." + i.Enclosure + "." + i.Telescope + "." + i.Code
}

// Target types.
const (
	TargetSidereal  = "SIDEREAL"
	TargetHourAngle = "HOUR_ANGLE"
)

// Target is a calibration target. Seasonal bounds are month numbers.
type Target struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	RA            *float64          `json:"ra,omitempty"`
	Dec           *float64          `json:"dec,omitempty"`
	HourAngle     *float64          `json:"hour_angle,omitempty"`
	SeasonalStart *int              `json:"seasonal_start,omitempty"`
	SeasonalEnd   *int              `json:"seasonal_end,omitempty"`
	Extras        map[string]string `json:"extras,omitempty"`
}

// BiasTarget is the placeholder target every bias request carries.
func BiasTarget() Target {
	ha, dec := 1.0, 0.0
	return Target{
		Name:      "Bias target",
		Type:      TargetHourAngle,
		HourAngle: &ha,
		Dec:       &dec,
	}
}
