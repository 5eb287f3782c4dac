package facility

import (
	"fmt"
	"strings"

	"cadence_scheduler/internal/models"
)

// RequestGroup is the observation portal's submission document.
type RequestGroup struct {
	Name            string    `json:"name"`
	Proposal        string    `json:"proposal"`
	IPPValue        float64   `json:"ipp_value"`
	Operator        string    `json:"operator"`
	ObservationType string    `json:"observation_type"`
	Requests        []Request `json:"requests"`
}

type Request struct {
	Configurations []Configuration `json:"configurations"`
	Windows        []Window        `json:"windows"`
	Location       Location        `json:"location"`
}

type Configuration struct {
	Type              string             `json:"type"`
	InstrumentType    string             `json:"instrument_type"`
	Target            map[string]any     `json:"target"`
	Constraints       Constraints        `json:"constraints"`
	AcquisitionConfig map[string]any     `json:"acquisition_config"`
	GuidingConfig     map[string]any     `json:"guiding_config"`
	InstrumentConfigs []InstrumentConfig `json:"instrument_configs"`
}

type Constraints struct {
	MaxAirmass       float64 `json:"max_airmass"`
	MinLunarDistance float64 `json:"min_lunar_distance"`
}

type InstrumentConfig struct {
	ExposureCount   int               `json:"exposure_count"`
	ExposureTime    float64           `json:"exposure_time"`
	Mode            string            `json:"mode,omitempty"`
	OpticalElements map[string]string `json:"optical_elements,omitempty"`
	ExtraParams     map[string]any    `json:"extra_params,omitempty"`
}

type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Location struct {
	TelescopeClass string `json:"telescope_class"`
	Site           string `json:"site,omitempty"`
	Enclosure      string `json:"enclosure,omitempty"`
	Telescope      string `json:"telescope,omitempty"`
}

// configuration types per observation type
var configurationTypes = map[string]string{
	TypeImager:               "EXPOSE",
	TypePhotometricStandards: "STANDARD",
	TypeNRES:                 "NRES_SPECTRUM",
	TypeBias:                 "BIAS",
}

// BuildRequestGroup converts the flat payload into a single-request group.
func BuildRequestGroup(p models.Payload, target models.Target) (RequestGroup, error) {
	obsType := strings.ToUpper(p.String(models.PayloadObservationType))
	confType, ok := configurationTypes[obsType]
	if !ok {
		return RequestGroup{}, fmt.Errorf("%w: %q", ErrUnknownObservationType, obsType)
	}

	window, err := payloadWindow(p)
	if err != nil {
		return RequestGroup{}, err
	}

	ipp, _ := p.Float(models.PayloadIPPValue)
	mode := p.String(models.PayloadObservationMode)
	if mode == "" {
		mode = "NORMAL"
	}

	base := Configuration{
		Type:           confType,
		InstrumentType: p.String(models.PayloadInstrumentType),
		Target:         targetDocument(target),
		Constraints: Constraints{
			MaxAirmass:       floatOr(p, models.PayloadMaxAirmass, 1.6),
			MinLunarDistance: floatOr(p, models.PayloadMinLunarDistance, 30),
		},
		AcquisitionConfig: map[string]any{"mode": "OFF"},
		GuidingConfig:     map[string]any{"mode": "ON", "optional": true},
	}

	var configs []Configuration
	switch obsType {
	case TypeImager, TypePhotometricStandards:
		for _, f := range SelectedFilters(p) {
			c := base
			count, _ := p.Int(models.ExposureCountKey(f))
			exp, _ := p.Float(models.ExposureTimeKey(f))
			c.InstrumentConfigs = []InstrumentConfig{{
				ExposureCount:   count,
				ExposureTime:    exp,
				OpticalElements: map[string]string{"filter": f},
				ExtraParams:     diffuserParams(p),
			}}
			configs = append(configs, c)
		}
		if len(configs) == 0 {
			return RequestGroup{}, fmt.Errorf("payload selects no filters")
		}
	case TypeNRES:
		c := base
		c.AcquisitionConfig = map[string]any{"mode": "WCS"}
		count, _ := p.Int(models.PayloadExposureCount)
		exp, _ := p.Float(models.PayloadExposureTime)
		c.InstrumentConfigs = []InstrumentConfig{{ExposureCount: count, ExposureTime: exp}}
		configs = append(configs, c)
	case TypeBias:
		c := base
		c.GuidingConfig = map[string]any{"mode": "OFF", "optional": true}
		count, _ := p.Int(models.PayloadExposureCount)
		c.InstrumentConfigs = []InstrumentConfig{{
			ExposureCount: count,
			Mode:          p.String(models.PayloadReadoutMode),
		}}
		configs = append(configs, c)
	}

	telescope := p.String(models.PayloadTelescope)
	return RequestGroup{
		Name:            p.String(models.PayloadName),
		Proposal:        p.String(models.PayloadProposal),
		IPPValue:        ipp,
		Operator:        "SINGLE",
		ObservationType: mode,
		Requests: []Request{{
			Configurations: configs,
			Windows:        []Window{window},
			Location: Location{
				TelescopeClass: telescopeClass(telescope),
				Site:           p.String(models.PayloadSite),
				Enclosure:      p.String(models.PayloadEnclosure),
				Telescope:      telescope,
			},
		}},
	}, nil
}

func payloadWindow(p models.Payload) (Window, error) {
	start, err := p.Time("start")
	if err != nil {
		return Window{}, err
	}
	end, err := p.Time("end")
	if err != nil {
		return Window{}, err
	}
	return Window{Start: models.FormatTimestamp(start), End: models.FormatTimestamp(end)}, nil
}

func targetDocument(t models.Target) map[string]any {
	doc := map[string]any{"name": t.Name}
	switch t.Type {
	case models.TargetHourAngle:
		doc["type"] = "HOUR_ANGLE"
		if t.HourAngle != nil {
			doc["hour_angle"] = *t.HourAngle
		}
		if t.Dec != nil {
			doc["dec"] = *t.Dec
		}
	default:
		doc["type"] = "ICRS"
		doc["epoch"] = 2000
		if t.RA != nil {
			doc["ra"] = *t.RA
		}
		if t.Dec != nil {
			doc["dec"] = *t.Dec
		}
	}
	return doc
}

func diffuserParams(p models.Payload) map[string]any {
	out := map[string]any{}
	for _, key := range []string{"diffusers", "g_diffuser", "r_diffuser", "i_diffuser", "z_diffuser"} {
		if v := p.String(key); v != "" {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// telescopeClass derives "1m0" from a telescope code such as "1m0a".
func telescopeClass(telescope string) string {
	if len(telescope) < 3 {
		return telescope
	}
	return telescope[:3]
}

func floatOr(p models.Payload, key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}
