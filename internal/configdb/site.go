// Package configdb reads the observatory directory: sites, enclosures,
// telescopes and the instruments mounted on them.
package configdb

import "strings"

// Site is one entry of the ConfigDB sites/ document.
type Site struct {
	Code       string      `json:"code"`
	Active     bool        `json:"active"`
	Lat        float64     `json:"lat"`
	Long       float64     `json:"long"`
	Timezone   float64     `json:"tz"`
	Enclosures []Enclosure `json:"enclosure_set"`
}

type Enclosure struct {
	Code       string      `json:"code"`
	Active     bool        `json:"active"`
	Telescopes []Telescope `json:"telescope_set"`
}

type Telescope struct {
	Code        string             `json:"code"`
	Active      bool               `json:"active"`
	Horizon     float64            `json:"horizon"`
	HALimitNeg  float64            `json:"ha_limit_neg"`
	HALimitPos  float64            `json:"ha_limit_pos"`
	Instruments []InstrumentRecord `json:"instrument_set"`
}

type InstrumentRecord struct {
	Code             string         `json:"code"`
	State            string         `json:"state"`
	InstrumentType   InstrumentType `json:"instrument_type"`
	ScienceCameras   []Camera       `json:"science_cameras"`
	AutoguiderCamera *Camera        `json:"autoguider_camera"`
}

type InstrumentType struct {
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	ModeTypes []ModeType `json:"mode_types,omitempty"`
}

type ModeType struct {
	Type    string `json:"type"`
	Default string `json:"default"`
	Modes   []Mode `json:"modes"`
}

type Mode struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Overhead float64 `json:"overhead"`
}

type Camera struct {
	Code                 string                `json:"code"`
	OpticalElementGroups []OpticalElementGroup `json:"optical_element_groups,omitempty"`
}

type OpticalElementGroup struct {
	Type                  string           `json:"type"`
	ElementChangeOverhead float64          `json:"element_change_overhead"`
	OpticalElements       []OpticalElement `json:"optical_elements"`
}

type OpticalElement struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Schedulable bool   `json:"schedulable"`
}

// Instrument is the flattened view of one instrument and where it is mounted.
type Instrument struct {
	State              State               `json:"state"`
	Site               string              `json:"site"`
	Enclosure          string              `json:"enclosure"`
	Telescope          string              `json:"telescope"`
	Type               string              `json:"instrument_type"`
	Code               string              `json:"code"`
	CameraCodes        []string            `json:"camera_codes"`
	AutoguiderCode     string              `json:"ag_code,omitempty"`
	OpticalElements    map[string][]string `json:"optical_elements,omitempty"`
	ReadoutModes       []string            `json:"readout_modes,omitempty"`
	DefaultReadoutMode string              `json:"default_readout_mode,omitempty"`
	Latitude           float64             `json:"latitude"`
	Longitude          float64             `json:"longitude"`
	Horizon            float64             `json:"horizon"`
}

// TelescopeCode renders site.enclosure.telescope.
func (i Instrument) TelescopeCode() string {
	return i.Site + "." + i.Enclosure + "." + i.Telescope
}

// Filters returns the codes of the instrument's filter optical elements.
func (i Instrument) Filters() []string {
	return i.OpticalElements["filters"]
}

// IsSpectrograph reports whether the instrument type is a spectrograph.
func IsSpectrograph(instrumentType string) bool {
	t := strings.ToUpper(instrumentType)
	return strings.Contains(t, "NRES") || strings.Contains(t, "FLOYDS")
}

func flatten(site Site, enc Enclosure, tel Telescope, rec InstrumentRecord) Instrument {
	inst := Instrument{
		State:     ParseState(rec.State),
		Site:      site.Code,
		Enclosure: enc.Code,
		Telescope: tel.Code,
		Type:      strings.ToUpper(rec.InstrumentType.Code),
		Code:      rec.Code,
		Latitude:  site.Lat,
		Longitude: site.Long,
		Horizon:   tel.Horizon,
	}
	for _, cam := range rec.ScienceCameras {
		inst.CameraCodes = append(inst.CameraCodes, cam.Code)
		for _, group := range cam.OpticalElementGroups {
			if inst.OpticalElements == nil {
				inst.OpticalElements = make(map[string][]string)
			}
			for _, el := range group.OpticalElements {
				inst.OpticalElements[group.Type] = append(inst.OpticalElements[group.Type], el.Code)
			}
		}
	}
	if rec.AutoguiderCamera != nil {
		inst.AutoguiderCode = rec.AutoguiderCamera.Code
	}
	for _, mt := range rec.InstrumentType.ModeTypes {
		if mt.Type != "readout" {
			continue
		}
		for _, m := range mt.Modes {
			inst.ReadoutModes = append(inst.ReadoutModes, m.Code)
		}
		inst.DefaultReadoutMode = mt.Default
		break
	}
	return inst
}
