package facility

import (
	"errors"
	"testing"

	"cadence_scheduler/internal/models"
)

func loadSchemas(t *testing.T) *Schemas {
	t.Helper()
	s, err := LoadSchemas()
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	return s
}

func TestSchemas_Types(t *testing.T) {
	got := loadSchemas(t).Types()
	want := []string{TypeBias, TypeImager, TypeNRES, TypePhotometricStandards}
	if len(got) != len(want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types() = %v, want %v", got, want)
		}
	}
}

func TestSchemas_Validate(t *testing.T) {
	s := loadSchemas(t)

	tests := []struct {
		name      string
		obsType   string
		mutate    func(models.Payload)
		wantField string
	}{
		{name: "valid imager payload", obsType: TypeImager, mutate: func(models.Payload) {}},
		{
			name:      "missing proposal",
			obsType:   TypeImager,
			mutate:    func(p models.Payload) { delete(p, "proposal") },
			wantField: "payload",
		},
		{
			name:      "no filter selected",
			obsType:   TypeImager,
			mutate:    func(p models.Payload) { p["B_selected"] = false; p["rp_selected"] = false },
			wantField: "filters",
		},
		{
			name:      "selected filter without exposure",
			obsType:   TypeImager,
			mutate:    func(p models.Payload) { p["U_selected"] = true },
			wantField: "U_exposure_count",
		},
		{
			name:      "window end before start",
			obsType:   TypeImager,
			mutate:    func(p models.Payload) { p["end"] = "2024-04-30T00:00:00Z" },
			wantField: "end",
		},
		{
			name:      "wrong observation type",
			obsType:   TypeImager,
			mutate:    func(p models.Payload) { p["observation_type"] = TypeNRES },
			wantField: "observation_type",
		},
		{
			name:      "non-integer exposure count",
			obsType:   TypeImager,
			mutate:    func(p models.Payload) { p["B_exposure_count"] = 1.5 },
			wantField: "B_exposure_count",
		},
		{
			name:    "naive timestamps accepted",
			obsType: TypeImager,
			mutate: func(p models.Payload) {
				p["start"] = "2024-05-01T00:00:00"
				p["end"] = "2024-05-01 12:00:00"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := imagerPayload()
			tt.mutate(p)
			err := s.Validate(tt.obsType, p)

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var fe FieldErrors
			if !errors.As(err, &fe) {
				t.Fatalf("Validate() err = %v, want FieldErrors", err)
			}
			if len(fe[tt.wantField]) == 0 {
				t.Fatalf("expected error on %q, got %v", tt.wantField, fe)
			}
		})
	}
}

func TestSchemas_UnknownObservationType(t *testing.T) {
	err := loadSchemas(t).Validate("FLOYDS", imagerPayload())
	if !errors.Is(err, ErrUnknownObservationType) {
		t.Fatalf("err = %v, want ErrUnknownObservationType", err)
	}
}

func TestSchemas_BiasRequiresReadoutMode(t *testing.T) {
	p := models.Payload{
		"name":             "Bias for fa15",
		"proposal":         "calibrate",
		"ipp_value":        1.0,
		"instrument_type":  "1M0-SCICAM-SINISTRO",
		"observation_type": TypeBias,
		"site":             "lsc",
		"enclosure":        "doma",
		"telescope":        "1m0a",
		"instrument":       "fa15",
		"exposure_count":   10,
		"start":            "2024-05-01T00:00:00Z",
		"end":              "2024-05-01T06:00:00Z",
	}
	err := loadSchemas(t).Validate(TypeBias, p)
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FieldErrors for missing readout_mode", err)
	}

	p["readout_mode"] = "full_frame"
	if err := loadSchemas(t).Validate(TypeBias, p); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestBuildRequestGroup_Bias(t *testing.T) {
	p := models.Payload{
		"name":             "Bias for fa15",
		"proposal":         "calibrate",
		"ipp_value":        1.0,
		"instrument_type":  "1M0-SCICAM-SINISTRO",
		"observation_type": TypeBias,
		"site":             "lsc",
		"enclosure":        "doma",
		"telescope":        "1m0a",
		"exposure_count":   10,
		"readout_mode":     "full_frame",
		"max_airmass":      20,
		"start":            "2024-05-01T00:00:00",
		"end":              "2024-05-01T06:00:00",
	}
	g, err := BuildRequestGroup(p, models.BiasTarget())
	if err != nil {
		t.Fatalf("BuildRequestGroup: %v", err)
	}
	c := g.Requests[0].Configurations[0]
	if c.Type != "BIAS" || c.Target["type"] != "HOUR_ANGLE" || c.Target["hour_angle"] != 1.0 {
		t.Fatalf("unexpected configuration %+v", c)
	}
	if ic := c.InstrumentConfigs[0]; ic.ExposureCount != 10 || ic.Mode != "full_frame" || ic.ExposureTime != 0 {
		t.Fatalf("unexpected instrument config %+v", ic)
	}
	if c.Constraints.MaxAirmass != 20 {
		t.Fatalf("MaxAirmass = %v, want 20", c.Constraints.MaxAirmass)
	}
	if w := g.Requests[0].Windows[0]; w.Start != "2024-05-01T00:00:00Z" || w.End != "2024-05-01T06:00:00Z" {
		t.Fatalf("window = %+v, want UTC RFC3339", w)
	}
}
