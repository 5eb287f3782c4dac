package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadence_scheduler/internal/cadence"
	"cadence_scheduler/internal/models"
)

// fakeInstrumentRepo is an in-memory repository.InstrumentRepo.
type fakeInstrumentRepo struct {
	instruments map[string]models.Instrument
	upserted    []models.Instrument
}

func (f *fakeInstrumentRepo) UpsertInstrument(_ context.Context, inst models.Instrument) error {
	f.upserted = append(f.upserted, inst)
	return nil
}
func (f *fakeInstrumentRepo) UpsertFilter(context.Context, models.Filter) error { return nil }
func (f *fakeInstrumentRepo) AttachFilter(context.Context, string, string, int) error {
	return nil
}
func (f *fakeInstrumentRepo) AttachFilterSet(context.Context, string, []string, int) error {
	return nil
}
func (f *fakeInstrumentRepo) InstrumentByCode(_ context.Context, code string) (models.Instrument, error) {
	inst, ok := f.instruments[code]
	if !ok {
		return models.Instrument{}, models.ErrNotFound
	}
	return inst, nil
}
func (f *fakeInstrumentRepo) List(context.Context) ([]models.Instrument, error) {
	var out []models.Instrument
	for _, code := range []string{"fa15", "fa16", "kb99"} {
		if inst, ok := f.instruments[code]; ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

func imagerCatalog() *fakeInstrumentRepo {
	withFilters := func(code string) models.Instrument {
		return models.Instrument{
			Code: code,
			Site: "lsc",
			Filters: []models.InstrumentFilter{
				{Filter: models.Filter{Name: "B"}, MaxAge: 5},
				{Filter: models.Filter{Name: "V"}, MaxAge: 5},
			},
		}
	}
	return &fakeInstrumentRepo{instruments: map[string]models.Instrument{
		"fa15": withFilters("fa15"),
		"fa16": withFilters("fa16"),
		"kb99": {Code: "kb99", Site: "ogg"},
	}}
}

func TestCadenceService_Create(t *testing.T) {
	repo := &fakeCadenceRepo{}
	svc := NewCadenceService(repo, imagerCatalog(), &fakeRunner{})

	dc, err := svc.Create(context.Background(), CadenceInput{
		Strategy:   " " + cadence.NRESCadence + " ",
		GroupName:  "nres lsc",
		Parameters: models.CadenceParameters{models.ParamSite: "lsc", models.ParamCadenceFrequency: 24.0},
		Active:     true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if dc.ID == 0 || dc.Strategy != cadence.NRESCadence || !dc.Active {
		t.Fatalf("unexpected cadence %+v", dc)
	}
}

func TestCadenceService_CreateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   CadenceInput
	}{
		{"unknown strategy", CadenceInput{Strategy: "FlatCadenceStrategy", GroupName: "g"}},
		{"missing group", CadenceInput{Strategy: cadence.BiasCadence}},
		{"zero frequency", CadenceInput{Strategy: cadence.BiasCadence, GroupName: "g", Parameters: models.CadenceParameters{models.ParamCadenceFrequency: 0}}},
		{"fractional frequency", CadenceInput{Strategy: cadence.BiasCadence, GroupName: "g", Parameters: models.CadenceParameters{models.ParamCadenceFrequencyHours: 1.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeCadenceRepo{}
			svc := NewCadenceService(repo, imagerCatalog(), &fakeRunner{})
			if _, err := svc.Create(context.Background(), tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if len(repo.cadences) != 0 {
				t.Fatalf("invalid cadence was stored")
			}
		})
	}
}

func TestCadenceService_Update(t *testing.T) {
	repo := &fakeCadenceRepo{cadences: []models.DynamicCadence{{ID: 3, Active: true, Parameters: models.CadenceParameters{"site": "lsc"}}}}
	svc := NewCadenceService(repo, imagerCatalog(), &fakeRunner{})

	inactive := false
	dc, err := svc.Update(context.Background(), 3, CadenceUpdate{
		Parameters: models.CadenceParameters{"site": "cpt", models.ParamCadenceFrequency: 48},
		Active:     &inactive,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if dc.Active || dc.Parameters["site"] != "cpt" {
		t.Fatalf("unexpected cadence %+v", dc)
	}

	if len(repo.patches) != 1 || repo.patches[0].Active == nil || repo.patches[0].Parameters == nil {
		t.Fatalf("expected one combined patch, got %+v", repo.patches)
	}

	if _, err := svc.Update(context.Background(), 9, CadenceUpdate{Active: &inactive}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCadenceService_UpdateFailureLeavesCadenceUnchanged(t *testing.T) {
	repo := &fakeCadenceRepo{
		cadences:  []models.DynamicCadence{{ID: 3, Active: true, Parameters: models.CadenceParameters{"site": "lsc"}}},
		updateErr: errors.New("database is locked"),
	}
	svc := NewCadenceService(repo, imagerCatalog(), &fakeRunner{})

	inactive := false
	_, err := svc.Update(context.Background(), 3, CadenceUpdate{
		Parameters: models.CadenceParameters{"site": "cpt", models.ParamCadenceFrequency: 48},
		Active:     &inactive,
	})
	if err == nil {
		t.Fatalf("expected the store error")
	}
	dc, _ := repo.Get(context.Background(), 3)
	if !dc.Active || dc.Parameters["site"] != "lsc" {
		t.Fatalf("cadence changed after a failed update: %+v", dc)
	}
}

func TestCadenceService_InitializeImagerCadences(t *testing.T) {
	repo := &fakeCadenceRepo{cadences: []models.DynamicCadence{{
		ID:         1,
		Strategy:   cadence.ImagerCadence,
		Parameters: models.CadenceParameters{models.ParamInstrumentCode: "fa15"},
	}}}
	repo.nextID = 1
	svc := NewCadenceService(repo, imagerCatalog(), &fakeRunner{})

	created, err := svc.InitializeImagerCadences(context.Background(), 9, 0)
	if err != nil {
		t.Fatalf("InitializeImagerCadences: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one new cadence (fa16), got %+v", created)
	}
	dc := created[0]
	if code, _ := dc.Parameters.String(models.ParamInstrumentCode); code != "fa16" {
		t.Fatalf("instrument_code = %v", dc.Parameters[models.ParamInstrumentCode])
	}
	if f, _ := dc.Parameters.Frequency(); f != DefaultImagerFrequencyHours || !dc.Active {
		t.Fatalf("unexpected cadence %+v", dc)
	}
	if id, _ := dc.Parameters.Int(models.ParamTargetID); id != 9 {
		t.Fatalf("target_id = %v", dc.Parameters[models.ParamTargetID])
	}

	again, err := svc.InitializeImagerCadences(context.Background(), 9, 24)
	if err != nil || len(again) != 0 {
		t.Fatalf("second run created %+v, %v", again, err)
	}
	if _, err := svc.InitializeImagerCadences(context.Background(), 0, 24); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

// fakeTargetRepo is an in-memory repository.TargetRepo.
type fakeTargetRepo struct {
	targets []models.Target
}

func (f *fakeTargetRepo) Create(_ context.Context, t models.Target) (int64, error) {
	t.ID = int64(len(f.targets) + 1)
	f.targets = append(f.targets, t)
	return t.ID, nil
}

func (f *fakeTargetRepo) TargetByID(_ context.Context, id int64) (models.Target, error) {
	for _, t := range f.targets {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Target{}, models.ErrNotFound
}

func (f *fakeTargetRepo) List(context.Context) ([]models.Target, error) { return f.targets, nil }

func TestTargetService_CreateTarget(t *testing.T) {
	ra, dec, ha := 103.0, -0.3, 1.0
	nov, mar, bad := 11, 3, 13

	tests := []struct {
		name    string
		in      models.Target
		wantErr bool
	}{
		{"sidereal defaults type", models.Target{Name: "SA 98", RA: &ra, Dec: &dec, SeasonalStart: &nov, SeasonalEnd: &mar}, false},
		{"hour angle", models.Target{Name: "Bias target", Type: "hour_angle", HourAngle: &ha, Dec: &dec}, false},
		{"missing name", models.Target{RA: &ra, Dec: &dec}, true},
		{"sidereal without ra", models.Target{Name: "x", Dec: &dec}, true},
		{"unknown type", models.Target{Name: "x", Type: "NON_SIDEREAL", RA: &ra, Dec: &dec}, true},
		{"half a season", models.Target{Name: "x", RA: &ra, Dec: &dec, SeasonalStart: &nov}, true},
		{"month out of range", models.Target{Name: "x", RA: &ra, Dec: &dec, SeasonalStart: &nov, SeasonalEnd: &bad}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTargetService(&fakeTargetRepo{}, nil)
			got, err := svc.CreateTarget(context.Background(), tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil || got.ID == 0 {
				t.Fatalf("CreateTarget = %+v, %v", got, err)
			}
			if got.Type != models.TargetSidereal && got.Type != models.TargetHourAngle {
				t.Fatalf("type not normalized: %q", got.Type)
			}
		})
	}
}

func TestTargetService_ListTargetsInSeason(t *testing.T) {
	nov, feb, may, aug := 11, 2, 5, 8
	repo := &fakeTargetRepo{targets: []models.Target{
		{ID: 1, Name: "Winter star", SeasonalStart: &nov, SeasonalEnd: &feb},
		{ID: 2, Name: "Summer star", SeasonalStart: &may, SeasonalEnd: &aug},
		{ID: 3, Name: "Circumpolar"},
	}}
	january := func() time.Time { return time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC) }
	svc := NewTargetService(repo, january)

	all, err := svc.ListTargets(context.Background(), TargetListFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("ListTargets = %+v, %v", all, err)
	}
	got, err := svc.ListTargets(context.Background(), TargetListFilter{InSeason: true})
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("in season = %+v, want Winter star and Circumpolar", got)
	}
}
