package configdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const sitesDoc = `{"results": [
  {"code": "lsc", "active": true, "lat": -30.16, "long": -70.8, "tz": -4,
   "enclosure_set": [{"code": "doma", "active": true, "telescope_set": [{
     "code": "1m0a", "active": true, "horizon": 15, "ha_limit_neg": -4.6, "ha_limit_pos": 4.6,
     "instrument_set": [
       {"code": "fa15", "state": "SCHEDULABLE",
        "instrument_type": {"code": "1M0-SCICAM-SINISTRO", "name": "Sinistro",
          "mode_types": [{"type": "readout", "default": "full_frame",
            "modes": [{"code": "full_frame", "name": "Full Frame", "overhead": 2}, {"code": "central_2k_2x2", "name": "Central 2k", "overhead": 1}]}]},
        "science_cameras": [{"code": "fa15", "optical_element_groups": [
          {"type": "filters", "element_change_overhead": 2, "optical_elements": [{"code": "B", "name": "Bessell-B", "schedulable": true}, {"code": "V", "name": "Bessell-V", "schedulable": true}]}]}],
        "autoguider_camera": {"code": "ak05"}},
       {"code": "nres01", "state": "COMMISSIONING",
        "instrument_type": {"code": "1M0-NRES-SCICAM", "name": "NRES"},
        "science_cameras": [{"code": "fl09"}],
        "autoguider_camera": {"code": "ak15"}},
       {"code": "fa99", "state": "DISABLED",
        "instrument_type": {"code": "1M0-SCICAM-SINISTRO", "name": "Sinistro"},
        "science_cameras": [{"code": "fa99"}]}
     ]}]}]},
  {"code": "elp", "active": true, "lat": 30.67, "long": -104.0, "tz": -6,
   "enclosure_set": [{"code": "domb", "active": true, "telescope_set": [{
     "code": "1m0a", "active": true, "horizon": 15,
     "instrument_set": [
       {"code": "fa05", "state": "STANDBY",
        "instrument_type": {"code": "1M0-SCICAM-SINISTRO", "name": "Sinistro"},
        "science_cameras": [{"code": "fa05"}]}
     ]}]}]}
]}`

type fakeFetcher struct {
	sites []Site
	err   error
	calls int
}

func (f *fakeFetcher) Sites(context.Context) ([]Site, error) {
	f.calls++
	return f.sites, f.err
}

func loadedCache(t *testing.T) *Cache {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sites/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(sitesDoc))
	}))
	t.Cleanup(srv.Close)

	c := NewCache(NewClient(srv.URL, time.Second), time.Hour, nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return c
}

func TestCache_ActiveInstruments(t *testing.T) {
	c := loadedCache(t)

	all := c.ActiveInstruments(AllSites, "", true, false)
	if len(all) != 3 {
		t.Fatalf("active instruments = %d, want 3 (disabled excluded)", len(all))
	}

	noCommissioning := c.ActiveInstruments("lsc", "", false, false)
	if len(noCommissioning) != 1 || noCommissioning[0].Code != "fa15" {
		t.Fatalf("without commissioning = %+v", noCommissioning)
	}

	everything := c.ActiveInstruments("lsc", "", false, true)
	if len(everything) != 3 {
		t.Fatalf("everything at lsc = %d, want 3", len(everything))
	}

	fa15 := noCommissioning[0]
	if fa15.DefaultReadoutMode != "full_frame" || len(fa15.ReadoutModes) != 2 {
		t.Fatalf("readout modes = %v default %q", fa15.ReadoutModes, fa15.DefaultReadoutMode)
	}
	if got := fa15.Filters(); len(got) != 2 || got[0] != "B" {
		t.Fatalf("filters = %v", got)
	}
	if fa15.TelescopeCode() != "lsc.doma.1m0a" || fa15.AutoguiderCode != "ak05" {
		t.Fatalf("unexpected flattening %+v", fa15)
	}
}

func TestCache_MatchingInstrument(t *testing.T) {
	c := loadedCache(t)

	nres, err := c.MatchingInstrument(Query{Site: "lsc", InstrumentType: "1m0-nres-scicam"})
	if err != nil {
		t.Fatalf("MatchingInstrument: %v", err)
	}
	if nres.Code != "nres01" || nres.Enclosure != "doma" || nres.Telescope != "1m0a" {
		t.Fatalf("unexpected instrument %+v", nres)
	}

	if _, err := c.MatchingInstrument(Query{Site: "lsc", InstrumentCode: "fa99"}); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("disabled instrument err = %v, want ErrInstrumentNotFound", err)
	}
	if _, err := c.MatchingInstrument(Query{Site: "lsc", InstrumentCode: "fa99", IncludeEverything: true}); err != nil {
		t.Fatalf("IncludeEverything: %v", err)
	}
	if _, err := c.MatchingInstrument(Query{Site: "elp", Enclosure: "doma"}); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("err = %v, want ErrInstrumentNotFound", err)
	}
}

func TestCache_InstrumentTypesAndImagers(t *testing.T) {
	c := loadedCache(t)

	types := c.InstrumentTypes("lsc")
	if len(types) != 2 || types[0].Code != "1M0-NRES-SCICAM" || types[1].Code != "1M0-SCICAM-SINISTRO" {
		t.Fatalf("InstrumentTypes = %+v", types)
	}

	imagers := c.Imagers(AllSites)
	if len(imagers) != 2 {
		t.Fatalf("Imagers = %+v, want fa15 and fa05", imagers)
	}
	for _, i := range imagers {
		if IsSpectrograph(i.Type) {
			t.Fatalf("spectrograph %s listed as imager", i.Code)
		}
	}
}

func TestCache_FailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{sites: []Site{{Code: "lsc", Active: true}}}
	c := NewCache(f, time.Hour, nil).WithClock(func() time.Time { return now })

	if !c.Stale() {
		t.Fatalf("empty cache must be stale")
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Stale() {
		t.Fatalf("fresh cache reported stale")
	}

	now = now.Add(2 * time.Hour)
	if !c.Stale() {
		t.Fatalf("cache older than ttl must be stale")
	}

	f.err = errors.New("configdb down")
	f.sites = nil
	if err := c.RefreshIfStale(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if got := c.Sites(); len(got) != 1 || got[0].Code != "lsc" {
		t.Fatalf("previous snapshot lost: %+v", got)
	}
	if !c.Stale() {
		t.Fatalf("failed refresh must not reset the ttl")
	}
}

func TestCache_RefreshIfStaleSkipsFreshCache(t *testing.T) {
	f := &fakeFetcher{sites: []Site{{Code: "lsc"}}}
	c := NewCache(f, time.Hour, nil)
	_ = c.Refresh(context.Background())
	_ = c.RefreshIfStale(context.Background())
	if f.calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.calls)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second).WithRetry(3, func() backoff.BackOff { return &backoff.ZeroBackOff{} })
	sites, err := c.Sites(context.Background())
	if err != nil {
		t.Fatalf("Sites: %v", err)
	}
	if len(sites) != 0 || atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("sites=%v hits=%d", sites, hits)
	}
}

func TestClient_MissingResultsIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"detail": "nope"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second).WithRetry(3, func() backoff.BackOff { return &backoff.ZeroBackOff{} })
	if _, err := c.Sites(context.Background()); !errors.Is(err, errNoResults) {
		t.Fatalf("err = %v, want errNoResults", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
}

func TestShouldInclude(t *testing.T) {
	tests := []struct {
		state                     State
		everything, commissioning bool
		want                      bool
	}{
		{StateSchedulable, false, false, true},
		{StateStandby, false, false, true},
		{StateCommissioning, false, false, false},
		{StateCommissioning, false, true, true},
		{StateDisabled, false, true, false},
		{StateManual, true, false, true},
	}
	for _, tt := range tests {
		if got := ShouldInclude(tt.state, tt.everything, tt.commissioning); got != tt.want {
			t.Fatalf("ShouldInclude(%s, %v, %v) = %v, want %v", tt.state, tt.everything, tt.commissioning, got, tt.want)
		}
	}
	if ParseState("schedulable") != StateSchedulable || ParseState("bogus") != StateDisabled {
		t.Fatalf("ParseState normalisation failed")
	}
}
