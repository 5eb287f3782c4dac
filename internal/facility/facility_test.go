package facility

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"

	"cadence_scheduler/internal/models"
)

type fakeTargets struct {
	targets map[int64]models.Target
}

func (f fakeTargets) TargetByID(_ context.Context, id int64) (models.Target, error) {
	t, ok := f.targets[id]
	if !ok {
		return models.Target{}, models.ErrNotFound
	}
	return t, nil
}

func testTargets() fakeTargets {
	ra, dec := 10.5, -20.25
	return fakeTargets{targets: map[int64]models.Target{
		7: {ID: 7, Name: "SA 98", Type: models.TargetSidereal, RA: &ra, Dec: &dec},
	}}
}

func imagerPayload() models.Payload {
	return models.Payload{
		"name":               "Imager calibration for fa15",
		"facility":           ImagerCalibrations,
		"proposal":           "standard",
		"ipp_value":          1.05,
		"instrument_type":    "1M0-SCICAM-SINISTRO",
		"observation_type":   TypeImager,
		"observation_mode":   "NORMAL",
		"cadence_frequency":  24,
		"site":               "lsc",
		"enclosure":          "doma",
		"telescope":          "1m0a",
		"instrument":         "fa15",
		"target_id":          7,
		"max_airmass":        3,
		"min_lunar_distance": 20,
		"start":              "2024-05-01T00:00:00Z",
		"end":                "2024-05-02T00:00:00Z",
		"B_selected":         true,
		"B_exposure_count":   2,
		"B_exposure_time":    30.0,
		"V_selected":         false,
		"V_exposure_count":   2,
		"V_exposure_time":    20.0,
		"rp_selected":        true,
		"rp_exposure_count":  1,
		"rp_exposure_time":   15.0,
	}
}

func newTestClient(t *testing.T, h http.Handler, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	schemas, err := LoadSchemas()
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	portal := NewPortal(PortalConfig{BaseURL: srv.URL, Token: "secret", Retries: retries}, nil).
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
	return New(ImagerCalibrations, portal, schemas, testTargets())
}

func TestClient_SubmitIsNotRetried(t *testing.T) {
	var hits int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, h, 3)

	if _, err := c.Submit(context.Background(), imagerPayload()); err == nil {
		t.Fatalf("expected error from failing portal")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("submit attempts = %d, want 1", got)
	}
}

func TestClient_SubmitReturnsRequestIDs(t *testing.T) {
	var group RequestGroup
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/requestgroups/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 900, "requests": [{"id": 11}, {"id": 12}]}`))
	})
	c := newTestClient(t, h, 0)

	ids, err := c.Submit(context.Background(), imagerPayload())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(ids) != 2 || ids[0] != "11" || ids[1] != "12" {
		t.Fatalf("ids = %v, want [11 12]", ids)
	}

	if group.Proposal != "standard" || len(group.Requests) != 1 {
		t.Fatalf("unexpected group: %+v", group)
	}
	confs := group.Requests[0].Configurations
	if len(confs) != 2 {
		t.Fatalf("configurations = %d, want one per selected filter", len(confs))
	}
	if confs[0].InstrumentConfigs[0].OpticalElements["filter"] != "B" || confs[1].InstrumentConfigs[0].OpticalElements["filter"] != "rp" {
		t.Fatalf("unexpected filters in %+v", confs)
	}
	if confs[0].Target["type"] != "ICRS" || confs[0].Target["name"] != "SA 98" {
		t.Fatalf("unexpected target %+v", confs[0].Target)
	}
	if loc := group.Requests[0].Location; loc.TelescopeClass != "1m0" || loc.Site != "lsc" {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestClient_SubmitRejectedWithFieldErrors(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"proposal": ["Not a member of this proposal"]}`))
	})
	c := newTestClient(t, h, 0)

	_, err := c.Submit(context.Background(), imagerPayload())
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FieldErrors", err)
	}
	if len(fe["proposal"]) != 1 {
		t.Fatalf("field errors = %v", fe)
	}
}

func TestClient_StatusRetriesTransientFailures(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/requests/11/", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 11, "state": "completed"}`))
	})
	mux.HandleFunc("/api/requests/11/observations/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"state": "FAILED", "start": "2024-05-01T01:00:00Z", "end": "2024-05-01T01:30:00Z"},
			{"state": "COMPLETED", "start": "2024-05-01T03:00:00Z", "end": "2024-05-01T03:40:00Z"}
		]`))
	})
	c := newTestClient(t, mux, 2)

	st, err := c.Status(context.Background(), "11")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != models.StatusCompleted {
		t.Fatalf("State = %q, want COMPLETED", st.State)
	}
	if st.ScheduledEnd == nil || st.ScheduledEnd.Hour() != 3 || st.ScheduledEnd.Minute() != 40 {
		t.Fatalf("ScheduledEnd = %v, want the latest observation's end", st.ScheduledEnd)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("request polls = %d, want 2", got)
	}
}

func TestClient_StatusDoesNotRetryNotFound(t *testing.T) {
	var hits int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, h, 3)

	_, err := c.Status(context.Background(), "404")
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want HTTPError 404", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestClient_ValidateLocalSchemaShortCircuits(t *testing.T) {
	var hits int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})
	c := newTestClient(t, h, 0)

	p := imagerPayload()
	delete(p, "proposal")
	p["ipp_value"] = 5.0

	err := c.Validate(context.Background(), TypeImager, p)
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FieldErrors", err)
	}
	if len(fe["ipp_value"]) == 0 {
		t.Fatalf("expected ipp_value error, got %v", fe)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("portal must not be called for a locally invalid payload")
	}
}

func TestClient_ValidateReportsPortalErrors(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/requestgroups/validate/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"request_durations": {}, "errors": {"requests": [{"windows": ["The window is not visible"]}]}}`))
	})
	c := newTestClient(t, h, 0)

	err := c.Validate(context.Background(), TypeImager, imagerPayload())
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FieldErrors", err)
	}
	if msgs := fe["requests[0].windows"]; len(msgs) != 1 || msgs[0] != "The window is not visible" {
		t.Fatalf("field errors = %v", fe)
	}
}

func TestClient_ValidateUnknownTarget(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), 0)
	p := imagerPayload()
	p["target_id"] = 99

	err := c.Validate(context.Background(), TypeImager, p)
	var fe FieldErrors
	if !errors.As(err, &fe) || len(fe["target_id"]) == 0 {
		t.Fatalf("err = %v, want target_id field error", err)
	}
}

func TestRegistry(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), 0)
	r := NewRegistry(c)

	got, ok := r.Get(ImagerCalibrations)
	if !ok || got.Name() != ImagerCalibrations {
		t.Fatalf("Get(%q) = %v, %v", ImagerCalibrations, got, ok)
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatalf("unexpected facility for unknown name")
	}
	if names := r.Names(); len(names) != 1 || names[0] != ImagerCalibrations {
		t.Fatalf("Names() = %v", names)
	}
}
