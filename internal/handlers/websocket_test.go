package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// --- parseInterval unit tests ---

func TestParseInterval(t *testing.T) {
	h := NewHandler(&service.Service{}, nil)

	cases := []struct {
		name string
		u    string
		want time.Duration
	}{
		{"default_when_missing", "/ws", 1 * time.Second},
		{"interval_string_valid", "/ws?interval=200ms", 200 * time.Millisecond},
		{"interval_ms_valid", "/ws?interval_ms=150", 150 * time.Millisecond},
		{"interval_too_large", "/ws?interval=20s", 1 * time.Second},
		{"interval_ms_too_large", "/ws?interval_ms=20000", 1 * time.Second},
		{"interval_invalid_string", "/ws?interval=bogus", 1 * time.Second},
		{"interval_ms_invalid", "/ws?interval_ms=NaN", 1 * time.Second},
		{"both_present_interval_wins", "/ws?interval=2s&interval_ms=150", 2 * time.Second},
		{"both_present_invalid_interval_ms_used", "/ws?interval=bogus&interval_ms=250", 250 * time.Millisecond},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.u, nil)
			c, _ := gin.CreateTestContext(w)
			c.Request = req
			got := h.parseInterval(c)
			if got != tc.want {
				t.Fatalf("got %v, want %v for %s", got, tc.want, tc.u)
			}
		})
	}
}

func TestEventCursor_DropsRepeatsAtTheCursorInstant(t *testing.T) {
	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cur := &eventCursor{filter: service.LogFilter{From: t0}, seen: map[string]struct{}{}}

	first := cur.next([]models.CadenceEvent{
		{EventID: "a", OccurredAt: t0},
		{EventID: "b", OccurredAt: t0.Add(time.Second)},
	})
	if len(first) != 2 || !cur.filter.From.Equal(t0.Add(time.Second)) {
		t.Fatalf("first = %+v, from = %v", first, cur.filter.From)
	}

	// The log returns "b" again because From is inclusive.
	second := cur.next([]models.CadenceEvent{
		{EventID: "b", OccurredAt: t0.Add(time.Second)},
		{EventID: "c", OccurredAt: t0.Add(time.Second)},
	})
	if len(second) != 1 || second[0].EventID != "c" {
		t.Fatalf("second = %+v", second)
	}
	if third := cur.next([]models.CadenceEvent{{EventID: "b", OccurredAt: t0.Add(time.Second)}, {EventID: "c", OccurredAt: t0.Add(time.Second)}}); len(third) != 0 {
		t.Fatalf("third = %+v", third)
	}
}

// --- websocket integration tests ---

type envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func dialEvents(t *testing.T, logs *mockEventLog, query url.Values) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(&service.Service{EventLog: logs}, nil)
	r.GET("/ws", h.wsConnect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn) []models.CadenceEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != wsTypeEvents {
		t.Fatalf("bad envelope: %+v", env)
	}
	var events []models.CadenceEvent
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &events); err != nil {
			t.Fatalf("unmarshal events: %v", err)
		}
	}
	return events
}

func TestWebSocket_EventStream_BacklogThenNewEvents(t *testing.T) {
	since := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	logs := &mockEventLog{resp: []models.CadenceEvent{
		{EventID: "old", CadenceID: 3, OccurredAt: since.Add(-time.Hour), Type: models.EventIdle},
		{EventID: "e1", CadenceID: 3, OccurredAt: since.Add(time.Hour), Type: models.EventSubmitted},
	}}
	conn := dialEvents(t, logs, url.Values{
		"since":       {"2024-03-10"},
		"cadence_id":  {"3"},
		"interval_ms": {"20"},
	})

	backlog := readEvents(t, conn)
	if len(backlog) != 1 || backlog[0].EventID != "e1" {
		t.Fatalf("backlog = %+v", backlog)
	}

	logs.add(models.CadenceEvent{EventID: "e2", CadenceID: 3, OccurredAt: since.Add(2 * time.Hour), Type: models.EventSkipped})
	next := readEvents(t, conn)
	if len(next) != 1 || next[0].EventID != "e2" {
		t.Fatalf("next = %+v", next)
	}

	logs.mu.Lock()
	defer logs.mu.Unlock()
	if logs.lastID != 3 {
		t.Fatalf("cadence filter not forwarded: %d", logs.lastID)
	}
}

func TestWebSocket_InitialMessageSentEvenWhenEmpty(t *testing.T) {
	conn := dialEvents(t, &mockEventLog{}, url.Values{"interval_ms": {"20"}})
	if got := readEvents(t, conn); len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
}

func TestWebSocket_ListError_SendsErrorAndCloses(t *testing.T) {
	conn := dialEvents(t, &mockEventLog{err: errors.New("boom")}, url.Values{})

	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read error envelope: %v", err)
	}
	if env.Type != wsTypeError || env.Error == "" {
		t.Fatalf("bad envelope: %+v", env)
	}
	var raw json.RawMessage
	if err := conn.ReadJSON(&raw); err == nil {
		t.Fatalf("expected read error (closed), got message: %s", string(raw))
	}
}

func TestWebSocket_BadCursorRejectedBeforeUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(&service.Service{EventLog: &mockEventLog{}}, nil)
	r.GET("/ws", h.wsConnect)

	for _, q := range []string{"/ws?since=yesterday", "/ws?cadence_id=-1"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, q, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", q, w.Code)
		}
	}
}
