package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	root "cadence_scheduler"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 1 << 12 // 4 KB
	defaultInterval  = 1 * time.Second
	maxInterval      = 10 * time.Second
	maxIntervalMilli = 10_000 // 10s in ms

	wsTypeEvents = "events"
	wsTypeError  = "error"
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Upgrader for HTTP -> WebSocket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventCursor remembers how far a subscriber has read the event log.
// From is inclusive, so ids already sent at the cursor instant are kept to drop repeats.
type eventCursor struct {
	filter service.LogFilter
	seen   map[string]struct{}
}

// next returns events not yet delivered and advances the cursor.
func (cur *eventCursor) next(events []models.CadenceEvent) []models.CadenceEvent {
	fresh := make([]models.CadenceEvent, 0, len(events))
	for _, ev := range events {
		if _, ok := cur.seen[ev.EventID]; ok {
			continue
		}
		fresh = append(fresh, ev)
	}
	for _, ev := range fresh {
		if ev.OccurredAt.After(cur.filter.From) {
			cur.filter.From = ev.OccurredAt
			cur.seen = map[string]struct{}{}
		}
	}
	for _, ev := range fresh {
		if ev.OccurredAt.Equal(cur.filter.From) {
			cur.seen[ev.EventID] = struct{}{}
		}
	}
	return fresh
}

// @Summary      Tick event stream
// @Description  WebSocket upgrade. Sends {"type":"events","data":[...]} with every new tick event. The first message carries events since 'since' (default: connect time).
// @Tags         logs
// @Param        since        query  string  false  "Replay events from this time (RFC3339 or YYYY-MM-DD)"
// @Param        cadence_id   query  int     false  "Only events of this cadence"
// @Param        interval     query  string  false  "Poll interval, e.g. 2s"
// @Param        interval_ms  query  int     false  "Poll interval in milliseconds"
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	interval := h.parseInterval(c)
	cur, err := h.parseCursor(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, root.ErrorResponse{Error: err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reader goroutine to handle control frames and detect disconnects.
	done := make(chan struct{})
	go h.startReader(conn, done)

	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	// The first batch is always sent, even when empty.
	if err := h.sendEvents(c.Request.Context(), conn, cur, true); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case <-ticker.C:
			if err := h.sendEvents(c.Request.Context(), conn, cur, false); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "err", err)
				}
				return
			}
		}
	}
}

// Helper: parseInterval reads ?interval=2s or ?interval_ms=2000 with bounds.
func (h *Handler) parseInterval(c *gin.Context) time.Duration {
	interval := defaultInterval

	if s := c.Query("interval"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 && d <= maxInterval {
			return d
		}
	}

	if ms := c.Query("interval_ms"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 && v <= maxIntervalMilli {
			return time.Duration(v) * time.Millisecond
		}
	}

	return interval
}

// parseCursor builds the subscriber's starting point from ?since and ?cadence_id.
func (h *Handler) parseCursor(c *gin.Context) (*eventCursor, error) {
	cur := &eventCursor{
		filter: service.LogFilter{From: h.now().UTC()},
		seen:   map[string]struct{}{},
	}
	if qs := c.Query("since"); qs != "" {
		since, err := parseQueryTime(qs)
		if err != nil {
			return nil, err
		}
		cur.filter.From = since
	}
	if qs := c.Query("cadence_id"); qs != "" {
		id, err := strconv.ParseInt(qs, 10, 64)
		if err != nil || id <= 0 {
			return nil, errInvalidCadenceQuery
		}
		cur.filter.CadenceID = id
	}
	return cur, nil
}

// Helper: startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}

// Helper: sendEvents polls the event log past the cursor and writes new events with a write deadline.
// A failed poll is reported to the client before the error is returned.
func (h *Handler) sendEvents(ctx context.Context, conn *websocket.Conn, cur *eventCursor, always bool) error {
	events, err := h.services.ListEvents(ctx, cur.filter)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_list_events_failed", "err", err, "cadence_id", cur.filter.CadenceID)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(wsEnvelope{Type: wsTypeError, Error: "failed to load events"})
		return err
	}
	fresh := cur.next(events)
	if len(fresh) == 0 && !always {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{Type: wsTypeEvents, Data: fresh})
}
