package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(ctx context.Context, username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(ctx context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockCadences struct {
	cadence   models.DynamicCadence
	cadences  []models.DynamicCadence
	err       error
	lastInput service.CadenceInput
	lastID    int64
	lastList  service.CadenceListFilter
	lastPatch service.CadenceUpdate
	lastInit  [2]int64
}

func (m *mockCadences) Create(ctx context.Context, in service.CadenceInput) (models.DynamicCadence, error) {
	m.lastInput = in
	return m.cadence, m.err
}
func (m *mockCadences) Get(ctx context.Context, id int64) (models.DynamicCadence, error) {
	m.lastID = id
	return m.cadence, m.err
}
func (m *mockCadences) List(ctx context.Context, f service.CadenceListFilter) ([]models.DynamicCadence, error) {
	m.lastList = f
	return m.cadences, m.err
}
func (m *mockCadences) Update(ctx context.Context, id int64, u service.CadenceUpdate) (models.DynamicCadence, error) {
	m.lastID = id
	m.lastPatch = u
	return m.cadence, m.err
}
func (m *mockCadences) InitializeImagerCadences(ctx context.Context, targetID int64, frequencyHours int) ([]models.DynamicCadence, error) {
	m.lastInit = [2]int64{targetID, int64(frequencyHours)}
	return m.cadences, m.err
}

type mockScheduler struct {
	result  service.TickResult
	err     error
	lastRun int64
}

func (m *mockScheduler) Run(ctx context.Context, tick time.Duration) { <-ctx.Done() }
func (m *mockScheduler) Sweep(ctx context.Context) service.SweepReport {
	return service.SweepReport{}
}
func (m *mockScheduler) RunCadence(ctx context.Context, id int64) (service.TickResult, error) {
	m.lastRun = id
	return m.result, m.err
}

type mockObservations struct {
	history  []models.ObservationRecord
	status   service.InstrumentStatus
	err      error
	lastCode string
}

func (m *mockObservations) History(ctx context.Context, cadenceID int64) ([]models.ObservationRecord, error) {
	return m.history, m.err
}
func (m *mockObservations) FilterStatus(ctx context.Context, code string) (service.InstrumentStatus, error) {
	m.lastCode = code
	return m.status, m.err
}

type mockInstruments struct {
	instruments []models.Instrument
	report      service.SyncReport
	err         error
	syncs       int
}

func (m *mockInstruments) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	return m.instruments, m.err
}
func (m *mockInstruments) Sync(ctx context.Context) (service.SyncReport, error) {
	m.syncs++
	return m.report, m.err
}

type mockTargets struct {
	targets    []models.Target
	err        error
	created    models.Target
	lastFilter service.TargetListFilter
}

func (m *mockTargets) CreateTarget(ctx context.Context, t models.Target) (models.Target, error) {
	m.created = t
	t.ID = 1
	return t, m.err
}
func (m *mockTargets) ListTargets(ctx context.Context, f service.TargetListFilter) ([]models.Target, error) {
	m.lastFilter = f
	return m.targets, m.err
}

// mockEventLog is read concurrently by the websocket writer and the test goroutine.
type mockEventLog struct {
	mu       sync.Mutex
	resp     []models.CadenceEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
	lastID   int64
	calls    int
}

func (m *mockEventLog) ListEvents(ctx context.Context, f service.LogFilter) ([]models.CadenceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	m.lastID = f.CadenceID
	var out []models.CadenceEvent
	for _, ev := range m.resp {
		if !f.From.IsZero() && ev.OccurredAt.Before(f.From) {
			continue
		}
		out = append(out, ev)
	}
	return out, m.err
}

func (m *mockEventLog) add(ev models.CadenceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp = append(m.resp, ev)
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

// authedService returns a Service whose token check accepts any bearer token.
func authedService() *service.Service {
	return &service.Service{Authorization: &mockAuth{parseID: 1}}
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
