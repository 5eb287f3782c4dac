package service

import (
	"context"
	"time"

	"cadence_scheduler/internal/cadence"
	"cadence_scheduler/internal/configdb"
	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"
)

// Authorization registers operators and checks their bearer tokens.
type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Cadences manages dynamic cadence definitions.
type Cadences interface {
	Create(ctx context.Context, in CadenceInput) (models.DynamicCadence, error)
	Get(ctx context.Context, id int64) (models.DynamicCadence, error)
	List(ctx context.Context, f CadenceListFilter) ([]models.DynamicCadence, error)
	Update(ctx context.Context, id int64, u CadenceUpdate) (models.DynamicCadence, error)
	InitializeImagerCadences(ctx context.Context, targetID int64, frequencyHours int) ([]models.DynamicCadence, error)
}

// Observations exposes submitted observations and calibration freshness.
type Observations interface {
	History(ctx context.Context, cadenceID int64) ([]models.ObservationRecord, error)
	FilterStatus(ctx context.Context, instrumentCode string) (InstrumentStatus, error)
}

// Instruments exposes the local instrument catalog.
type Instruments interface {
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	Sync(ctx context.Context) (SyncReport, error)
}

// Targets manages calibration targets.
type Targets interface {
	CreateTarget(ctx context.Context, t models.Target) (models.Target, error)
	ListTargets(ctx context.Context, f TargetListFilter) ([]models.Target, error)
}

// EventLog exposes the append-only tick log with filtering access.
type EventLog interface {
	ListEvents(ctx context.Context, f LogFilter) ([]models.CadenceEvent, error)
}

// Scheduler runs the background loop that ticks every active cadence.
// Stop via context cancellation in main() for graceful shutdown.
type Scheduler interface {
	Run(ctx context.Context, tick time.Duration)
	Sweep(ctx context.Context) SweepReport
	RunCadence(ctx context.Context, id int64) (TickResult, error)
}

// CadenceRunner performs one tick of a cadence.
type CadenceRunner interface {
	Run(ctx context.Context, dc models.DynamicCadence) ([]models.ObservationRecord, error)
	Names() []string
}

// Directory is the ConfigDB view the services need.
type Directory interface {
	RefreshIfStale(ctx context.Context) error
	Refresh(ctx context.Context) error
	ActiveInstruments(site, instrumentType string, commissioning, everything bool) []configdb.Instrument
}

// Service aggregates all sub-services.
type Service struct {
	Cadences
	Observations
	Instruments
	Targets
	EventLog
	Scheduler
	Authorization
}

// Options carries what the services need besides the repositories.
type Options struct {
	Runner    CadenceRunner
	Directory Directory
	Vocab     models.StatusVocabulary
	Auth      AuthConfig
	Log       *logger.Logger
	Now       func() time.Time
}

// NewService wires the repository layer into concrete services.
func NewService(repos *repository.Repository, opts Options) *Service {
	log := logger.OrNop(opts.Log)
	aging := cadence.NewAgingPolicy(opts.Now, opts.Vocab)
	return &Service{
		Cadences:      NewCadenceService(repos.Cadences, repos.Instruments, opts.Runner),
		Observations:  NewObservationService(repos.Cadences, repos.Observations, repos.Instruments, aging),
		Instruments:   NewInstrumentService(repos.Instruments, opts.Directory, log),
		Targets:       NewTargetService(repos.Targets, opts.Now),
		EventLog:      NewEventLogService(repos.EventRepo),
		Scheduler:     NewSchedulerService(repos.Cadences, repos.EventRepo, opts.Runner, opts.Directory, log),
		Authorization: NewAuthService(repos.Auth, opts.Auth),
	}
}
