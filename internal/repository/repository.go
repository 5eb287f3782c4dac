package repository

import (
	"context"
	"database/sql"
	"time"

	"cadence_scheduler/internal/models"
)

// Authorization stores operator accounts.
type Authorization interface {
	// Create wraps models.ErrConflict when the username is taken.
	Create(ctx context.Context, username, hash string) (int, error)
	// GetByUsername wraps models.ErrNotFound for unknown users.
	GetByUsername(ctx context.Context, username string) (models.User, error)
}

// CadenceFilter narrows CadenceRepo.List. Empty fields match everything.
type CadenceFilter struct {
	Strategy string
	Active   *bool
}

// CadencePatch lists the fields of a cadence to change. Nil fields are left alone.
type CadencePatch struct {
	Parameters models.CadenceParameters
	Active     *bool
}

type CadenceRepo interface {
	// Create stores dc together with a new observation group and returns it with ids set.
	Create(ctx context.Context, dc models.DynamicCadence) (models.DynamicCadence, error)
	Get(ctx context.Context, id int64) (models.DynamicCadence, error)
	List(ctx context.Context, f CadenceFilter) ([]models.DynamicCadence, error)
	// Update applies every field of patch or none of them.
	Update(ctx context.Context, id int64, patch CadencePatch) error
}

type ObservationRepo interface {
	Latest(ctx context.Context, groupID int64) (*models.ObservationRecord, error)
	History(ctx context.Context, groupID int64) ([]models.ObservationRecord, error)
	Create(ctx context.Context, rec models.ObservationRecord) (int64, error)
	UpdateStatus(ctx context.Context, id int64, st models.ObservationStatus) error
	ByInstrument(ctx context.Context, instrumentCode string) ([]models.ObservationRecord, error)
}

type TargetRepo interface {
	Create(ctx context.Context, t models.Target) (int64, error)
	TargetByID(ctx context.Context, id int64) (models.Target, error)
	List(ctx context.Context) ([]models.Target, error)
}

type InstrumentRepo interface {
	UpsertInstrument(ctx context.Context, inst models.Instrument) error
	UpsertFilter(ctx context.Context, f models.Filter) error
	AttachFilter(ctx context.Context, instrumentCode, filterName string, maxAge int) error
	AttachFilterSet(ctx context.Context, instrumentCode string, filterNames []string, maxAge int) error
	InstrumentByCode(ctx context.Context, code string) (models.Instrument, error)
	List(ctx context.Context) ([]models.Instrument, error)
}

// EventQuery narrows EventRepo.List. Zero values match everything.
type EventQuery struct {
	From, To  time.Time
	Type      string
	CadenceID int64
}

type EventRepo interface {
	Append(ctx context.Context, e models.CadenceEvent) error
	List(ctx context.Context, q EventQuery) ([]models.CadenceEvent, error)
}

type Repository struct {
	Cadences     CadenceRepo
	Observations ObservationRepo
	Targets      TargetRepo
	Instruments  InstrumentRepo
	EventRepo    EventRepo
	Auth         Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Cadences:     NewCadenceSQLite(db),
		Observations: NewObservationSQLite(db),
		Targets:      NewTargetSQLite(db),
		Instruments:  NewInstrumentSQLite(db),
		EventRepo:    NewEventSQLite(db),
		Auth:         NewUserSQLite(db),
	}
}

// sqliteTime is the TIMESTAMP layout written to SQLite.
const sqliteTime = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
