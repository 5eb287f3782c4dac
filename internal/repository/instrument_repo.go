package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cadence_scheduler/internal/models"
)

type InstrumentSQLite struct {
	db *sql.DB
}

func NewInstrumentSQLite(db *sql.DB) *InstrumentSQLite { return &InstrumentSQLite{db: db} }

var _ InstrumentRepo = (*InstrumentSQLite)(nil)

const (
	upsertInstrumentSQL = `INSERT INTO instruments (code, site, enclosure, telescope, type) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET site=excluded.site, enclosure=excluded.enclosure, telescope=excluded.telescope, type=excluded.type`
	upsertFilterSQL = `INSERT INTO filters (name, exposure_time, exposure_count) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET exposure_time=excluded.exposure_time, exposure_count=excluded.exposure_count`
	attachFilterSQL = `INSERT INTO instrument_filters (instrument_code, filter_name, max_age) VALUES (?, ?, ?)
		ON CONFLICT(instrument_code, filter_name) DO UPDATE SET max_age=excluded.max_age`

	selectFilterSetSQL    = `SELECT id FROM filter_sets WHERE label = ?`
	insertFilterSetSQL    = `INSERT INTO filter_sets (label) VALUES (?)`
	insertSetMemberSQL    = `INSERT OR IGNORE INTO filter_set_members (filter_set_id, filter_name, position) VALUES (?, ?, ?)`
	attachFilterSetSQL    = `INSERT INTO instrument_filter_sets (instrument_code, filter_set_id, max_age) VALUES (?, ?, ?)
		ON CONFLICT(instrument_code, filter_set_id) DO UPDATE SET max_age=excluded.max_age`

	selectInstrumentSQL = `SELECT code, site, enclosure, telescope, type FROM instruments`

	selectInstrumentFiltersSQL = `SELECT f.name, f.exposure_time, f.exposure_count, i.max_age
		FROM instrument_filters i JOIN filters f ON f.name = i.filter_name
		WHERE i.instrument_code = ? ORDER BY f.name ASC`

	selectInstrumentFilterSetsSQL = `SELECT s.id, i.max_age, f.name, f.exposure_time, f.exposure_count
		FROM instrument_filter_sets i
		JOIN filter_sets s ON s.id = i.filter_set_id
		JOIN filter_set_members m ON m.filter_set_id = s.id
		JOIN filters f ON f.name = m.filter_name
		WHERE i.instrument_code = ? ORDER BY s.id ASC, m.position ASC`
)

func (r *InstrumentSQLite) UpsertInstrument(ctx context.Context, inst models.Instrument) error {
	if _, err := r.db.ExecContext(ctx, upsertInstrumentSQL, inst.Code, inst.Site, inst.Enclosure, inst.Telescope, inst.Type); err != nil {
		return fmt.Errorf("upsert instrument %s: %w", inst.Code, err)
	}
	return nil
}

func (r *InstrumentSQLite) UpsertFilter(ctx context.Context, f models.Filter) error {
	if _, err := r.db.ExecContext(ctx, upsertFilterSQL, f.Name, f.ExposureTime, f.ExposureCount); err != nil {
		return fmt.Errorf("upsert filter %s: %w", f.Name, err)
	}
	return nil
}

func (r *InstrumentSQLite) AttachFilter(ctx context.Context, instrumentCode, filterName string, maxAge int) error {
	if _, err := r.db.ExecContext(ctx, attachFilterSQL, instrumentCode, filterName, maxAge); err != nil {
		return fmt.Errorf("attach filter %s to %s: %w", filterName, instrumentCode, err)
	}
	return nil
}

// AttachFilterSet finds or creates the set of filterNames, in that order, and
// attaches it to the instrument.
func (r *InstrumentSQLite) AttachFilterSet(ctx context.Context, instrumentCode string, filterNames []string, maxAge int) error {
	if len(filterNames) == 0 {
		return fmt.Errorf("attach filter set to %s: no filters", instrumentCode)
	}
	label := strings.Join(filterNames, " ")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin filter set transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var setID int64
	err = tx.QueryRowContext(ctx, selectFilterSetSQL, label).Scan(&setID)
	switch {
	case isNotFound(err):
		res, err := tx.ExecContext(ctx, insertFilterSetSQL, label)
		if err != nil {
			return fmt.Errorf("insert filter set %q: %w", label, err)
		}
		if setID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("get id of filter set %q: %w", label, err)
		}
		for pos, name := range filterNames {
			if _, err := tx.ExecContext(ctx, insertSetMemberSQL, setID, name, pos); err != nil {
				return fmt.Errorf("add %s to filter set %q: %w", name, label, err)
			}
		}
	case err != nil:
		return fmt.Errorf("select filter set %q: %w", label, err)
	}

	if _, err := tx.ExecContext(ctx, attachFilterSetSQL, instrumentCode, setID, maxAge); err != nil {
		return fmt.Errorf("attach filter set %q to %s: %w", label, instrumentCode, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit filter set %q: %w", label, err)
	}
	return nil
}

// InstrumentByCode returns the instrument with its filters and filter sets,
// or models.ErrNotFound.
func (r *InstrumentSQLite) InstrumentByCode(ctx context.Context, code string) (models.Instrument, error) {
	var inst models.Instrument
	err := r.db.QueryRowContext(ctx, selectInstrumentSQL+` WHERE code = ?`, code).
		Scan(&inst.Code, &inst.Site, &inst.Enclosure, &inst.Telescope, &inst.Type)
	if isNotFound(err) {
		return models.Instrument{}, fmt.Errorf("instrument %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return models.Instrument{}, fmt.Errorf("select instrument %s: %w", code, err)
	}
	if err := r.loadFilters(ctx, &inst); err != nil {
		return models.Instrument{}, err
	}
	return inst, nil
}

// List returns every instrument with its filters, ordered by code.
func (r *InstrumentSQLite) List(ctx context.Context) ([]models.Instrument, error) {
	rows, err := r.db.QueryContext(ctx, selectInstrumentSQL+` ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	var out []models.Instrument
	for rows.Next() {
		var inst models.Instrument
		if err := rows.Scan(&inst.Code, &inst.Site, &inst.Enclosure, &inst.Telescope, &inst.Type); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// One connection: the listing rows must be closed before loading filters.
	for i := range out {
		if err := r.loadFilters(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *InstrumentSQLite) loadFilters(ctx context.Context, inst *models.Instrument) error {
	rows, err := r.db.QueryContext(ctx, selectInstrumentFiltersSQL, inst.Code)
	if err != nil {
		return fmt.Errorf("select filters of %s: %w", inst.Code, err)
	}
	for rows.Next() {
		var f models.InstrumentFilter
		if err := rows.Scan(&f.Filter.Name, &f.Filter.ExposureTime, &f.Filter.ExposureCount, &f.MaxAge); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan filter of %s: %w", inst.Code, err)
		}
		inst.Filters = append(inst.Filters, f)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return err
	}

	rows, err = r.db.QueryContext(ctx, selectInstrumentFilterSetsSQL, inst.Code)
	if err != nil {
		return fmt.Errorf("select filter sets of %s: %w", inst.Code, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			setID  int64
			maxAge int
			f      models.Filter
		)
		if err := rows.Scan(&setID, &maxAge, &f.Name, &f.ExposureTime, &f.ExposureCount); err != nil {
			return fmt.Errorf("scan filter set of %s: %w", inst.Code, err)
		}
		n := len(inst.FilterSets)
		if n == 0 || inst.FilterSets[n-1].ID != setID {
			inst.FilterSets = append(inst.FilterSets, models.InstrumentFilterSet{ID: setID, MaxAge: maxAge})
			n++
		}
		inst.FilterSets[n-1].Filters = append(inst.FilterSets[n-1].Filters, f)
	}
	return rows.Err()
}
