package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"cadence_scheduler/internal/models"
)

type TargetSQLite struct {
	db *sql.DB
}

func NewTargetSQLite(db *sql.DB) *TargetSQLite { return &TargetSQLite{db: db} }

var _ TargetRepo = (*TargetSQLite)(nil)

const (
	insertTargetSQL = `INSERT INTO targets (name, type, ra, dec, hour_angle, seasonal_start, seasonal_end, extras) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectTargetSQL = `SELECT id, name, type, ra, dec, hour_angle, seasonal_start, seasonal_end, extras FROM targets`
)

func (r *TargetSQLite) Create(ctx context.Context, t models.Target) (int64, error) {
	var extras any
	if len(t.Extras) > 0 {
		b, err := json.Marshal(t.Extras)
		if err != nil {
			return 0, fmt.Errorf("encode extras of target %q: %w", t.Name, err)
		}
		extras = string(b)
	}
	res, err := r.db.ExecContext(ctx, insertTargetSQL,
		t.Name, t.Type, t.RA, t.Dec, t.HourAngle, t.SeasonalStart, t.SeasonalEnd, extras)
	if err != nil {
		return 0, fmt.Errorf("insert target %q: %w", t.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get id of target %q: %w", t.Name, err)
	}
	return id, nil
}

// TargetByID returns models.ErrNotFound when id does not exist.
func (r *TargetSQLite) TargetByID(ctx context.Context, id int64) (models.Target, error) {
	t, err := scanTarget(r.db.QueryRowContext(ctx, selectTargetSQL+` WHERE id = ?`, id))
	if isNotFound(err) {
		return models.Target{}, fmt.Errorf("target %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Target{}, fmt.Errorf("select target %d: %w", id, err)
	}
	return t, nil
}

func (r *TargetSQLite) List(ctx context.Context) ([]models.Target, error) {
	rows, err := r.db.QueryContext(ctx, selectTargetSQL+` ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(s scanner) (models.Target, error) {
	var (
		t                      models.Target
		ra, dec, ha            sql.NullFloat64
		seasonStart, seasonEnd sql.NullInt64
		extras                 sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Name, &t.Type, &ra, &dec, &ha, &seasonStart, &seasonEnd, &extras); err != nil {
		return models.Target{}, err
	}
	t.RA, t.Dec, t.HourAngle = floatPtr(ra), floatPtr(dec), floatPtr(ha)
	t.SeasonalStart, t.SeasonalEnd = intPtr(seasonStart), intPtr(seasonEnd)
	if extras.Valid && extras.String != "" {
		if err := json.Unmarshal([]byte(extras.String), &t.Extras); err != nil {
			return models.Target{}, fmt.Errorf("decode extras of target %d: %w", t.ID, err)
		}
	}
	return t, nil
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
