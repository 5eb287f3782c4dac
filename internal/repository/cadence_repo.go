package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence_scheduler/internal/models"
)

type CadenceSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewCadenceSQLite(db *sql.DB) *CadenceSQLite {
	return &CadenceSQLite{db: db, now: time.Now}
}

var _ CadenceRepo = (*CadenceSQLite)(nil)

const (
	insertGroupSQL   = `INSERT INTO observation_groups (name, created_at) VALUES (?, ?)`
	insertCadenceSQL = `INSERT INTO dynamic_cadences (cadence_strategy, cadence_parameters, observation_group_id, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`

	selectCadenceSQL = `SELECT c.id, c.cadence_strategy, c.cadence_parameters, c.observation_group_id, g.name, c.active, c.created_at, c.updated_at FROM dynamic_cadences c JOIN observation_groups g ON g.id = c.observation_group_id`

	updateCadenceParamsSQL = `UPDATE dynamic_cadences SET cadence_parameters = ?, updated_at = ? WHERE id = ?`
	updateCadenceActiveSQL = `UPDATE dynamic_cadences SET active = ?, updated_at = ? WHERE id = ?`
)

// Create inserts the observation group and the cadence in one transaction.
func (r *CadenceSQLite) Create(ctx context.Context, dc models.DynamicCadence) (models.DynamicCadence, error) {
	params, err := json.Marshal(dc.Parameters)
	if err != nil {
		return models.DynamicCadence{}, fmt.Errorf("encode cadence parameters: %w", err)
	}
	now := r.now().UTC().Truncate(time.Second)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.DynamicCadence{}, fmt.Errorf("begin cadence transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertGroupSQL, dc.GroupName, formatTime(now))
	if err != nil {
		return models.DynamicCadence{}, fmt.Errorf("insert observation group %q: %w", dc.GroupName, err)
	}
	if dc.GroupID, err = res.LastInsertId(); err != nil {
		return models.DynamicCadence{}, fmt.Errorf("get observation group id: %w", err)
	}

	res, err = tx.ExecContext(ctx, insertCadenceSQL, dc.Strategy, string(params), dc.GroupID, dc.Active, formatTime(now), formatTime(now))
	if err != nil {
		return models.DynamicCadence{}, fmt.Errorf("insert cadence: %w", err)
	}
	if dc.ID, err = res.LastInsertId(); err != nil {
		return models.DynamicCadence{}, fmt.Errorf("get cadence id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.DynamicCadence{}, fmt.Errorf("commit cadence: %w", err)
	}
	dc.CreatedAt, dc.UpdatedAt = now, now
	return dc, nil
}

// Get returns models.ErrNotFound when id does not exist.
func (r *CadenceSQLite) Get(ctx context.Context, id int64) (models.DynamicCadence, error) {
	rows, err := r.db.QueryContext(ctx, selectCadenceSQL+" WHERE c.id = ?", id)
	if err != nil {
		return models.DynamicCadence{}, fmt.Errorf("select cadence %d: %w", id, err)
	}
	defer rows.Close()

	out, err := scanCadences(rows)
	if err != nil {
		return models.DynamicCadence{}, err
	}
	if len(out) == 0 {
		return models.DynamicCadence{}, fmt.Errorf("cadence %d: %w", id, models.ErrNotFound)
	}
	return out[0], nil
}

// List returns cadences ordered by id.
func (r *CadenceSQLite) List(ctx context.Context, f CadenceFilter) ([]models.DynamicCadence, error) {
	var (
		conds []string
		args  []any
	)
	if s := strings.TrimSpace(f.Strategy); s != "" {
		conds = append(conds, "c.cadence_strategy = ?")
		args = append(args, s)
	}
	if f.Active != nil {
		conds = append(conds, "c.active = ?")
		args = append(args, *f.Active)
	}

	q := selectCadenceSQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY c.id ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cadences: %w", err)
	}
	defer rows.Close()
	return scanCadences(rows)
}

// Update writes the parameters and the active flag of patch in one transaction.
func (r *CadenceSQLite) Update(ctx context.Context, id int64, patch CadencePatch) error {
	type change struct {
		stmt  string
		value any
	}
	var changes []change
	if patch.Parameters != nil {
		b, err := json.Marshal(patch.Parameters)
		if err != nil {
			return fmt.Errorf("encode cadence parameters: %w", err)
		}
		changes = append(changes, change{updateCadenceParamsSQL, string(b)})
	}
	if patch.Active != nil {
		changes = append(changes, change{updateCadenceActiveSQL, *patch.Active})
	}
	if len(changes) == 0 {
		return nil
	}
	now := formatTime(r.now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cadence %d update: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range changes {
		res, err := tx.ExecContext(ctx, c.stmt, c.value, now, id)
		if err != nil {
			return fmt.Errorf("update cadence %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update cadence %d: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("cadence %d: %w", id, models.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cadence %d update: %w", id, err)
	}
	return nil
}

func scanCadences(rows *sql.Rows) ([]models.DynamicCadence, error) {
	var out []models.DynamicCadence
	for rows.Next() {
		var (
			dc     models.DynamicCadence
			params string
		)
		if err := rows.Scan(&dc.ID, &dc.Strategy, &params, &dc.GroupID, &dc.GroupName, &dc.Active, &dc.CreatedAt, &dc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cadence: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &dc.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of cadence %d: %w", dc.ID, err)
		}
		if dc.Parameters == nil {
			dc.Parameters = models.CadenceParameters{}
		}
		dc.CreatedAt, dc.UpdatedAt = dc.CreatedAt.UTC(), dc.UpdatedAt.UTC()
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// isNotFound reports sql.ErrNoRows and models.ErrNotFound alike.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, models.ErrNotFound)
}
