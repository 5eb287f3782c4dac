package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cadence_scheduler/internal/models"
)

type ObservationSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewObservationSQLite(db *sql.DB) *ObservationSQLite {
	return &ObservationSQLite{db: db, now: time.Now}
}

var _ ObservationRepo = (*ObservationSQLite)(nil)

const (
	selectObservationSQL = `SELECT id, observation_id, observation_group_id, target_id, target_name, facility, parameters, status, scheduled_start, scheduled_end, created_at, updated_at FROM observation_records`
	observationOrder     = ` ORDER BY created_at DESC, id DESC`

	insertObservationSQL = `INSERT INTO observation_records (observation_id, observation_group_id, target_id, target_name, facility, parameters, status, scheduled_start, scheduled_end, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateObservationStatusSQL = `UPDATE observation_records SET status = ?, scheduled_start = COALESCE(?, scheduled_start), scheduled_end = COALESCE(?, scheduled_end), updated_at = ? WHERE id = ?`
)

// Latest returns the newest record of group, or nil when the group is empty.
func (r *ObservationSQLite) Latest(ctx context.Context, groupID int64) (*models.ObservationRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectObservationSQL+` WHERE observation_group_id = ?`+observationOrder+` LIMIT 1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("select latest observation of group %d: %w", groupID, err)
	}
	defer rows.Close()

	recs, err := scanObservations(rows)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// History returns the records of group, newest first. Group 0 returns every record.
func (r *ObservationSQLite) History(ctx context.Context, groupID int64) ([]models.ObservationRecord, error) {
	q, args := selectObservationSQL, []any{}
	if groupID != 0 {
		q += ` WHERE observation_group_id = ?`
		args = append(args, groupID)
	}
	rows, err := r.db.QueryContext(ctx, q+observationOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("select observations of group %d: %w", groupID, err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ByInstrument returns every record submitted for instrumentCode, newest first.
func (r *ObservationSQLite) ByInstrument(ctx context.Context, instrumentCode string) ([]models.ObservationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectObservationSQL+` WHERE json_extract(parameters, '$.instrument') = ?`+observationOrder, instrumentCode)
	if err != nil {
		return nil, fmt.Errorf("select observations of instrument %s: %w", instrumentCode, err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func (r *ObservationSQLite) Create(ctx context.Context, rec models.ObservationRecord) (int64, error) {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return 0, fmt.Errorf("encode observation parameters: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	var targetID any
	if rec.TargetID > 0 {
		targetID = rec.TargetID
	}

	res, err := r.db.ExecContext(ctx, insertObservationSQL,
		rec.ObservationID,
		rec.GroupID,
		targetID,
		rec.TargetName,
		rec.Facility,
		string(params),
		rec.Status,
		nullTime(rec.ScheduledStart),
		nullTime(rec.ScheduledEnd),
		formatTime(created),
		formatTime(r.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert observation %s: %w", rec.ObservationID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get id of observation %s: %w", rec.ObservationID, err)
	}
	return id, nil
}

// UpdateStatus stores st. Missing schedule bounds keep their stored value.
func (r *ObservationSQLite) UpdateStatus(ctx context.Context, id int64, st models.ObservationStatus) error {
	res, err := r.db.ExecContext(ctx, updateObservationStatusSQL,
		st.State, nullTime(st.ScheduledStart), nullTime(st.ScheduledEnd), formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("update status of observation record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status of observation record %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("observation record %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func scanObservations(rows *sql.Rows) ([]models.ObservationRecord, error) {
	var out []models.ObservationRecord
	for rows.Next() {
		var (
			rec        models.ObservationRecord
			targetID   sql.NullInt64
			params     string
			start, end sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.ObservationID, &rec.GroupID, &targetID, &rec.TargetName, &rec.Facility,
			&params, &rec.Status, &start, &end, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan observation record: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of observation record %d: %w", rec.ID, err)
		}
		rec.TargetID = targetID.Int64
		rec.ScheduledStart, rec.ScheduledEnd = timePtr(start), timePtr(end)
		rec.CreatedAt, rec.UpdatedAt = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
