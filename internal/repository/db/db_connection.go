package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Conservative pool settings for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Fail fast if the DB cannot be reached
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

const schemaObservationGroups = `
CREATE TABLE IF NOT EXISTS observation_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaDynamicCadences = `
CREATE TABLE IF NOT EXISTS dynamic_cadences (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cadence_strategy TEXT NOT NULL,
    cadence_parameters TEXT NOT NULL,
    observation_group_id INTEGER NOT NULL REFERENCES observation_groups(id),
    active BOOLEAN NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaTargets = `
CREATE TABLE IF NOT EXISTS targets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    type TEXT NOT NULL,
    ra REAL,
    dec REAL,
    hour_angle REAL,
    seasonal_start INTEGER,
    seasonal_end INTEGER,
    extras TEXT
);
`

const schemaObservationRecords = `
CREATE TABLE IF NOT EXISTS observation_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    observation_id TEXT NOT NULL,
    observation_group_id INTEGER NOT NULL REFERENCES observation_groups(id),
    target_id INTEGER,
    target_name TEXT NOT NULL,
    facility TEXT NOT NULL,
    parameters TEXT NOT NULL,
    status TEXT NOT NULL,
    scheduled_start TIMESTAMP,
    scheduled_end TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS observation_records_group_idx
    ON observation_records (observation_group_id, created_at DESC, id DESC);
`

const schemaInstruments = `
CREATE TABLE IF NOT EXISTS instruments (
    code TEXT PRIMARY KEY,
    site TEXT NOT NULL,
    enclosure TEXT NOT NULL,
    telescope TEXT NOT NULL,
    type TEXT NOT NULL
);
`

const schemaFilters = `
CREATE TABLE IF NOT EXISTS filters (
    name TEXT PRIMARY KEY,
    exposure_time REAL NOT NULL,
    exposure_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS instrument_filters (
    instrument_code TEXT NOT NULL REFERENCES instruments(code) ON DELETE CASCADE,
    filter_name TEXT NOT NULL REFERENCES filters(name),
    max_age INTEGER NOT NULL,
    PRIMARY KEY (instrument_code, filter_name)
);
`

const schemaFilterSets = `
CREATE TABLE IF NOT EXISTS filter_sets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    label TEXT UNIQUE NOT NULL
);
CREATE TABLE IF NOT EXISTS filter_set_members (
    filter_set_id INTEGER NOT NULL REFERENCES filter_sets(id) ON DELETE CASCADE,
    filter_name TEXT NOT NULL REFERENCES filters(name),
    position INTEGER NOT NULL,
    PRIMARY KEY (filter_set_id, filter_name)
);
CREATE TABLE IF NOT EXISTS instrument_filter_sets (
    instrument_code TEXT NOT NULL REFERENCES instruments(code) ON DELETE CASCADE,
    filter_set_id INTEGER NOT NULL REFERENCES filter_sets(id) ON DELETE CASCADE,
    max_age INTEGER NOT NULL,
    PRIMARY KEY (instrument_code, filter_set_id)
);
`

const schemaCadenceEvents = `
CREATE TABLE IF NOT EXISTS cadence_events (
    id TEXT PRIMARY KEY,
    cadence_id INTEGER NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    message TEXT NOT NULL,
    meta TEXT
);
CREATE INDEX IF NOT EXISTS cadence_events_time_idx ON cadence_events (occurred_at);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaObservationGroups,
		schemaDynamicCadences,
		schemaTargets,
		schemaObservationRecords,
		schemaInstruments,
		schemaFilters,
		schemaFilterSets,
		schemaCadenceEvents,
		schemaUsers,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
