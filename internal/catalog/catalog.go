// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package catalog keeps a local history of test sessions and calibrations in
// SQLite, next to the CSV logs. The catalog is an index only; the CSV files
// remain the record of a run.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertSessionSQL = `INSERT INTO sessions (number, file, profile, started_at) VALUES (?, ?, ?, ?)`

	finishSessionSQL = `UPDATE sessions
SET finished_at = ?, outcome = ?, stop_source = ?, rows = ?, flushes = ?, duration_ms = ?, final_thrust = ?, final_rpm = ?
WHERE id = ?`

	selectSessionsSQL = `SELECT id, number, file, profile, started_at, finished_at, outcome, stop_source, rows, flushes, duration_ms, final_thrust, final_rpm
FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`

	maxNumberSQL = `SELECT COALESCE(MAX(number), 0) FROM sessions`

	insertCalibrationSQL = `INSERT INTO calibrations (channel, known_load, scale, mean, deviation_percent, samples, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectCalibrationsSQL = `SELECT id, channel, known_load, scale, mean, deviation_percent, samples, created_at
FROM calibrations ORDER BY created_at DESC, id DESC LIMIT ?`
)

// Session is one catalog row.
type Session struct {
	ID          int64         `json:"id"`
	Number      int           `json:"number"`
	File        string        `json:"file"`
	Profile     string        `json:"profile,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Outcome     string        `json:"outcome,omitempty"`
	StopSource  string        `json:"stop_source,omitempty"`
	Rows        int           `json:"rows"`
	Flushes     int           `json:"flushes"`
	Duration    time.Duration `json:"duration_ns"`
	FinalThrust float64       `json:"final_thrust"`
	FinalRPM    int           `json:"final_rpm"`
}

// Calibration is one stored calibration run.
type Calibration struct {
	ID               int64     `json:"id"`
	Channel          string    `json:"channel"`
	KnownLoad        float64   `json:"known_load"`
	Scale            float64   `json:"scale"`
	Mean             float64   `json:"mean"`
	DeviationPercent float64   `json:"deviation_percent"`
	Samples          int       `json:"samples"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store is a SQLite backed catalog. Connections open lazily so a missing or
// read-only data directory only fails the calls that need it.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ sequencer.Recorder = (*Store)(nil)

// New returns a catalog stored at dbPath.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=2000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.writeDB = db
	})
	return s.writeDB, s.writeDBErr
}

// getReadDB opens a read-only connection. The write side runs first so the
// file and schema exist.
func (s *Store) getReadDB() (*sql.DB, error) {
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=2000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})
	return s.readDB, s.readDBErr
}

// SessionStarted inserts an open session row and returns its id.
func (s *Store) SessionStarted(ctx context.Context, info sequencer.SessionInfo) (id int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	profile, err := json.Marshal(info.Profile)
	if err != nil {
		err = fmt.Errorf("encoding profile: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, info.Number, info.File, string(profile), info.StartTime.UTC())
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}
	return result.LastInsertId()
}

// SessionFinished completes the row opened by SessionStarted.
func (s *Store) SessionFinished(ctx context.Context, id int64, res sequencer.Result) (err error) {
	if id == 0 {
		return fmt.Errorf("session %d has no catalog row", res.Number)
	}
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	var stopSource sql.NullString
	if res.StopSource != "" {
		stopSource = sql.NullString{String: res.StopSource, Valid: true}
	}

	_, err = db.ExecContext(ctx, finishSessionSQL,
		time.Now().UTC(),
		res.Outcome.String(),
		stopSource,
		res.Rows,
		res.Flushes,
		res.Duration.Milliseconds(),
		res.Last.Thrust,
		res.Last.RPM,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating session %d: %w", id, err)
	}
	return nil
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) (sessions []*Session, err error) {
	if limit <= 0 {
		limit = 50
	}
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL, limit)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			sess       Session
			profile    sql.NullString
			finished   sql.NullTime
			outcome    sql.NullString
			stopSource sql.NullString
			durationMS int64
			thrust     sql.NullFloat64
			rpm        sql.NullInt64
		)
		if err = rows.Scan(&sess.ID, &sess.Number, &sess.File, &profile, &sess.StartedAt, &finished,
			&outcome, &stopSource, &sess.Rows, &sess.Flushes, &durationMS, &thrust, &rpm); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sess.Profile = profile.String
		if finished.Valid {
			sess.FinishedAt = &finished.Time
		}
		sess.Outcome = outcome.String
		sess.StopSource = stopSource.String
		sess.Duration = time.Duration(durationMS) * time.Millisecond
		sess.FinalThrust = thrust.Float64
		sess.FinalRPM = int(rpm.Int64)
		sessions = append(sessions, &sess)
	}
	err = rows.Err()
	return
}

// NextNumber is one past the highest session number on record.
func (s *Store) NextNumber(ctx context.Context) (int, error) {
	db, err := s.getReadDB()
	if err != nil {
		return 0, fmt.Errorf("getting read connection: %w", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, maxNumberSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("querying max session number: %w", err)
	}
	return n + 1, nil
}

// RecordCalibration stores an applied calibration.
func (s *Store) RecordCalibration(ctx context.Context, r calibration.Result) (id int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	result, err := db.ExecContext(ctx, insertCalibrationSQL,
		r.Channel.String(), r.KnownLoad, r.Scale, r.Mean, r.DeviationPercent, r.Samples, ts.UTC())
	if err != nil {
		err = fmt.Errorf("inserting calibration: %w", err)
		return
	}
	return result.LastInsertId()
}

// Calibrations returns up to limit calibration runs, newest first.
func (s *Store) Calibrations(ctx context.Context, limit int) (cals []*Calibration, err error) {
	if limit <= 0 {
		limit = 50
	}
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectCalibrationsSQL, limit)
	if err != nil {
		err = fmt.Errorf("querying calibrations: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var c Calibration
		if err = rows.Scan(&c.ID, &c.Channel, &c.KnownLoad, &c.Scale, &c.Mean, &c.DeviationPercent, &c.Samples, &c.CreatedAt); err != nil {
			err = fmt.Errorf("scanning calibration: %w", err)
			return
		}
		cals = append(cals, &c)
	}
	err = rows.Err()
	return
}

// Close releases both connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.readDB != nil {
			if err := s.readDB.Close(); err != nil {
				s.closeErr = fmt.Errorf("closing read connection: %w", err)
			}
		}
		if s.writeDB != nil {
			if err := s.writeDB.Close(); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("closing write connection: %w", err)
			}
		}
	})
	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
