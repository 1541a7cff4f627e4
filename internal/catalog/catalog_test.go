// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
	"github.com/relabs-tech/thrust_stand/internal/throttle"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "catalog.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	n, err := s.NextNumber(ctx)
	if err != nil {
		t.Fatalf("NextNumber: %v", err)
	}
	if n != 1 {
		t.Fatalf("NextNumber on empty catalog = %d, want 1", n)
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := s.SessionStarted(ctx, sequencer.SessionInfo{
		Number:    7,
		File:      "TEST007.CSV",
		Profile:   throttle.DefaultProfile(),
		StartTime: start,
	})
	if err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}

	res := sequencer.Result{
		Number:     7,
		File:       "TEST007.CSV",
		Outcome:    sequencer.OutcomeEmergencyStop,
		Rows:       42,
		Flushes:    1,
		Duration:   8400 * time.Millisecond,
		StopSource: "keypad",
		Last:       telemetry.Snapshot{Thrust: 812.5, RPM: 9100},
	}
	if err := s.SessionFinished(ctx, id, res); err != nil {
		t.Fatalf("SessionFinished: %v", err)
	}

	sessions, err := s.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	got := sessions[0]
	if got.Number != 7 || got.File != "TEST007.CSV" || got.Outcome != "estop" || got.StopSource != "keypad" {
		t.Errorf("session = %+v", got)
	}
	if got.Rows != 42 || got.Flushes != 1 || got.Duration != 8400*time.Millisecond {
		t.Errorf("counters rows=%d flushes=%d duration=%v", got.Rows, got.Flushes, got.Duration)
	}
	if got.FinalThrust != 812.5 || got.FinalRPM != 9100 {
		t.Errorf("final thrust=%v rpm=%d", got.FinalThrust, got.FinalRPM)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}
	if !strings.Contains(got.Profile, `"ramp_seconds":30`) {
		t.Errorf("profile not stored as JSON: %s", got.Profile)
	}

	if n, err = s.NextNumber(ctx); err != nil || n != 8 {
		t.Errorf("NextNumber = %d, %v; want 8", n, err)
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		if _, err := s.SessionStarted(ctx, sequencer.SessionInfo{Number: i, File: "X", StartTime: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("SessionStarted %d: %v", i, err)
		}
	}
	sessions, err := s.Sessions(ctx, 2)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].Number != 3 || sessions[1].Number != 2 {
		t.Fatalf("order/limit wrong: %+v", sessions)
	}
	if sessions[0].FinishedAt != nil || sessions[0].Outcome != "" {
		t.Errorf("unfinished session reported as finished: %+v", sessions[0])
	}
}

func TestSessionFinishedWithoutRow(t *testing.T) {
	s := newStore(t)
	if err := s.SessionFinished(context.Background(), 0, sequencer.Result{Number: 3}); err == nil {
		t.Error("SessionFinished(0) succeeded")
	}
}

func TestRecordCalibration(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := calibration.Result{
		Channel:          calibration.Torque,
		KnownLoad:        500,
		Scale:            -412.7,
		Mean:             -206350,
		DeviationPercent: 0.4,
		Samples:          50,
		Timestamp:        time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	if _, err := s.RecordCalibration(ctx, r); err != nil {
		t.Fatalf("RecordCalibration: %v", err)
	}
	cals, err := s.Calibrations(ctx, 0)
	if err != nil {
		t.Fatalf("Calibrations: %v", err)
	}
	if len(cals) != 1 {
		t.Fatalf("got %d calibrations, want 1", len(cals))
	}
	c := cals[0]
	if c.Channel != "torque" || c.Scale != -412.7 || c.Samples != 50 || !c.CreatedAt.Equal(r.Timestamp) {
		t.Errorf("calibration = %+v", c)
	}
}

func TestUnavailableDirectory(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing", "catalog.db"))
	defer s.Close()
	if _, err := s.NextNumber(context.Background()); err == nil {
		t.Error("NextNumber succeeded without a data directory")
	}
}
