// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sequencer runs a test session: one fixed-cadence control loop that
// drives the throttle ramp, samples every channel, logs a row per cycle and
// keeps the safety guards fed.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/clock"
	"github.com/relabs-tech/thrust_stand/internal/datalog"
	"github.com/relabs-tech/thrust_stand/internal/safety"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
	"github.com/relabs-tech/thrust_stand/internal/throttle"
)

const (
	DefaultCadence      = 200 * time.Millisecond
	DefaultPollInterval = 10 * time.Millisecond
)

var (
	// ErrSessionActive is returned when Run is called while a session is live.
	ErrSessionActive = errors.New("a session is already running")
	// ErrNotCalibrated is returned when calibration was not loaded.
	ErrNotCalibrated = errors.New("calibration not loaded")
)

// Outcome is how a session ended.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeEmergencyStop
	OutcomeAborted
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeEmergencyStop:
		return "estop"
	case OutcomeAborted:
		return "aborted"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reader is satisfied by *acquisition.Acquisition.
type Reader interface {
	Read() telemetry.Snapshot
	Reset()
}

// Sink receives every snapshot. Publish must not block the control loop.
type Sink interface {
	Publish(s telemetry.Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(telemetry.Snapshot)

func (f SinkFunc) Publish(s telemetry.Snapshot) { f(s) }

// SessionInfo describes a session that just started.
type SessionInfo struct {
	Number    int
	File      string
	Profile   throttle.Profile
	StartTime time.Time
}

// Recorder keeps a history of sessions. Failures are logged, never fatal.
type Recorder interface {
	SessionStarted(ctx context.Context, info SessionInfo) (int64, error)
	SessionFinished(ctx context.Context, id int64, res Result) error
}

// Request starts one session.
type Request struct {
	Number    int
	Profile   throttle.Profile
	Collision datalog.CollisionFunc
}

// Result summarizes a finished session.
type Result struct {
	Number      int                `json:"number"`
	File        string             `json:"file"`
	Outcome     Outcome            `json:"-"`
	OutcomeName string             `json:"outcome"`
	Rows        int                `json:"rows"`
	Flushes     int                `json:"flushes"`
	Duration    time.Duration      `json:"duration_ns"`
	StopSource  string             `json:"stop_source,omitempty"`
	Last        telemetry.Snapshot `json:"last"`
}

// Engine owns everything a session touches. Exactly one session runs at a time.
type Engine struct {
	clk      clock.Clock
	acq      Reader
	act      throttle.Actuator
	watchdog safety.Watchdog
	estop    *safety.EStop
	logger   *datalog.Logger

	cadence   time.Duration
	poll      time.Duration
	wdTimeout time.Duration
	ready     func() error
	sinks     []Sink
	recorder  Recorder

	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithCadence(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cadence = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.poll = d
		}
	}
}

func WithWatchdogTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.wdTimeout = d
		}
	}
}

// WithReadiness installs a check run before every session, typically the
// calibration manager's Ready.
func WithReadiness(fn func() error) Option {
	return func(e *Engine) { e.ready = fn }
}

func WithSink(s Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New builds an Engine.
func New(clk clock.Clock, acq Reader, act throttle.Actuator, wd safety.Watchdog, estop *safety.EStop, logger *datalog.Logger, opts ...Option) *Engine {
	e := &Engine{
		clk:       clk,
		acq:       acq,
		act:       act,
		watchdog:  wd,
		estop:     estop,
		logger:    logger,
		cadence:   DefaultCadence,
		poll:      DefaultPollInterval,
		wdTimeout: safety.DefaultWatchdogTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Running reports whether a session is live.
func (e *Engine) Running() bool { return e.running.Load() }

// Run executes one session to completion, emergency stop, or context
// cancellation. Idle throttle is always commanded before Run returns, and a
// started log is always closed. An emergency stop is a normal result with a
// nil error.
func (e *Engine) Run(ctx context.Context, req Request) (res Result, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSessionActive
	}
	defer e.running.Store(false)

	profile := req.Profile
	res = Result{Number: req.Number, Outcome: OutcomeCanceled}
	defer func() { res.OutcomeName = res.Outcome.String() }()

	if e.ready != nil {
		if rerr := e.ready(); rerr != nil {
			return res, fmt.Errorf("%w: %v", ErrNotCalibrated, rerr)
		}
	}
	if verr := profile.Validate(); verr != nil {
		return res, fmt.Errorf("invalid profile: %w", verr)
	}

	e.estop.Reset()
	e.acq.Reset()

	sess, err := e.logger.Open(req.Number, req.Collision)
	if err != nil {
		e.idle(profile)
		return res, err
	}
	res.File = sess.Name

	if err := e.watchdog.Arm(e.wdTimeout); err != nil {
		e.idle(profile)
		if cerr := sess.Close(); cerr != nil {
			log.Printf("sequencer: closing %s: %v", sess.Name, cerr)
		}
		return res, fmt.Errorf("arming watchdog: %w", err)
	}

	start := e.clk.Now()
	var catalogID int64
	if e.recorder != nil {
		id, rerr := e.recorder.SessionStarted(ctx, SessionInfo{Number: req.Number, File: sess.Name, Profile: profile, StartTime: start})
		if rerr != nil {
			log.Printf("sequencer: recording session start: %v", rerr)
		}
		catalogID = id
	}
	log.Printf("sequencer: session %d started (%s, ramp %.0fs hold %.0fs)", req.Number, sess.Name, profile.RampSeconds, profile.HoldSeconds)

	defer func() {
		e.idle(profile)
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if derr := e.watchdog.Disarm(); derr != nil {
			log.Printf("sequencer: disarming watchdog: %v", derr)
		}
		res.Rows = sess.Rows()
		res.Flushes = sess.Flushes()
		res.Duration = e.clk.Now().Sub(start)
		res.OutcomeName = res.Outcome.String()
		if e.recorder != nil {
			// the session context may already be canceled
			if rerr := e.recorder.SessionFinished(context.WithoutCancel(ctx), catalogID, res); rerr != nil {
				log.Printf("sequencer: recording session end: %v", rerr)
			}
		}
		log.Printf("sequencer: session %d %s after %v (%d rows)", req.Number, res.Outcome, res.Duration.Round(time.Millisecond), res.Rows)
	}()

	ctrl := throttle.NewController(profile)
	for {
		cycleStart := e.clk.Now()
		if err := e.watchdog.Pet(); err != nil {
			res.Outcome = OutcomeAborted
			return res, fmt.Errorf("petting watchdog: %w", err)
		}

		elapsed := cycleStart.Sub(start)
		pct, state := ctrl.Advance(elapsed)
		pulse := throttle.PulseWidth(pct, profile.MinPulse, profile.MaxPulse)
		if err := e.act.SetPulseWidth(pulse); err != nil {
			res.Outcome = OutcomeAborted
			return res, fmt.Errorf("commanding throttle: %w", err)
		}

		snap := e.acq.Read()
		snap.Time = elapsed.Seconds()
		snap.Throttle = pct
		snap.Pulse = pulse
		snap.State = state.String()
		snap = telemetry.Derive(snap)
		res.Last = snap

		if err := sess.Append(snap); err != nil {
			res.Outcome = OutcomeAborted
			return res, err
		}
		e.publish(snap)

		if state == throttle.Complete {
			res.Outcome = OutcomeComplete
			return res, nil
		}

		switch e.wait(ctx, cycleStart) {
		case stopEStop:
			ctrl.EmergencyStop()
			e.idle(profile)
			res.Outcome = OutcomeEmergencyStop
			res.StopSource = e.estop.Source()
			res.Last.Throttle = 0
			res.Last.State = throttle.EStop.String()
			e.publish(res.Last)
			return res, nil
		case stopContext:
			res.Outcome = OutcomeAborted
			return res, ctx.Err()
		}
	}
}

type stopReason int

const (
	stopNone stopReason = iota
	stopEStop
	stopContext
)

// wait blocks until the cycle that began at cycleStart has lasted one
// cadence, polling the emergency stop. It never sleeps past the boundary.
func (e *Engine) wait(ctx context.Context, cycleStart time.Time) stopReason {
	deadline := cycleStart.Add(e.cadence)
	for {
		if e.estop.Tripped() {
			return stopEStop
		}
		if ctx.Err() != nil {
			return stopContext
		}
		remaining := deadline.Sub(e.clk.Now())
		if remaining <= 0 {
			return stopNone
		}
		e.clk.Sleep(min(e.poll, remaining))
	}
}

func (e *Engine) idle(p throttle.Profile) {
	if err := e.act.SetPulseWidth(p.MinPulse); err != nil {
		log.Printf("sequencer: commanding idle: %v", err)
	}
}

func (e *Engine) publish(s telemetry.Snapshot) {
	for _, sink := range e.sinks {
		sink.Publish(s)
	}
}
