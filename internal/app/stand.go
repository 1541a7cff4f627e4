// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/thrust_stand/internal/acquisition"
	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/catalog"
	"github.com/relabs-tech/thrust_stand/internal/clock"
	"github.com/relabs-tech/thrust_stand/internal/config"
	"github.com/relabs-tech/thrust_stand/internal/datalog"
	"github.com/relabs-tech/thrust_stand/internal/rpm"
	"github.com/relabs-tech/thrust_stand/internal/safety"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/throttle"
)

// Stand wires the engine to its devices, storage and sinks.
type Stand struct {
	cfg *config.Config
	clk clock.Clock
	dev *Devices

	cal      *calibration.Manager
	acq      *acquisition.Acquisition
	edges    *rpm.EdgeRegister
	timebase *clock.Timebase
	capture  *rpm.Capture
	estop    *safety.EStop
	logger   *datalog.Logger
	catalog  *catalog.Store // nil when CATALOG_DB is empty
	engine   *sequencer.Engine
	live     *Live

	// acqMu serializes acquisition use outside sessions (debug, zeroing).
	acqMu sync.Mutex

	mu           sync.Mutex
	next         int
	sessionHooks []func(sequencer.Result)
}

// NewStand builds a stand on dev. Extra sinks receive every snapshot.
func NewStand(cfg *config.Config, clk clock.Clock, dev *Devices, sinks ...sequencer.Sink) *Stand {
	s := &Stand{
		cfg:   cfg,
		clk:   clk,
		dev:   dev,
		estop: &safety.EStop{},
		live:  NewLive(),
		edges: &rpm.EdgeRegister{},
		next:  cfg.TestNumber,
	}

	s.cal = calibration.NewManager(clk, calibration.NewSlotStore(cfg.CalibrationStore), dev.Thrust, dev.Torque)
	if err := s.cal.Rehydrate(); err != nil {
		log.Printf("stand: calibration unavailable, sessions are refused: %v", err)
	}

	s.timebase = clock.NewTimebase(clk)
	s.capture = rpm.NewCapture(s.edges, cfg.PulsesPerRev, s.timebase.Micros)
	s.acq = acquisition.New(acquisition.Channels{
		RPM:      s.capture,
		Thrust:   dev.Thrust,
		Torque:   dev.Torque,
		Voltage:  dev.Voltage,
		Current:  dev.Current,
		Airspeed: dev.Airspeed,
	}, cfg.Acquisition(), s.cal)

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		log.Printf("stand: log directory %s: %v", cfg.LogDir, err)
	}
	s.logger = datalog.New(cfg.LogDir, cfg.LogPrefix, clk)

	var wd safety.Watchdog = dev.Watchdog
	if wd == nil {
		wd = safety.NewSoft(s.watchdogExpired)
	}

	opts := []sequencer.Option{
		sequencer.WithCadence(cfg.Cadence()),
		sequencer.WithWatchdogTimeout(cfg.WatchdogTimeout()),
		sequencer.WithReadiness(s.cal.Ready),
		sequencer.WithSink(s.live),
	}
	for _, sink := range sinks {
		opts = append(opts, sequencer.WithSink(sink))
	}
	if cfg.CatalogDB != "" {
		s.catalog = catalog.New(cfg.CatalogDB)
		opts = append(opts, sequencer.WithRecorder(s.catalog))
	}
	s.engine = sequencer.New(clk, s.acq, dev.Actuator, wd, s.estop, s.logger, opts...)
	return s
}

// Live returns the stand's live snapshot hub.
func (s *Stand) Live() *Live { return s.live }

// Catalog returns the session catalog, or nil.
func (s *Stand) Catalog() *catalog.Store { return s.catalog }

// Running reports whether a session is live.
func (s *Stand) Running() bool { return s.engine.Running() }

// EmergencyStop latches the E-Stop for the running session.
func (s *Stand) EmergencyStop(source string) {
	s.estop.Trigger(source)
	log.Printf("stand: emergency stop from %s", source)
}

// OnSession registers fn to receive every finished session.
func (s *Stand) OnSession(fn func(sequencer.Result)) {
	s.mu.Lock()
	s.sessionHooks = append(s.sessionHooks, fn)
	s.mu.Unlock()
}

// NextNumber returns the test number the next session will use: TEST_NUMBER
// when set, otherwise one past the catalog's highest number.
func (s *Stand) NextNumber(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next > 0 {
		return s.next, nil
	}
	s.next = 1
	if s.catalog != nil {
		n, err := s.catalog.NextNumber(ctx)
		if err != nil {
			log.Printf("stand: catalog unavailable, numbering from 1: %v", err)
		} else {
			s.next = n
		}
	}
	return s.next, nil
}

// RunSession runs one session. The test number advances once a log file
// was opened.
func (s *Stand) RunSession(ctx context.Context, number int, profile throttle.Profile, decide datalog.CollisionFunc) (sequencer.Result, error) {
	s.acqMu.Lock()
	res, err := s.engine.Run(ctx, sequencer.Request{Number: number, Profile: profile, Collision: decide})
	s.acqMu.Unlock()

	if res.File != "" {
		s.mu.Lock()
		if s.next <= number {
			s.next = number + 1
		}
		hooks := append([]func(sequencer.Result){}, s.sessionHooks...)
		s.mu.Unlock()

		s.live.Session(res)
		for _, fn := range hooks {
			fn(res)
		}
	}
	return res, err
}

// ZeroAnalog learns ch's offset with the motor idle.
func (s *Stand) ZeroAnalog(ch calibration.Channel) (float64, error) {
	if s.Running() {
		return 0, sequencer.ErrSessionActive
	}
	s.acqMu.Lock()
	defer s.acqMu.Unlock()
	return s.cal.ZeroAnalog(ch, func() (float64, error) { return s.acq.Volts(ch) })
}

func (s *Stand) recordCalibration(ctx context.Context, res calibration.Result) {
	if s.catalog == nil {
		return
	}
	if _, err := s.catalog.RecordCalibration(ctx, res); err != nil {
		log.Printf("stand: recording calibration: %v", err)
	}
}

// watchdogExpired runs when the software watchdog was not petted in time.
func (s *Stand) watchdogExpired() {
	if err := s.dev.Actuator.SetPulseWidth(s.cfg.ESCMinPulseUS); err != nil {
		log.Printf("stand: idle after watchdog expiry: %v", err)
	}
	log.Printf("stand: control loop hung, exiting")
	os.Exit(3)
}

// Close releases storage and devices.
func (s *Stand) Close() error {
	var errs []error
	if s.catalog != nil {
		errs = append(errs, s.catalog.Close())
	}
	errs = append(errs, s.dev.Close())
	return errors.Join(errs...)
}

// openDevices picks the simulated rig or real hardware.
func openDevices(cfg *config.Config, clk clock.Clock) (*Devices, error) {
	if cfg.Simulate {
		return openSim(cfg, clk), nil
	}
	return openHardware(cfg)
}

// RunStand is the thrust stand main loop: it brings up the devices, then runs
// the operator console and every optional collaborator until interrupted.
func RunStand(cfg *config.Config) error {
	log.Println("starting thrust stand")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}
	dev, err := openDevices(cfg, clk)
	if err != nil {
		return err
	}

	// --- MQTT ---
	var pub *Publisher
	var sinks []sequencer.Sink
	mqttClient := mqttClientOrNil(cfg)
	if mqttClient != nil {
		defer mqttClient.Disconnect(250)
		pub = NewPublisher(mqttClient, cfg.TopicSnapshot, cfg.TopicSession)
		sinks = append(sinks, pub)
	}

	stand := NewStand(cfg, clk, dev, sinks...)
	defer func() {
		if err := stand.Close(); err != nil {
			log.Printf("stand: close: %v", err)
		}
	}()
	if pub != nil {
		stand.OnSession(pub.Session)
	}

	op := NewOperator(stand, os.Stdout)
	op.OnPrompt(stand.live.Prompt)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rpm.Watch(ctx, dev.Edges, stand.edges, stand.timebase.Micros)
	})

	if pub != nil {
		g.Go(func() error { return pub.Run(ctx) })
		if err := subscribe(mqttClient, cfg.TopicCommand, func(payload []byte) {
			handleCommandPayload(op, "mqtt", payload)
		}); err != nil {
			log.Printf("stand: remote commands disabled: %v", err)
		}
	}

	if cfg.KeypadSerialPort != "" {
		g.Go(func() error { return runKeypad(ctx, cfg.KeypadSerialPort, cfg.KeypadBaudRate, op) })
	}

	if cfg.WebServerPort > 0 {
		g.Go(func() error { return serveStand(ctx, cfg.WebServerPort, stand, op) })
	}

	if cfg.DisplayI2CBus != "" {
		g.Go(func() error { return runDisplay(ctx, cfg, stand.live) })
	}

	// stdin cannot be interrupted, so it stays outside the group
	go readConsole(os.Stdin, op)

	g.Go(func() error {
		err := op.Run(ctx)
		log.Println("stand: shutting down")
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stand: %w", err)
	}
	return nil
}
