// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration converts raw sensor counts into physical units: load
// cell tare and scale, analog zero offsets, and their persistence.
package calibration

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/clock"
	"github.com/relabs-tech/thrust_stand/internal/sensors"
)

var (
	// ErrCalibrationCanceled means the operator backed out; nothing was changed.
	ErrCalibrationCanceled = errors.New("calibration canceled")
	// ErrTareNotConfirmed means the load-removed gate was not satisfied.
	ErrTareNotConfirmed = errors.New("load removal not confirmed")
	// ErrNoSignal means the loaded cell read zero on average.
	ErrNoSignal = errors.New("load cell reads no signal")
	// ErrNotCalibrated means calibration state was not loaded yet.
	ErrNotCalibrated = errors.New("calibration not loaded")
	// ErrStorageUnavailable wraps failures of the persistent store.
	ErrStorageUnavailable = errors.New("calibration storage unavailable")
)

// Channel identifies a calibrated input.
type Channel int

const (
	Thrust Channel = iota
	Torque
	Voltage
	Current
	numChannels
)

func (c Channel) String() string {
	switch c {
	case Thrust:
		return "thrust"
	case Torque:
		return "torque"
	case Voltage:
		return "voltage"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel maps a channel name back to its Channel.
func ParseChannel(name string) (Channel, error) {
	for c := Thrust; c < numChannels; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

// IsLoadCell reports whether c is a strain-gauge channel.
func (c Channel) IsLoadCell() bool { return c == Thrust || c == Torque }

// ChannelCalibration converts counts to units for one channel.
type ChannelCalibration struct {
	Offset float64 `json:"offset"`
	Scale  float64 `json:"scale"`
	Unit   string  `json:"unit"`
}

var units = [numChannels]string{Thrust: "mN", Torque: "N.mm", Voltage: "V", Current: "A"}

const (
	// CalibrationSamples is the number of raw readings per scale calibration.
	CalibrationSamples = 50
	// OffsetSamples is the number of readings averaged for an analog zero.
	OffsetSamples = 30
	// OffsetSettle is the pause between analog zero readings.
	OffsetSettle = 10 * time.Millisecond
)

// Result reports a finished scale calibration.
type Result struct {
	Channel          Channel   `json:"-"`
	ChannelName      string    `json:"channel"`
	KnownLoad        float64   `json:"known_load"`
	Scale            float64   `json:"scale"`
	Mean             float64   `json:"mean"`
	Min              float64   `json:"min"`
	Max              float64   `json:"max"`
	DeviationPercent float64   `json:"deviation_percent"`
	Samples          int       `json:"samples"`
	Timestamp        time.Time `json:"timestamp"`
}

// Manager owns the live calibration of every channel.
type Manager struct {
	clk    clock.Clock
	store  *SlotStore
	cells  [2]sensors.LoadCell
	cal    [numChannels]ChannelCalibration
	loaded bool
}

// NewManager returns a manager for the two load cells. Calibration is not
// usable until Rehydrate succeeds.
func NewManager(clk clock.Clock, store *SlotStore, thrust, torque sensors.LoadCell) *Manager {
	m := &Manager{clk: clk, store: store, cells: [2]sensors.LoadCell{thrust, torque}}
	for c := Thrust; c < numChannels; c++ {
		m.cal[c] = ChannelCalibration{Scale: 1, Unit: units[c]}
	}
	return m
}

// Rehydrate loads the persisted scales into the manager and the cells.
// Erased slots keep the default scale of 1.
func (m *Manager) Rehydrate() error {
	for _, ch := range []Channel{Thrust, Torque} {
		scale, ok, err := m.store.Load(ch)
		if err != nil {
			return fmt.Errorf("loading %s scale: %w", ch, err)
		}
		if !ok {
			log.Printf("calibration: %s slot empty, using scale 1", ch)
			scale = 1
		}
		m.cal[ch].Scale = scale
		m.cells[ch].SetScale(scale)
	}
	m.loaded = true
	return nil
}

// Ready returns ErrNotCalibrated until Rehydrate has run.
func (m *Manager) Ready() error {
	if !m.loaded {
		return ErrNotCalibrated
	}
	return nil
}

// Calibration returns a copy of ch's calibration.
func (m *Manager) Calibration(ch Channel) ChannelCalibration {
	if ch < 0 || ch >= numChannels {
		return ChannelCalibration{Scale: 1}
	}
	return m.cal[ch]
}

// Offset returns ch's zero offset in its units.
func (m *Manager) Offset(ch Channel) float64 {
	return m.Calibration(ch).Offset
}

// Gate holds a tare or calibration until the operator confirms that the load
// has been removed.
type Gate struct {
	m         *Manager
	ch        Channel
	calibrate bool
	tared     bool
	done      bool
}

// Tare starts a tare of ch.
func (m *Manager) Tare(ch Channel) (*Gate, error) {
	if !ch.IsLoadCell() {
		return nil, fmt.Errorf("%s is not a load cell", ch)
	}
	return &Gate{m: m, ch: ch}, nil
}

// Calibrate starts a tare followed by a known-load calibration of ch.
func (m *Manager) Calibrate(ch Channel) (*Gate, error) {
	g, err := m.Tare(ch)
	if err != nil {
		return nil, err
	}
	g.calibrate = true
	return g, nil
}

// Channel returns the gated channel.
func (g *Gate) Channel() Channel { return g.ch }

// LoadRemoved satisfies the gate and tares the cell.
func (g *Gate) LoadRemoved() error {
	if g.done || g.tared {
		return fmt.Errorf("%s gate already used", g.ch)
	}
	cell := g.m.cells[g.ch]
	if err := cell.Tare(); err != nil {
		return fmt.Errorf("taring %s: %w", g.ch, err)
	}
	g.m.cal[g.ch].Offset = cell.Offset()
	g.tared = true
	if !g.calibrate {
		g.done = true
	}
	log.Printf("calibration: %s tared at offset %.1f", g.ch, cell.Offset())
	return nil
}

// Cancel abandons the gate.
func (g *Gate) Cancel() { g.done = true }

// Apply measures the cell under knownLoad and persists the new scale.
// A knownLoad of 0 cancels the run with the stored scale unchanged.
func (g *Gate) Apply(knownLoad float64) (Result, error) {
	if !g.calibrate || g.done {
		return Result{}, fmt.Errorf("%s gate does not accept a load", g.ch)
	}
	if !g.tared {
		return Result{}, ErrTareNotConfirmed
	}
	g.done = true
	if knownLoad == 0 || math.IsNaN(knownLoad) {
		log.Printf("calibration: %s canceled", g.ch)
		return Result{}, ErrCalibrationCanceled
	}

	m := g.m
	cell := m.cells[g.ch]
	offset := cell.Offset()

	res := Result{
		Channel:     g.ch,
		ChannelName: g.ch.String(),
		KnownLoad:   knownLoad,
		Min:         math.Inf(1),
		Max:         math.Inf(-1),
		Samples:     CalibrationSamples,
	}
	var sum float64
	for i := 0; i < CalibrationSamples; i++ {
		raw, err := cell.RawValue()
		if err != nil {
			return Result{}, fmt.Errorf("sampling %s: %w", g.ch, err)
		}
		v := float64(raw) - offset
		sum += v
		res.Min = math.Min(res.Min, v)
		res.Max = math.Max(res.Max, v)
	}
	res.Mean = sum / CalibrationSamples
	if res.Mean == 0 {
		return Result{}, ErrNoSignal
	}
	res.Scale = res.Mean / knownLoad
	res.DeviationPercent = math.Abs((res.Max-res.Min)/res.Mean) * 100
	res.Timestamp = m.clk.Now()

	if err := m.store.Save(g.ch, res.Scale); err != nil {
		return Result{}, err
	}
	m.cal[g.ch].Scale = res.Scale
	cell.SetScale(res.Scale)

	log.Printf("calibration: %s scale %.4f (mean %.1f, deviation %.2f%%)",
		g.ch, res.Scale, res.Mean, res.DeviationPercent)
	return res, nil
}

// FindAnalogOffset averages OffsetSamples readings of sample, pausing
// OffsetSettle between them.
func FindAnalogOffset(clk clock.Clock, sample func() (float64, error)) (float64, error) {
	var sum float64
	for i := 0; i < OffsetSamples; i++ {
		v, err := sample()
		if err != nil {
			return 0, fmt.Errorf("offset sample %d: %w", i+1, err)
		}
		sum += v
		clk.Sleep(OffsetSettle)
	}
	return sum / OffsetSamples, nil
}

// ZeroAnalog learns the zero offset of an analog channel from sample, which
// must return the channel's value before offset correction.
func (m *Manager) ZeroAnalog(ch Channel, sample func() (float64, error)) (float64, error) {
	if ch != Voltage && ch != Current {
		return 0, fmt.Errorf("%s is not an analog channel", ch)
	}
	off, err := FindAnalogOffset(m.clk, sample)
	if err != nil {
		return 0, fmt.Errorf("zeroing %s: %w", ch, err)
	}
	m.cal[ch].Offset = off
	log.Printf("calibration: %s offset %.4f %s", ch, off, units[ch])
	return off, nil
}
