// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim is a simulated stand: an ESC input whose pulse width drives a
// lagged motor model, plus load cells, analog inputs and a tachometer edge
// source that read from it. It lets the full engine run on a development host.
package sim

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/acquisition"
	"github.com/relabs-tech/thrust_stand/internal/clock"
)

// Model holds the full-throttle operating point of the simulated motor.
type Model struct {
	MaxRPM      float64
	MaxThrust   float64 // mN
	MaxTorque   float64 // N*mm
	MaxAirspeed float64 // m/s behind the propeller

	BatteryVoltage     float64
	InternalResistance float64 // ohm
	MotorEfficiency    float64 // 0..1
	CurrentBias        float64 // A read by the current sensor at rest

	// Lag is the motor's first-order time constant.
	Lag time.Duration
	// Noise is the relative amplitude of measurement noise.
	Noise float64
}

// DefaultModel is roughly a 5 inch propeller on a 4S pack.
func DefaultModel() Model {
	return Model{
		MaxRPM:             24000,
		MaxThrust:          14000,
		MaxTorque:          120,
		MaxAirspeed:        22,
		BatteryVoltage:     16.8,
		InternalResistance: 0.02,
		MotorEfficiency:    0.8,
		CurrentBias:        0.3,
		Lag:                150 * time.Millisecond,
		Noise:              0.002,
	}
}

// Rig is the simulated stand. It implements throttle.Actuator.
type Rig struct {
	clk      clock.Clock
	model    Model
	minPulse int
	maxPulse int

	mu      sync.Mutex
	pulse   int
	level   float64 // lagged throttle 0..1
	updated time.Time
	rng     *rand.Rand
}

// New returns a rig at rest with an ESC range of minPulse..maxPulse us.
func New(clk clock.Clock, model Model, minPulse, maxPulse int) *Rig {
	return &Rig{
		clk:      clk,
		model:    model,
		minPulse: minPulse,
		maxPulse: maxPulse,
		pulse:    minPulse,
		updated:  clk.Now(),
		rng:      rand.New(rand.NewPCG(1, 2)),
	}
}

// SetPulseWidth commands the simulated ESC.
func (r *Rig) SetPulseWidth(us int) error {
	if us <= 0 {
		return errors.New("sim: pulse width must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	r.pulse = us
	return nil
}

// PulseWidth returns the last commanded pulse width.
func (r *Rig) PulseWidth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulse
}

// advance moves the lagged level toward the commanded throttle. Callers hold mu.
func (r *Rig) advance() {
	now := r.clk.Now()
	dt := now.Sub(r.updated)
	r.updated = now
	if dt <= 0 {
		return
	}
	target := float64(r.pulse-r.minPulse) / float64(r.maxPulse-r.minPulse)
	target = math.Max(0, math.Min(1, target))
	if r.model.Lag <= 0 {
		r.level = target
		return
	}
	r.level += (target - r.level) * (1 - math.Exp(-dt.Seconds()/r.model.Lag.Seconds()))
}

// State is the rig's true operating point.
type State struct {
	Level    float64
	RPM      float64
	Thrust   float64
	Torque   float64
	Voltage  float64
	Current  float64
	Airspeed float64
}

// State returns the true (noise free) operating point now.
func (r *Rig) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	return r.stateLocked()
}

func (r *Rig) stateLocked() State {
	m := r.model
	l := r.level
	s := State{
		Level:    l,
		RPM:      m.MaxRPM * l,
		Thrust:   m.MaxThrust * l * l,
		Torque:   m.MaxTorque * l * l,
		Airspeed: m.MaxAirspeed * l,
	}
	mech := s.Torque / 1000 * s.RPM * 2 * math.Pi / 60
	eff := m.MotorEfficiency
	if eff <= 0 {
		eff = 1
	}
	elec := mech / eff
	// V = Vb - I*R, P = V*I
	s.Voltage = m.BatteryVoltage
	if elec > 0 {
		disc := m.BatteryVoltage*m.BatteryVoltage - 4*m.InternalResistance*elec
		if disc < 0 {
			disc = 0
		}
		if m.InternalResistance > 0 {
			s.Current = (m.BatteryVoltage - math.Sqrt(disc)) / (2 * m.InternalResistance)
		} else {
			s.Current = elec / m.BatteryVoltage
		}
		s.Voltage = m.BatteryVoltage - s.Current*m.InternalResistance
	}
	return s
}

func (r *Rig) noisy(v, scale float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return v + r.rng.NormFloat64()*r.model.Noise*scale
}

// Quantity selects a load cell or analog signal of the rig.
type Quantity int

const (
	Thrust Quantity = iota
	Torque
	Voltage
	Current
	Airspeed
)

func (r *Rig) value(q Quantity) (v, fullScale float64) {
	s := r.State()
	m := r.model
	switch q {
	case Thrust:
		return s.Thrust, m.MaxThrust
	case Torque:
		return s.Torque, m.MaxTorque
	case Voltage:
		return s.Voltage, m.BatteryVoltage
	case Current:
		return s.Current + m.CurrentBias, 10
	case Airspeed:
		return s.Airspeed, m.MaxAirspeed
	}
	return 0, 1
}

// Cell is a simulated HX711 load cell. It implements sensors.LoadCell.
type Cell struct {
	rig        *Rig
	q          Quantity
	rawPerUnit float64
	zero       int64

	mu     sync.Mutex
	offset float64
	scale  float64
}

// LoadCell returns a load cell on thrust or torque. rawPerUnit is the true
// gain that calibration should find.
func (r *Rig) LoadCell(q Quantity, rawPerUnit float64) *Cell {
	return &Cell{rig: r, q: q, rawPerUnit: rawPerUnit, zero: 84000, scale: 1}
}

func (c *Cell) IsReady() bool { return true }

func (c *Cell) RawValue() (int64, error) {
	v, fs := c.rig.value(c.q)
	v = c.rig.noisy(v, fs)
	return c.zero + int64(math.Round(v*c.rawPerUnit)), nil
}

func (c *Cell) ReadUnits() (float64, error) {
	raw, err := c.RawValue()
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return (float64(raw) - c.offset) / c.scale, nil
}

func (c *Cell) Tare() error {
	var sum float64
	for i := 0; i < 10; i++ {
		raw, err := c.RawValue()
		if err != nil {
			return err
		}
		sum += float64(raw)
	}
	c.mu.Lock()
	c.offset = sum / 10
	c.mu.Unlock()
	return nil
}

func (c *Cell) SetScale(f float64) {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}
	c.mu.Lock()
	c.scale = f
	c.mu.Unlock()
}

func (c *Cell) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

func (c *Cell) Offset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Load adds a static load in channel units, as if a reference weight
// were hung on the cell.
func (c *Cell) Load(units float64) {
	c.mu.Lock()
	c.zero += int64(math.Round(units * c.rawPerUnit))
	c.mu.Unlock()
}

// Input is a simulated ADS1115 channel. It implements sensors.Analog.
type Input struct {
	rig     *Rig
	q       Quantity
	perUnit float64 // raw counts per unit
	zero    float64 // counts at zero

	sensitivity float64 // V per kPa
	density     float64
}

// Analog returns an ADC channel for voltage, current or airspeed, scaled so
// that an acquisition configured with cfg reads back the rig's values.
func (r *Rig) Analog(q Quantity, cfg acquisition.Config) *Input {
	in := &Input{rig: r, q: q}
	switch q {
	case Voltage:
		in.perUnit = 1 / cfg.VoltageScale
	case Current:
		in.perUnit = 1 / cfg.CurrentScale
	case Airspeed:
		in.perUnit = 1 / cfg.AirspeedVoltsPerCount
		in.zero = cfg.AirspeedZeroVoltage / cfg.AirspeedVoltsPerCount
		in.sensitivity = cfg.AirspeedSensitivity
		in.density = cfg.AirDensity
	}
	return in
}

func (in *Input) RawSample() (int32, error) {
	v, fs := in.rig.value(in.q)
	v = in.rig.noisy(v, fs)
	if in.q == Airspeed {
		kpa := 0.5 * in.density * v * v / 1000
		return int32(math.Round(in.zero + kpa*in.sensitivity*in.perUnit)), nil
	}
	return int32(math.Round(v * in.perUnit)), nil
}

// Tachometer is an optical tachometer on the simulated shaft. It implements
// rpm.EdgeWaiter.
type Tachometer struct {
	rig *Rig
	ppr int
}

// Tachometer returns an edge source producing ppr edges per revolution.
func (r *Rig) Tachometer(ppr int) *Tachometer {
	if ppr < 1 {
		ppr = 1
	}
	return &Tachometer{rig: r, ppr: ppr}
}

// WaitForEdge sleeps until the next edge and reports true, or sleeps timeout
// and reports false while the shaft turns too slowly.
func (t *Tachometer) WaitForEdge(timeout time.Duration) bool {
	rpm := t.rig.State().RPM
	if rpm < 1 {
		t.rig.clk.Sleep(timeout)
		return false
	}
	period := time.Duration(60e9 / (rpm * float64(t.ppr)))
	if period > timeout {
		t.rig.clk.Sleep(timeout)
		return false
	}
	t.rig.clk.Sleep(period)
	return true
}
