// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquisition reads every stand channel once per control cycle.
package acquisition

import (
	"fmt"
	"log"
	"math"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/sensors"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

// Config holds the per-channel conversion constants.
type Config struct {
	// Samples averaged per analog reading.
	Samples int

	VoltageScale float64 // volts per raw count, divider included
	CurrentScale float64 // amps per raw count

	// CurrentGain is the weight in percent given to the newest current sample.
	CurrentGain float64

	// AirspeedOverride, when nonzero, is reported instead of the pitot reading.
	AirspeedOverride      float64
	AirspeedVoltsPerCount float64
	AirspeedZeroVoltage   float64
	AirspeedSensitivity   float64 // volts per kPa
	AirDensity            float64 // kg/m^3
}

// DefaultConfig matches an ADS1115 at +/-4.096 V with a 10:1 voltage divider,
// a 40 mV/A current sensor and an MPXV7002-style pitot sensor.
func DefaultConfig() Config {
	return Config{
		Samples:               40,
		VoltageScale:          sensors.VoltsPerCount * 11,
		CurrentScale:          sensors.VoltsPerCount / 0.040,
		CurrentGain:           25,
		AirspeedVoltsPerCount: sensors.VoltsPerCount,
		AirspeedZeroVoltage:   2.5,
		AirspeedSensitivity:   1,
		AirDensity:            1.225,
	}
}

// RPMSampler is satisfied by *rpm.Capture.
type RPMSampler interface {
	Sample() int
}

// Offsets is satisfied by *calibration.Manager.
type Offsets interface {
	Offset(ch calibration.Channel) float64
}

// Channels groups the stand's inputs. Airspeed may be nil when an override
// is always used.
type Channels struct {
	RPM      RPMSampler
	Thrust   sensors.LoadCell
	Torque   sensors.LoadCell
	Voltage  sensors.Analog
	Current  sensors.Analog
	Airspeed sensors.Analog
}

// Acquisition holds the previous cycle's values for stale-hold and smoothing.
type Acquisition struct {
	ch      Channels
	cfg     Config
	offsets Offsets

	last   telemetry.Snapshot
	warned map[string]bool
}

// New returns an Acquisition. An out-of-range current gain is replaced by 0.
func New(ch Channels, cfg Config, offsets Offsets) *Acquisition {
	if cfg.Samples < 1 {
		cfg.Samples = 1
	}
	if math.IsNaN(cfg.CurrentGain) || cfg.CurrentGain < 0 || cfg.CurrentGain > 100 {
		log.Printf("acquisition: current gain %v outside [0,100], using 0", cfg.CurrentGain)
		cfg.CurrentGain = 0
	}
	return &Acquisition{ch: ch, cfg: cfg, offsets: offsets, warned: make(map[string]bool)}
}

// Config returns the effective configuration.
func (a *Acquisition) Config() Config { return a.cfg }

// Read performs one cycle of reads and returns the measured fields. Channels
// that are not ready or fail keep their previous value.
func (a *Acquisition) Read() telemetry.Snapshot {
	s := a.last
	s.RPM = a.ch.RPM.Sample()

	s.Thrust = a.loadCell("thrust", a.ch.Thrust, s.Thrust)
	s.Torque = a.loadCell("torque", a.ch.Torque, s.Torque)

	if v, err := a.Volts(calibration.Voltage); err == nil {
		s.Voltage = v - a.offsets.Offset(calibration.Voltage)
	} else {
		a.warn("voltage", err)
	}

	if v, err := a.Volts(calibration.Current); err == nil {
		g := a.cfg.CurrentGain / 100
		s.Current = g*(v-a.offsets.Offset(calibration.Current)) + (1-g)*s.Current
	} else {
		a.warn("current", err)
	}

	if v, err := a.airspeed(); err == nil {
		s.Airspeed = v
	} else {
		a.warn("airspeed", err)
	}

	a.last = s
	return s
}

// Reset forgets held values before a new session.
func (a *Acquisition) Reset() {
	a.last = telemetry.Snapshot{}
	a.warned = make(map[string]bool)
}

func (a *Acquisition) loadCell(name string, cell sensors.LoadCell, prev float64) float64 {
	if cell == nil || !cell.IsReady() {
		return prev
	}
	v, err := cell.ReadUnits()
	if err != nil {
		a.warn(name, err)
		return prev
	}
	return v
}

// Volts returns the averaged, scaled reading of an analog channel before
// offset correction.
func (a *Acquisition) Volts(ch calibration.Channel) (float64, error) {
	var (
		src   sensors.Analog
		scale float64
	)
	switch ch {
	case calibration.Voltage:
		src, scale = a.ch.Voltage, a.cfg.VoltageScale
	case calibration.Current:
		src, scale = a.ch.Current, a.cfg.CurrentScale
	default:
		return 0, fmt.Errorf("%s is not an analog channel", ch)
	}
	if src == nil {
		return 0, fmt.Errorf("%s channel not connected", ch)
	}
	raw, err := sensors.Average(src, a.cfg.Samples)
	if err != nil {
		return 0, err
	}
	return raw * scale, nil
}

func (a *Acquisition) airspeed() (float64, error) {
	if a.cfg.AirspeedOverride != 0 {
		return a.cfg.AirspeedOverride, nil
	}
	if a.ch.Airspeed == nil {
		return 0, nil
	}
	raw, err := sensors.Average(a.ch.Airspeed, a.cfg.Samples)
	if err != nil {
		return 0, err
	}
	return Airspeed(raw*a.cfg.AirspeedVoltsPerCount, a.cfg.AirspeedZeroVoltage, a.cfg.AirspeedSensitivity, a.cfg.AirDensity), nil
}

// Airspeed converts a differential pressure sensor voltage to m/s.
func Airspeed(v, zeroVoltage, sensitivity, density float64) float64 {
	if sensitivity == 0 || density <= 0 {
		return 0
	}
	pa := (v - zeroVoltage) / sensitivity * 1000
	if pa <= 0 {
		return 0
	}
	return math.Sqrt(2 * pa / density)
}

func (a *Acquisition) warn(name string, err error) {
	if a.warned[name] {
		return
	}
	a.warned[name] = true
	log.Printf("acquisition: %s holding previous value: %v", name, err)
}
