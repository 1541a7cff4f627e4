// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/clock"
	"github.com/relabs-tech/thrust_stand/internal/config"
	"github.com/relabs-tech/thrust_stand/internal/rpm"
	"github.com/relabs-tech/thrust_stand/internal/safety"
	"github.com/relabs-tech/thrust_stand/internal/sensors"
	"github.com/relabs-tech/thrust_stand/internal/sim"
	"github.com/relabs-tech/thrust_stand/internal/throttle"
)

// Devices is every capability the stand drives, real or simulated.
type Devices struct {
	Thrust   sensors.LoadCell
	Torque   sensors.LoadCell
	Voltage  sensors.Analog
	Current  sensors.Analog
	Airspeed sensors.Analog // nil without a pitot sensor
	Edges    rpm.EdgeWaiter
	Actuator throttle.Actuator

	// Watchdog is nil when the software watchdog should be used.
	Watchdog safety.Watchdog

	// Reference hangs a known load on a load cell. Only the simulated rig
	// can do this; on hardware the operator places the weight.
	Reference func(ch calibration.Channel, units float64)

	closers []func() error
}

// Close releases the hardware.
func (d *Devices) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}

// openHardware brings up the periph host and every stand peripheral.
func openHardware(cfg *config.Config) (*Devices, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	d := &Devices{}
	fail := func(err error) (*Devices, error) {
		if cerr := d.Close(); cerr != nil {
			log.Printf("hardware: cleanup: %v", cerr)
		}
		return nil, err
	}

	// --- ESC first so the motor is held at idle as early as possible ---
	escPin, err := pinByName(cfg.ESCPin)
	if err != nil {
		return fail(err)
	}
	esc, err := throttle.NewESC(escPin, physic.Frequency(cfg.ESCFrequencyHz)*physic.Hertz, cfg.ESCMinPulseUS, cfg.ESCMaxPulseUS)
	if err != nil {
		return fail(err)
	}
	if err := esc.Idle(); err != nil {
		return fail(fmt.Errorf("esc idle: %w", err))
	}
	d.Actuator = esc
	d.closers = append(d.closers, func() error {
		if err := esc.Idle(); err != nil {
			return err
		}
		return escPin.Halt()
	})
	log.Printf("hardware: esc on %s at %d Hz", cfg.ESCPin, cfg.ESCFrequencyHz)

	// --- Load cells ---
	cells := []struct {
		name      string
		clk, data string
		dst       *sensors.LoadCell
	}{
		{"thrust", cfg.ThrustClkPin, cfg.ThrustDataPin, &d.Thrust},
		{"torque", cfg.TorqueClkPin, cfg.TorqueDataPin, &d.Torque},
	}
	for _, c := range cells {
		clkPin, err := pinByName(c.clk)
		if err != nil {
			return fail(err)
		}
		dataPin, err := pinByName(c.data)
		if err != nil {
			return fail(err)
		}
		cell, err := sensors.NewHX711(c.name, clkPin, dataPin)
		if err != nil {
			return fail(err)
		}
		*c.dst = cell
	}

	// --- ADC ---
	bus, err := i2creg.Open(cfg.ADCI2CBus)
	if err != nil {
		return fail(fmt.Errorf("failed to open I2C bus %q: %w", cfg.ADCI2CBus, err))
	}
	d.closers = append(d.closers, bus.Close)
	adc, err := sensors.OpenADS1115(bus, cfg.ADCI2CAddr)
	if err != nil {
		return fail(err)
	}
	d.closers = append(d.closers, adc.Halt)
	if d.Voltage, err = adc.Channel("voltage", cfg.VoltageChannel); err != nil {
		return fail(err)
	}
	if d.Current, err = adc.Channel("current", cfg.CurrentChannel); err != nil {
		return fail(err)
	}
	if cfg.AirspeedChannel >= 0 {
		if d.Airspeed, err = adc.Channel("airspeed", cfg.AirspeedChannel); err != nil {
			return fail(err)
		}
	}

	// --- Tachometer ---
	rpmPin, err := pinByName(cfg.RPMPin)
	if err != nil {
		return fail(err)
	}
	if err := rpmPin.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		return fail(fmt.Errorf("rpm pin %s: %w", cfg.RPMPin, err))
	}
	d.Edges = rpmPin

	if cfg.WatchdogDevice != "" {
		d.Watchdog = safety.NewDevice(cfg.WatchdogDevice)
	}
	return d, nil
}

// openSim builds the simulated rig and its channels.
func openSim(cfg *config.Config, clk clock.Clock) *Devices {
	rig := sim.New(clk, sim.DefaultModel(), cfg.ESCMinPulseUS, cfg.ESCMaxPulseUS)
	acq := cfg.Acquisition()
	thrust := rig.LoadCell(sim.Thrust, -2.5)
	torque := rig.LoadCell(sim.Torque, 40)

	d := &Devices{
		Thrust:   thrust,
		Torque:   torque,
		Voltage:  rig.Analog(sim.Voltage, acq),
		Current:  rig.Analog(sim.Current, acq),
		Edges:    rig.Tachometer(cfg.PulsesPerRev),
		Actuator: rig,
		Reference: func(ch calibration.Channel, units float64) {
			switch ch {
			case calibration.Thrust:
				thrust.Load(units)
			case calibration.Torque:
				torque.Load(units)
			}
		},
	}
	if cfg.AirspeedChannel >= 0 {
		d.Airspeed = rig.Analog(sim.Airspeed, acq)
	}
	log.Println("sim: simulated rig ready")
	return d
}
