// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package throttle

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Actuator accepts a bounded pulse-width command.
type Actuator interface {
	SetPulseWidth(us int) error
}

// PWMOutput is the subset of gpio.PinOut used to drive an ESC.
type PWMOutput interface {
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// ESC drives a servo-style electronic speed controller from a PWM pin.
type ESC struct {
	pin      PWMOutput
	freq     physic.Frequency
	periodUS int64
	minPulse int
	maxPulse int
	last     int
}

// NewESC returns an ESC on pin refreshing at freq. Pulses are clamped to
// [minPulse, maxPulse].
func NewESC(pin PWMOutput, freq physic.Frequency, minPulse, maxPulse int) (*ESC, error) {
	hz := int64(freq / physic.Hertz)
	if hz <= 0 {
		return nil, fmt.Errorf("esc: invalid frequency %s", freq)
	}
	period := int64(time.Second/time.Microsecond) / hz
	if int64(maxPulse) >= period {
		return nil, fmt.Errorf("esc: max pulse %dus does not fit a %dus period", maxPulse, period)
	}
	return &ESC{pin: pin, freq: freq, periodUS: period, minPulse: minPulse, maxPulse: maxPulse}, nil
}

// SetPulseWidth commands a pulse of us microseconds.
func (e *ESC) SetPulseWidth(us int) error {
	us = clamp(us, e.minPulse, e.maxPulse)
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(us) / e.periodUS)
	if err := e.pin.PWM(duty, e.freq); err != nil {
		return fmt.Errorf("esc: set %dus: %w", us, err)
	}
	e.last = us
	return nil
}

// Idle commands the minimum pulse.
func (e *ESC) Idle() error {
	return e.SetPulseWidth(e.minPulse)
}

// PulseWidth returns the last commanded pulse.
func (e *ESC) PulseWidth() int { return e.last }
