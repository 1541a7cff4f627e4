// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package throttle implements the ramp profile state machine and the mapping
// from throttle percent to an ESC pulse width.
package throttle

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// State is the phase of a ramp run.
type State int

const (
	Idle State = iota
	RampUp
	Hold
	RampDown
	Complete
	EStop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RampUp:
		return "ramp_up"
	case Hold:
		return "hold"
	case RampDown:
		return "ramp_down"
	case Complete:
		return "complete"
	case EStop:
		return "estop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether the state drives the motor.
func (s State) Active() bool {
	return s == RampUp || s == Hold || s == RampDown
}

// Profile describes one throttle-vs-time run.
type Profile struct {
	Name        string  `yaml:"name" json:"name"`
	RampSeconds float64 `yaml:"ramp_seconds" json:"ramp_seconds"`
	HoldSeconds float64 `yaml:"hold_seconds" json:"hold_seconds"`
	MinPulse    int     `yaml:"min_pulse_us" json:"min_pulse_us"`
	MaxPulse    int     `yaml:"max_pulse_us" json:"max_pulse_us"`

	// MaxThrottle is the percent reached at the top of the ramp.
	MaxThrottle float64 `yaml:"max_throttle" json:"max_throttle"`
	// UpOnly ends the run after the hold instead of ramping back down.
	UpOnly bool `yaml:"up_only" json:"up_only"`
	// Steps > 0 turns the ramp into that many discrete intervals.
	Steps int `yaml:"steps" json:"steps"`
}

// DefaultProfile is a 30 s ramp with a 4 s hold on a 1000-2000 us ESC.
func DefaultProfile() Profile {
	return Profile{
		Name:        "smooth",
		RampSeconds: 30,
		HoldSeconds: 4,
		MinPulse:    1000,
		MaxPulse:    2000,
		MaxThrottle: 100,
	}
}

// Validate checks the profile invariants.
func (p Profile) Validate() error {
	var errs []error
	if p.RampSeconds < 0 || math.IsNaN(p.RampSeconds) {
		errs = append(errs, fmt.Errorf("ramp seconds must be >= 0, got %v", p.RampSeconds))
	}
	if p.HoldSeconds < 0 || math.IsNaN(p.HoldSeconds) {
		errs = append(errs, fmt.Errorf("hold seconds must be >= 0, got %v", p.HoldSeconds))
	}
	if p.MinPulse <= 0 || p.MaxPulse <= p.MinPulse {
		errs = append(errs, fmt.Errorf("pulse range %d..%d us is invalid", p.MinPulse, p.MaxPulse))
	}
	if !(p.MaxThrottle > 0 && p.MaxThrottle <= 100) {
		errs = append(errs, fmt.Errorf("max throttle must be in (0,100], got %v", p.MaxThrottle))
	}
	if p.Steps < 0 {
		errs = append(errs, fmt.Errorf("steps must be >= 0, got %d", p.Steps))
	}
	return errors.Join(errs...)
}

// Duration returns the length of the whole run.
func (p Profile) Duration() time.Duration {
	n := 2.0
	if p.UpOnly {
		n = 1
	}
	return seconds(n*p.RampSeconds + p.HoldSeconds)
}

// At returns the throttle percent and phase at elapsed time t.
func (p Profile) At(t time.Duration) (float64, State) {
	if t < 0 {
		return 0, Idle
	}
	ms := float64(t.Milliseconds())
	r := p.RampSeconds * 1000
	h := p.HoldSeconds * 1000
	top := p.MaxThrottle

	switch {
	case ms < r:
		return p.quantize(top*ms/r, top), RampUp
	case ms < r+h:
		return top, Hold
	case !p.UpOnly && ms < 2*r+h:
		return p.quantize(top*(1-(ms-r-h)/r), top), RampDown
	default:
		return 0, Complete
	}
}

// quantize floors pct to the nearest lower step so steps hold for an interval.
func (p Profile) quantize(pct, top float64) float64 {
	if p.Steps <= 0 {
		return pct
	}
	n := float64(p.Steps)
	return math.Floor(pct/top*n) / n * top
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Controller tracks the phase of a single run. ESTOP and COMPLETE absorb.
type Controller struct {
	profile Profile
	state   State
	pct     float64
}

// NewController returns an idle controller for a copy of p.
func NewController(p Profile) *Controller {
	return &Controller{profile: p, state: Idle}
}

// Advance evaluates the profile at elapsed time t.
func (c *Controller) Advance(t time.Duration) (float64, State) {
	if c.state == EStop || c.state == Complete {
		c.pct = 0
		return 0, c.state
	}
	c.pct, c.state = c.profile.At(t)
	return c.pct, c.state
}

// EmergencyStop forces idle and the ESTOP state. It returns false when the
// run had already ended.
func (c *Controller) EmergencyStop() bool {
	if c.state == Complete || c.state == EStop {
		return false
	}
	c.state = EStop
	c.pct = 0
	return true
}

func (c *Controller) State() State      { return c.state }
func (c *Controller) Throttle() float64 { return c.pct }
func (c *Controller) Profile() Profile  { return c.profile }

// PulseWidth maps a throttle percent to an ESC pulse in microseconds.
// Any percent outside [0,100] maps to the idle pulse.
func PulseWidth(pct float64, minPulse, maxPulse int) int {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return minPulse
	}
	us := int(math.Round(pct/100*float64(maxPulse-minPulse))) + minPulse
	return clamp(us, minPulse, maxPulse)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
