// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import "math"

// Snapshot is one control cycle's consolidated reading plus derived metrics.
// It is what gets logged, displayed and published.
type Snapshot struct {
	Time     float64 `json:"time_s"`
	State    string  `json:"state,omitempty"`
	RPM      int     `json:"rpm"`
	Thrust   float64 `json:"thrust_mn"`
	Torque   float64 `json:"torque_nmm"`
	Voltage  float64 `json:"voltage_v"`
	Current  float64 `json:"current_a"`
	Airspeed float64 `json:"airspeed_ms"`
	Throttle float64 `json:"throttle_pct"`
	Pulse    int     `json:"pulse_us,omitempty"`

	ElectricPower       float64 `json:"electric_power_w"`
	MechanicalPower     float64 `json:"mechanical_power_w"`
	PropulsivePower     float64 `json:"propulsive_power_w"`
	MotorEfficiency     float64 `json:"motor_efficiency"`
	PropellerEfficiency float64 `json:"propeller_efficiency"`
	SystemEfficiency    float64 `json:"system_efficiency"`

	Degenerate Degenerate `json:"degenerate,omitempty"`
}

// Degenerate flags efficiency ratios whose denominator was too small to
// divide by. A flagged ratio is reported as 0.
type Degenerate uint8

const (
	MotorEfficiencyDegenerate Degenerate = 1 << iota
	PropellerEfficiencyDegenerate
	SystemEfficiencyDegenerate
)

// Has reports whether all bits of f are set.
func (d Degenerate) Has(f Degenerate) bool { return d&f == f }

const (
	// MinPower is the smallest power in watts used as a ratio denominator.
	MinPower = 1e-6

	// RadPerSecPerRPM converts rev/min to rad/s.
	RadPerSecPerRPM = 0.1047
)

// Derive fills the six derived metrics of s from its measured fields.
func Derive(s Snapshot) Snapshot {
	rpm := float64(s.RPM)
	if rpm < 0 {
		rpm = 0
	}

	s.ElectricPower = finite(math.Abs(s.Voltage * s.Current))
	s.MechanicalPower = finite(math.Abs(s.Torque / 1000 * rpm * RadPerSecPerRPM))
	s.PropulsivePower = finite(math.Abs(s.Thrust / 1000 * s.Airspeed))

	s.Degenerate = 0
	var ok bool
	if s.MotorEfficiency, ok = ratio(s.MechanicalPower, s.ElectricPower); !ok {
		s.Degenerate |= MotorEfficiencyDegenerate
	}
	if s.PropellerEfficiency, ok = ratio(s.PropulsivePower, s.MechanicalPower); !ok {
		s.Degenerate |= PropellerEfficiencyDegenerate
	}
	if s.SystemEfficiency, ok = ratio(s.PropulsivePower, s.ElectricPower); !ok {
		s.Degenerate |= SystemEfficiencyDegenerate
	}
	return s
}

func ratio(num, den float64) (float64, bool) {
	if den < MinPower {
		return 0, false
	}
	return num / den, true
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
