// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDerive(t *testing.T) {
	s := Derive(Snapshot{
		Voltage:  12,
		Current:  -10, // sign ignored
		Torque:   100, // N.mm
		RPM:      6000,
		Thrust:   5000, // mN
		Airspeed: 10,
	})

	if !near(s.ElectricPower, 120) {
		t.Errorf("ElectricPower = %v, want 120", s.ElectricPower)
	}
	wantMech := 0.1 * 6000 * RadPerSecPerRPM
	if !near(s.MechanicalPower, wantMech) {
		t.Errorf("MechanicalPower = %v, want %v", s.MechanicalPower, wantMech)
	}
	if !near(s.PropulsivePower, 50) {
		t.Errorf("PropulsivePower = %v, want 50", s.PropulsivePower)
	}
	if !near(s.MotorEfficiency, wantMech/120) {
		t.Errorf("MotorEfficiency = %v", s.MotorEfficiency)
	}
	if !near(s.PropellerEfficiency, 50/wantMech) {
		t.Errorf("PropellerEfficiency = %v", s.PropellerEfficiency)
	}
	if !near(s.SystemEfficiency, 50.0/120) {
		t.Errorf("SystemEfficiency = %v", s.SystemEfficiency)
	}
	if s.Degenerate != 0 {
		t.Errorf("Degenerate = %b, want 0", s.Degenerate)
	}
}

func TestDeriveZeroDenominators(t *testing.T) {
	s := Derive(Snapshot{RPM: -1, Thrust: 200, Airspeed: 3})

	if s.MechanicalPower != 0 {
		t.Errorf("stopped rotor MechanicalPower = %v, want 0", s.MechanicalPower)
	}
	for name, v := range map[string]float64{
		"motor":     s.MotorEfficiency,
		"propeller": s.PropellerEfficiency,
		"system":    s.SystemEfficiency,
	} {
		if v != 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s efficiency = %v, want 0", name, v)
		}
	}
	all := MotorEfficiencyDegenerate | PropellerEfficiencyDegenerate | SystemEfficiencyDegenerate
	if !s.Degenerate.Has(all) {
		t.Errorf("Degenerate = %b, want %b", s.Degenerate, all)
	}
}

func TestDeriveNearZeroPower(t *testing.T) {
	s := Derive(Snapshot{Voltage: 1e-4, Current: 1e-4, Torque: 10, RPM: 100})
	if !s.Degenerate.Has(MotorEfficiencyDegenerate) {
		t.Error("expected motor efficiency flagged at 1e-8 W")
	}
	if s.Degenerate.Has(PropellerEfficiencyDegenerate) {
		t.Error("propeller efficiency flagged with real mechanical power")
	}
}

func TestDeriveNonFiniteInputs(t *testing.T) {
	s := Derive(Snapshot{Voltage: math.Inf(1), Current: 2})
	if s.ElectricPower != 0 {
		t.Errorf("ElectricPower = %v, want 0", s.ElectricPower)
	}
}
