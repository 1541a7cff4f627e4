// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"errors"
	"math"
	"testing"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
)

type fixedRPM int

func (r fixedRPM) Sample() int { return int(r) }

type stubCell struct {
	ready bool
	value float64
	err   error
}

func (c *stubCell) IsReady() bool               { return c.ready }
func (c *stubCell) ReadUnits() (float64, error) { return c.value, c.err }
func (c *stubCell) Tare() error                 { return nil }
func (c *stubCell) SetScale(float64)            {}
func (c *stubCell) Scale() float64              { return 1 }
func (c *stubCell) Offset() float64             { return 0 }
func (c *stubCell) RawValue() (int64, error)    { return 0, nil }

type constAnalog struct {
	raw   int32
	err   error
	reads int
}

func (a *constAnalog) RawSample() (int32, error) {
	a.reads++
	return a.raw, a.err
}

type offsets map[calibration.Channel]float64

func (o offsets) Offset(ch calibration.Channel) float64 { return o[ch] }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VoltageScale = 0.01
	cfg.CurrentScale = 0.1
	cfg.CurrentGain = 50
	cfg.AirspeedVoltsPerCount = 0.001
	return cfg
}

func TestReadStaleHold(t *testing.T) {
	thrust := &stubCell{ready: true, value: 812.5}
	torque := &stubCell{ready: true, value: 40}
	a := New(Channels{
		RPM:     fixedRPM(4200),
		Thrust:  thrust,
		Torque:  torque,
		Voltage: &constAnalog{raw: 1200},
		Current: &constAnalog{raw: 100},
	}, testConfig(), offsets{})

	s := a.Read()
	if s.Thrust != 812.5 || s.Torque != 40 || s.RPM != 4200 {
		t.Fatalf("first read = %+v", s)
	}

	thrust.ready = false
	torque.err = errors.New("timeout")
	torque.value = 0
	s = a.Read()
	if s.Thrust != 812.5 {
		t.Errorf("not-ready thrust = %v, want held 812.5", s.Thrust)
	}
	if s.Torque != 40 {
		t.Errorf("failed torque = %v, want held 40", s.Torque)
	}
}

func TestVoltageAveragedScaledAndOffset(t *testing.T) {
	volt := &constAnalog{raw: 1200}
	a := New(Channels{RPM: fixedRPM(-1), Voltage: volt, Current: &constAnalog{}}, testConfig(),
		offsets{calibration.Voltage: 0.5})

	s := a.Read()
	if math.Abs(s.Voltage-11.5) > 1e-9 {
		t.Errorf("Voltage = %v, want 11.5", s.Voltage)
	}
	if volt.reads != 40 {
		t.Errorf("voltage samples = %d, want 40", volt.reads)
	}

	volt.err = errors.New("nack")
	if s = a.Read(); math.Abs(s.Voltage-11.5) > 1e-9 {
		t.Errorf("failed voltage read = %v, want held 11.5", s.Voltage)
	}
}

func TestCurrentEMA(t *testing.T) {
	cur := &constAnalog{raw: 100} // 10 A
	a := New(Channels{RPM: fixedRPM(-1), Voltage: &constAnalog{}, Current: cur}, testConfig(), offsets{})

	want := []float64{5, 7.5, 8.75}
	for i, w := range want {
		if s := a.Read(); math.Abs(s.Current-w) > 1e-9 {
			t.Errorf("read %d current = %v, want %v", i, s.Current, w)
		}
	}
}

func TestCurrentGainOutOfRangeHolds(t *testing.T) {
	for _, gain := range []float64{-1, 101, math.NaN()} {
		cfg := testConfig()
		cfg.CurrentGain = gain
		a := New(Channels{RPM: fixedRPM(-1), Voltage: &constAnalog{}, Current: &constAnalog{raw: 100}}, cfg, offsets{})
		if a.Config().CurrentGain != 0 {
			t.Errorf("gain %v not reset: %v", gain, a.Config().CurrentGain)
		}
		if s := a.Read(); s.Current != 0 {
			t.Errorf("gain %v: current = %v, want prior value 0", gain, s.Current)
		}
	}
}

func TestAirspeed(t *testing.T) {
	// 2.5 V zero, 1 V/kPa: 2.5 + 0.6125 V is 612.5 Pa, sqrt(2*612.5/1.225) = sqrt(1000)
	got := Airspeed(3.1125, 2.5, 1, 1.225)
	if math.Abs(got-math.Sqrt(1000)) > 1e-9 {
		t.Errorf("Airspeed = %v, want %v", got, math.Sqrt(1000))
	}
	if got := Airspeed(2.4, 2.5, 1, 1.225); got != 0 {
		t.Errorf("negative pressure airspeed = %v, want 0", got)
	}
	if got := Airspeed(2.5, 2.5, 1, 1.225); got != 0 {
		t.Errorf("zero pressure airspeed = %v, want 0", got)
	}
}

func TestAirspeedOverride(t *testing.T) {
	pitot := &constAnalog{raw: 3000}
	cfg := testConfig()
	cfg.AirspeedOverride = 7.25
	a := New(Channels{RPM: fixedRPM(-1), Voltage: &constAnalog{}, Current: &constAnalog{}, Airspeed: pitot}, cfg, offsets{})

	if s := a.Read(); s.Airspeed != 7.25 {
		t.Errorf("Airspeed = %v, want override 7.25", s.Airspeed)
	}
	if pitot.reads != 0 {
		t.Errorf("pitot sampled %d times with override set", pitot.reads)
	}

	cfg.AirspeedOverride = 0
	a = New(Channels{RPM: fixedRPM(-1), Voltage: &constAnalog{}, Current: &constAnalog{}, Airspeed: pitot}, cfg, offsets{})
	// 3000 counts * 1 mV = 3.0 V, 500 Pa
	want := math.Sqrt(2 * 500 / 1.225)
	if s := a.Read(); math.Abs(s.Airspeed-want) > 1e-9 {
		t.Errorf("Airspeed = %v, want %v", s.Airspeed, want)
	}
}
