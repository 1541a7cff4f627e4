// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
)

func pressAll(op *Operator, keys string) {
	for _, k := range []byte(keys) {
		op.Press("stdin", k)
	}
}

func TestReadNumber(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	ctx := context.Background()

	tests := []struct {
		keys string
		want float64
		err  error
	}{
		{"12.5#", 12.5, nil},
		{"-3#", -3, nil},
		{"4-2#", 42, nil},
		{"#", 0, nil},
		{"7x8#", 78, nil},
		{"12*", 0, ErrEntryCanceled},
	}
	for _, tt := range tests {
		op := NewOperator(s, &bytes.Buffer{})
		pressAll(op, tt.keys)
		got, err := op.readNumber(ctx, "value")
		if !errors.Is(err, tt.err) || got != tt.want {
			t.Errorf("keys %q: got %v, %v; want %v, %v", tt.keys, got, err, tt.want, tt.err)
		}
	}
}

func TestConfirm(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	ctx := context.Background()

	op := NewOperator(s, &bytes.Buffer{})
	pressAll(op, "5#")
	if ok, err := op.confirm(ctx, "go?"); !ok || err != nil {
		t.Errorf("confirm after 5# = %v, %v", ok, err)
	}
	pressAll(op, "*")
	if ok, err := op.confirm(ctx, "go?"); ok || err != nil {
		t.Errorf("confirm after * = %v, %v", ok, err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := op.confirm(canceled, "go?"); !errors.Is(err, context.Canceled) {
		t.Errorf("confirm on canceled ctx err = %v", err)
	}
}

func TestPromptsReachListener(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	var out bytes.Buffer
	op := NewOperator(s, &out)
	var prompts []string
	op.OnPrompt(func(m string) { prompts = append(prompts, m) })

	pressAll(op, "#")
	op.confirm(context.Background(), "ready")
	if len(prompts) != 1 || !strings.HasPrefix(prompts[0], "ready") {
		t.Errorf("prompts = %q", prompts)
	}
	if !strings.Contains(out.String(), "ready") {
		t.Errorf("output %q", out.String())
	}
}

func TestExecute(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	var out bytes.Buffer
	op := NewOperator(s, &out)
	ctx := context.Background()

	if err := op.Execute(ctx, '#'); err != nil {
		t.Errorf("# is not ignored: %v", err)
	}
	if err := op.Execute(ctx, 'Q'); err == nil {
		t.Error("unbound key accepted")
	}
	if err := op.Execute(ctx, '?'); err != nil || !strings.Contains(out.String(), "run test") {
		t.Errorf("help: %v\n%s", err, out.String())
	}
	out.Reset()
	if err := op.Execute(ctx, '*'); err != nil || !strings.Contains(out.String(), "[DEBUG]") {
		t.Errorf("debug: %v\n%s", err, out.String())
	}
}

func TestHelpListsEachCommandOnce(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	var out bytes.Buffer
	op := NewOperator(s, &out)

	if err := op.Execute(context.Background(), 'H'); err != nil {
		t.Fatalf("help: %v", err)
	}
	want := "commands:\n" +
		"  *  debug readout\n" +
		"  A  run test\n" +
		"  B  calibrate thrust\n" +
		"  C  calibrate torque\n" +
		"  D  zero voltage and current\n" +
		"  H  help\n" +
		"  Z  tare both load cells and zero analog\n"
	if got := out.String(); got != want {
		t.Errorf("help output:\n%s\nwant:\n%s", got, want)
	}
}

func TestPressLowercases(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	op := NewOperator(s, &bytes.Buffer{})
	op.Press("web", 'b')
	k, err := op.next(context.Background())
	if err != nil || k != 'B' {
		t.Errorf("next = %q, %v", k, err)
	}
}

func TestRunTestCommand(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestStand(t, cfg)
	var out bytes.Buffer
	op := NewOperator(s, &out)

	if err := op.Execute(context.Background(), 'A'); err != nil {
		t.Fatalf("run test: %v", err)
	}
	if !strings.Contains(out.String(), "test 1 complete") {
		t.Errorf("output:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(cfg.LogDir, "TEST001.CSV")); err != nil {
		t.Error(err)
	}
}

func TestRunTestOverwritePrompt(t *testing.T) {
	cfg := testConfig(t)
	cfg.TestNumber = 4
	s, _ := newTestStand(t, cfg)
	os.MkdirAll(cfg.LogDir, 0o755)
	path := filepath.Join(cfg.LogDir, "TEST004.CSV")
	os.WriteFile(path, []byte("old"), 0o644)

	var out bytes.Buffer
	op := NewOperator(s, &out)
	pressAll(op, "*")
	if err := op.Execute(context.Background(), 'A'); err == nil {
		t.Fatal("declined overwrite still ran")
	}
	if data, _ := os.ReadFile(path); string(data) != "old" {
		t.Error("existing log was modified")
	}

	pressAll(op, "#")
	if err := op.Execute(context.Background(), 'A'); err != nil {
		t.Fatalf("confirmed overwrite: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) == "old" {
		t.Error("existing log was not overwritten")
	}
}

func TestKeyDuringSessionIsEmergencyStop(t *testing.T) {
	cfg := testConfig(t)
	s, clk := newTestStand(t, cfg)
	op := NewOperator(s, &bytes.Buffer{})

	start := clk.Now()
	clk.OnSleep(func(now time.Time) {
		if now.Sub(start) >= time.Second {
			op.Press("keypad", '5')
		}
	})
	res, err := s.RunSession(context.Background(), 1, cfg.ThrottleProfile(), nil)
	if err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if res.Outcome != sequencer.OutcomeEmergencyStop || res.StopSource != "keypad" {
		t.Errorf("outcome %s source %q", res.Outcome, res.StopSource)
	}
	if res.Last.Throttle != 0 {
		t.Errorf("throttle after stop = %v", res.Last.Throttle)
	}
	select {
	case k := <-op.keys:
		t.Errorf("key %q queued as a command during the session", k)
	default:
	}
}

func TestEmergencyStopIdleIsNoop(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestStand(t, cfg)
	op := NewOperator(s, &bytes.Buffer{})
	op.EmergencyStop("mqtt")

	res, err := s.RunSession(context.Background(), 1, cfg.ThrottleProfile(), nil)
	if err != nil || res.Outcome != sequencer.OutcomeComplete {
		t.Errorf("outcome %s err %v, want complete", res.Outcome, err)
	}
}

func TestCalibrateOnSimulatedRig(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	op := NewOperator(s, &bytes.Buffer{})
	pressAll(op, "#1000#")

	res, err := op.calibrate(context.Background(), calibration.Thrust)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if math.Abs(res.Scale-(-2.5)) > 0.125 {
		t.Errorf("scale = %.4f, want about -2.5", res.Scale)
	}
	if got := s.cal.Calibration(calibration.Thrust).Scale; got != res.Scale {
		t.Errorf("manager scale %v, result %v", got, res.Scale)
	}
	cals, err := s.Catalog().Calibrations(context.Background(), 5)
	if err != nil || len(cals) != 1 || cals[0].Channel != "thrust" {
		t.Errorf("catalog calibrations = %+v, %v", cals, err)
	}

	// the reference load is removed again
	r, _ := s.Debug()
	if v := r.Channels[0].Value; math.Abs(v) > 200 {
		t.Errorf("thrust after calibration reads %.1f mN unloaded", v)
	}
}

func TestCalibrateCanceled(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	op := NewOperator(s, &bytes.Buffer{})

	pressAll(op, "*")
	if _, err := op.calibrate(context.Background(), calibration.Torque); !errors.Is(err, calibration.ErrCalibrationCanceled) {
		t.Errorf("declined tare err = %v", err)
	}
	pressAll(op, "##")
	if _, err := op.calibrate(context.Background(), calibration.Torque); !errors.Is(err, calibration.ErrCalibrationCanceled) {
		t.Errorf("zero load err = %v", err)
	}
	if got := s.cal.Calibration(calibration.Torque).Scale; got != 1 {
		t.Errorf("scale changed to %v", got)
	}
}

func TestZeroAll(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	var out bytes.Buffer
	op := NewOperator(s, &out)
	pressAll(op, "#")
	if err := op.zeroAll(context.Background()); err != nil {
		t.Fatalf("zeroAll: %v", err)
	}
	if !strings.Contains(out.String(), "load cells tared") || !strings.Contains(out.String(), "current offset") {
		t.Errorf("output:\n%s", out.String())
	}
	// the simulated current sensor reads a bias at rest
	if off := s.cal.Offset(calibration.Current); off <= 0 {
		t.Errorf("current offset = %v", off)
	}
}
