// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/clock"
	"github.com/relabs-tech/thrust_stand/internal/config"
)

// ReportDir is where calibration reports are written.
const ReportDir = "calibration"

// CalibrationReport is the JSON record of one calibration run.
type CalibrationReport struct {
	SchemaVersion int                 `json:"schema_version"`
	CalibrationAt string              `json:"calibration_at"` // RFC3339
	Channel       string              `json:"channel"`
	Unit          string              `json:"unit"`
	Scale         *calibration.Result `json:"scale,omitempty"`
	Offset        *float64            `json:"offset,omitempty"`
	Notes         []string            `json:"notes,omitempty"`
}

// RunCalibration calibrates one channel interactively from stdin: a load cell
// gets a tare and a known-load scale, an analog channel gets its zero offset.
func RunCalibration(cfg *config.Config, channel string) error {
	ch, err := calibration.ParseChannel(channel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}
	dev, err := openDevices(cfg, clk)
	if err != nil {
		return err
	}
	stand := NewStand(cfg, clk, dev)
	defer func() {
		if err := stand.Close(); err != nil {
			log.Printf("calibration: close: %v", err)
		}
	}()

	op := NewOperator(stand, os.Stdout)
	go readConsole(os.Stdin, op)

	report, err := calibrateChannel(ctx, op, ch)
	if err != nil {
		return err
	}
	path, err := writeReport(ReportDir, report)
	if err != nil {
		return err
	}
	log.Printf("calibration: report written to %s", path)
	return nil
}

func calibrateChannel(ctx context.Context, op *Operator, ch calibration.Channel) (CalibrationReport, error) {
	report := CalibrationReport{
		SchemaVersion: 1,
		Channel:       ch.String(),
		Unit:          op.stand.cal.Calibration(ch).Unit,
	}
	if ch.IsLoadCell() {
		res, err := op.calibrate(ctx, ch)
		if err != nil {
			return report, err
		}
		report.CalibrationAt = res.Timestamp.UTC().Format(time.RFC3339)
		report.Scale = &res
		if res.DeviationPercent > 1 {
			report.Notes = append(report.Notes, fmt.Sprintf("spread %.2f%% is high, check the load was steady", res.DeviationPercent))
		}
		return report, nil
	}

	off, err := op.stand.ZeroAnalog(ch)
	if err != nil {
		return report, err
	}
	op.say("%s offset %.4f %s", ch, off, report.Unit)
	report.CalibrationAt = op.stand.clk.Now().UTC().Format(time.RFC3339)
	report.Offset = &off
	report.Notes = append(report.Notes, "analog offsets are not persisted, zero again after a restart")
	return report, nil
}

func writeReport(dir string, report CalibrationReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	ts := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("calibration_%s_%s.json", report.Channel, ts))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
