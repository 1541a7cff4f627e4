// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/acquisition"
	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/sensors"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
)

// ChannelReading is one channel in a debug readout.
type ChannelReading struct {
	Name   string  `json:"name"`
	Raw    float64 `json:"raw"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Offset float64 `json:"offset"`
	Scale  float64 `json:"scale"`
	Error  string  `json:"error,omitempty"`
}

// DebugReadout is every channel read once outside a session.
type DebugReadout struct {
	Timestamp time.Time        `json:"timestamp"`
	RPM       int              `json:"rpm"`
	Edges     uint32           `json:"edges"`
	Ready     bool             `json:"calibrated"`
	Channels  []ChannelReading `json:"channels"`
}

func (r DebugReadout) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[DEBUG] %s  rpm=%d edges=%d calibrated=%v\n", r.Timestamp.Format("15:04:05"), r.RPM, r.Edges, r.Ready)
	for _, c := range r.Channels {
		if c.Error != "" {
			fmt.Fprintf(&b, "  %-8s error: %s\n", c.Name, c.Error)
			continue
		}
		fmt.Fprintf(&b, "  %-8s raw=%12.1f  value=%10.3f %-4s offset=%.3f scale=%.4f\n",
			c.Name, c.Raw, c.Value, c.Unit, c.Offset, c.Scale)
	}
	return b.String()
}

// Debug reads every channel once with the motor idle.
func (s *Stand) Debug() (DebugReadout, error) {
	if s.Running() {
		return DebugReadout{}, sequencer.ErrSessionActive
	}
	s.acqMu.Lock()
	defer s.acqMu.Unlock()

	_, _, edges := s.edges.Snapshot()
	r := DebugReadout{
		Timestamp: s.clk.Now(),
		RPM:       s.capture.Sample(),
		Edges:     edges,
		Ready:     s.cal.Ready() == nil,
	}

	cells := []struct {
		ch   calibration.Channel
		cell sensors.LoadCell
	}{
		{calibration.Thrust, s.dev.Thrust},
		{calibration.Torque, s.dev.Torque},
	}
	for _, c := range cells {
		cal := s.cal.Calibration(c.ch)
		cr := ChannelReading{Name: c.ch.String(), Unit: cal.Unit, Offset: c.cell.Offset(), Scale: c.cell.Scale()}
		if raw, err := c.cell.RawValue(); err != nil {
			cr.Error = err.Error()
		} else {
			cr.Raw = float64(raw)
			cr.Value = (cr.Raw - cr.Offset) / cr.Scale
		}
		r.Channels = append(r.Channels, cr)
	}

	analogs := []struct {
		ch  calibration.Channel
		src sensors.Analog
	}{
		{calibration.Voltage, s.dev.Voltage},
		{calibration.Current, s.dev.Current},
	}
	for _, a := range analogs {
		cal := s.cal.Calibration(a.ch)
		cr := ChannelReading{Name: a.ch.String(), Unit: cal.Unit, Offset: cal.Offset, Scale: 1}
		raw, err := sensors.Average(a.src, s.acq.Config().Samples)
		if err == nil {
			var v float64
			v, err = s.acq.Volts(a.ch)
			cr.Raw = raw
			cr.Value = v - cal.Offset
		}
		if err != nil {
			cr.Error = err.Error()
		}
		r.Channels = append(r.Channels, cr)
	}

	if s.dev.Airspeed != nil {
		cr := ChannelReading{Name: "airspeed", Unit: "m/s", Scale: 1}
		if raw, err := sensors.Average(s.dev.Airspeed, s.acq.Config().Samples); err != nil {
			cr.Error = err.Error()
		} else {
			cfg := s.acq.Config()
			cr.Raw = raw
			cr.Value = acquisition.Airspeed(raw*cfg.AirspeedVoltsPerCount, cfg.AirspeedZeroVoltage, cfg.AirspeedSensitivity, cfg.AirDensity)
		}
		r.Channels = append(r.Channels, cr)
	}
	return r, nil
}

// handleDebug serves a one-shot readout of every channel.
func (s *Stand) handleDebug(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	readout, err := s.Debug()
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(readout)
}
