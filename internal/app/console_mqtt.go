// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/thrust_stand/internal/config"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

// RunConsoleMQTT prints every snapshot and session published by a stand.
func RunConsoleMQTT(cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for the console")
	}
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-console")
	if err != nil {
		return err
	}

	if err := subscribe(client, cfg.TopicSnapshot, func(payload []byte) {
		var s telemetry.Snapshot
		if err := json.Unmarshal(payload, &s); err != nil {
			log.Printf("console: snapshot unmarshal error: %v", err)
			return
		}
		printSnapshot(os.Stdout, s)
	}); err != nil {
		return err
	}

	if err := subscribe(client, cfg.TopicSession, func(payload []byte) {
		var r sequencer.Result
		if err := json.Unmarshal(payload, &r); err != nil {
			log.Printf("console: session unmarshal error: %v", err)
			return
		}
		printSession(os.Stdout, r)
	}); err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printSnapshot(w io.Writer, s telemetry.Snapshot) {
	fmt.Fprintf(w,
		"[SNAP] t=%6.1fs %-9s thr=%5.1f%% rpm=%6d T=%8.1fmN Q=%7.2fNmm V=%6.2f I=%6.2f Pe=%7.1fW eff=%.3f/%.3f/%.3f\n",
		s.Time, s.State, s.Throttle, s.RPM, s.Thrust, s.Torque, s.Voltage, s.Current,
		s.ElectricPower, s.MotorEfficiency, s.PropellerEfficiency, s.SystemEfficiency,
	)
}

func printSession(w io.Writer, r sequencer.Result) {
	fmt.Fprintf(w, "[TEST] %d %s: %s rows, %s flushes, %v, file %s",
		r.Number, r.OutcomeName, humanize.Comma(int64(r.Rows)), humanize.Comma(int64(r.Flushes)), r.Duration, r.File)
	if r.StopSource != "" {
		fmt.Fprintf(w, ", stopped by %s", r.StopSource)
	}
	fmt.Fprintln(w)
}
