// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/thrust_stand/internal/app"
	"github.com/relabs-tech/thrust_stand/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	channel := flag.String("channel", "thrust", "Channel to calibrate: thrust, torque, voltage or current")
	flag.Parse()

	fmt.Println("=== Guided Calibration ===")
	fmt.Printf("Prompts are answered on this console; a report is stored under ./%s/\n", app.ReportDir)
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	if err := app.RunCalibration(cfg, *channel); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
