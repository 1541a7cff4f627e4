// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/thrust_stand/internal/app"
	"github.com/relabs-tech/thrust_stand/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	simulate := flag.Bool("sim", false, "Run against the simulated rig instead of hardware")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *simulate {
		cfg.Simulate = true
	}

	if err := app.RunStand(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
