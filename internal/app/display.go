// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/thrust_stand/internal/config"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
	maxLineChars  = displayWidth / 7
)

// runDisplay refreshes the SSD1306 readout from live until ctx is done. The
// display reads the hub on its own ticker and never slows the control loop.
func runDisplay(ctx context.Context, cfg *config.Config, live *Live) error {
	if _, err := host.Init(); err != nil {
		log.Printf("display: disabled, periph init: %v", err)
		return nil
	}
	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		log.Printf("display: disabled, I2C bus %q: %v", cfg.DisplayI2CBus, err)
		return nil
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		log.Printf("display: disabled: %v", err)
		return nil
	}
	defer dev.Halt()
	log.Printf("display: initialized on bus %s", cfg.DisplayI2CBus)

	if err := dev.Draw(dev.Bounds(), renderLines([]string{"", " Thrust stand", "   ready"}), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := time.NewTicker(cfg.DisplayInterval())
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		snap, have := live.Latest()
		img := renderLines(readoutLines(snap, have, live.CurrentPrompt()))
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			if !failing {
				log.Printf("display: error updating: %v", err)
			}
			failing = true
			continue
		}
		failing = false
	}
}

// readoutLines lays out a snapshot on five 7x13 text lines.
func readoutLines(s telemetry.Snapshot, have bool, prompt string) []string {
	if !have {
		return []string{"Thrust stand", "Waiting...", "", "", clip(prompt)}
	}
	rpm := "stop"
	if s.RPM >= 0 {
		rpm = fmt.Sprintf("%d", s.RPM)
	}
	state := s.State
	if state == "" {
		state = "-"
	}
	return []string{
		clip(fmt.Sprintf("%-8s %5.1f%%", state, s.Throttle)),
		clip(fmt.Sprintf("RPM %s", rpm)),
		clip(fmt.Sprintf("T %7.0fmN", s.Thrust)),
		clip(fmt.Sprintf("Q %6.1fNmm", s.Torque)),
		clip(fmt.Sprintf("%5.2fV %5.2fA", s.Voltage, s.Current)),
	}
}

func clip(s string) string {
	if len(s) > maxLineChars {
		return s[:maxLineChars]
	}
	return s
}

// renderLines draws up to five lines of text into a display frame.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		baseline := 11 + i*lineHeight
		if baseline > displayHeight {
			break
		}
		drawer.Dot = fixed.P(0, baseline)
		drawer.DrawString(line)
	}
	return img
}
