// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build !linux

package safety

import (
	"errors"
	"time"
)

var errNoDevice = errors.New("watchdog: hardware watchdog requires linux")

// Device is unavailable off Linux; every call fails.
type Device struct{ path string }

func NewDevice(path string) *Device { return &Device{path: path} }

func (d *Device) Arm(time.Duration) error { return errNoDevice }
func (d *Device) Pet() error              { return errNoDevice }
func (d *Device) Disarm() error           { return nil }
