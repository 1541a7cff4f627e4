// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build linux

package safety

import (
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Device is the Linux kernel watchdog (/dev/watchdog). Once armed, the board
// reboots if no keepalive arrives within the timeout.
type Device struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewDevice returns a watchdog for the device node at path.
func NewDevice(path string) *Device {
	return &Device{path: path}
}

func (d *Device) Arm(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		return fmt.Errorf("watchdog: %s already armed", d.path)
	}

	f, err := os.OpenFile(d.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("watchdog: open %s: %w", d.path, err)
	}
	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.WDIOC_SETTIMEOUT, secs); err != nil {
		// the device is running now; close with the magic byte so it stops
		f.Write([]byte("V"))
		f.Close()
		return fmt.Errorf("watchdog: set timeout %ds: %w", secs, err)
	}
	d.f = f
	log.Printf("safety: %s armed (%ds)", d.path, secs)
	return nil
}

func (d *Device) Pet() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return fmt.Errorf("watchdog: %s not armed", d.path)
	}
	if err := unix.IoctlWatchdogKeepalive(int(d.f.Fd())); err != nil {
		return fmt.Errorf("watchdog: keepalive: %w", err)
	}
	return nil
}

// Disarm writes the magic close character and releases the device.
func (d *Device) Disarm() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	f := d.f
	d.f = nil
	if _, err := f.Write([]byte("V")); err != nil {
		f.Close()
		return fmt.Errorf("watchdog: magic close: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("watchdog: close: %w", err)
	}
	log.Printf("safety: %s disarmed", d.path)
	return nil
}
