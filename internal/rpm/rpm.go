// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package rpm turns rotation-marker edge timestamps into shaft speed.
package rpm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// Stopped is returned when the shaft is not turning or no period is known.
	Stopped = -1

	// StaleThreshold is the longest edge gap still treated as rotation.
	StaleThreshold = 5 * time.Second

	staleMicros     = uint32(StaleThreshold / time.Microsecond)
	microsPerMinute = 60_000_000
)

// EdgeRegister holds the two most recent edge timestamps in microseconds.
//
// The low 32 bits of both values live in a single 64-bit word (previous in the
// high half, current in the low half) so a reader always gets a consistent
// pair with one atomic load. The full timestamp of the current edge is kept
// beside it for the staleness test, which must survive the 32-bit counter
// wrapping. Record must only be called from one goroutine.
type EdgeRegister struct {
	pair  atomic.Uint64
	last  atomic.Uint64
	edges atomic.Uint32
}

// Record shifts current into previous and stores ts as the new current edge.
func (r *EdgeRegister) Record(ts uint64) {
	// last first, so a reader seeing the new pair also sees its timestamp
	r.last.Store(ts)
	old := r.pair.Load()
	r.pair.Store(old<<32 | uint64(uint32(ts)))
	// counted after the store so a reader never sees two edges with a stale pair
	if r.edges.Load() < 2 {
		r.edges.Add(1)
	}
}

// Snapshot returns previous and current timestamps (low 32 bits) and how many
// edges (capped at 2) have been recorded.
func (r *EdgeRegister) Snapshot() (previous, current uint32, edges uint32) {
	n := r.edges.Load()
	v := r.pair.Load()
	return uint32(v >> 32), uint32(v), n
}

// LastEdge returns the full timestamp of the most recent edge.
func (r *EdgeRegister) LastEdge() uint64 { return r.last.Load() }

// Capture computes RPM from an EdgeRegister.
type Capture struct {
	reg    *EdgeRegister
	ppr    uint64
	micros func() uint64
}

// NewCapture returns a Capture reading reg. pulsesPerRev below 1 is raised to 1.
// micros must use the same timebase as the edge timestamps.
func NewCapture(reg *EdgeRegister, pulsesPerRev int, micros func() uint64) *Capture {
	if pulsesPerRev < 1 {
		pulsesPerRev = 1
	}
	return &Capture{reg: reg, ppr: uint64(pulsesPerRev), micros: micros}
}

// PulsesPerRev returns the marker count used for conversion.
func (c *Capture) PulsesPerRev() int { return int(c.ppr) }

// Sample returns the current RPM or Stopped.
func (c *Capture) Sample() int {
	previous, current, edges := c.reg.Snapshot()
	if edges < 2 {
		return Stopped
	}
	last := c.reg.LastEdge()
	if now := c.micros(); now > last && now-last > uint64(staleMicros) {
		return Stopped
	}

	period := current - previous
	if period == 0 || period > staleMicros {
		return Stopped
	}
	return int(microsPerMinute / (uint64(period) * c.ppr))
}

// EdgeWaiter is the part of a GPIO input pin the watcher needs.
// periph's gpio.PinIn satisfies it once configured for edge detection.
type EdgeWaiter interface {
	WaitForEdge(timeout time.Duration) bool
}

// Watch records a timestamp for every edge reported by pin until ctx is done.
// It is the only writer of reg.
func Watch(ctx context.Context, pin EdgeWaiter, reg *EdgeRegister, micros func() uint64) error {
	if pin == nil {
		return fmt.Errorf("rpm: no edge source")
	}
	for ctx.Err() == nil {
		if pin.WaitForEdge(100 * time.Millisecond) {
			reg.Record(micros())
		}
	}
	return nil
}
