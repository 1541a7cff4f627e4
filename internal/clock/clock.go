// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package clock abstracts wall time so the control loop can be driven by a
// manual clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the engine.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time        { return time.Now() }
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a manually driven clock. Sleep advances the fake time instead of
// blocking, then runs the optional sleep hook.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	onSleep func(now time.Time)
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(d time.Duration) {
	now := f.Advance(d)

	f.mu.Lock()
	hook := f.onSleep
	f.mu.Unlock()
	if hook != nil {
		hook(now)
	}
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	return f.now
}

// OnSleep registers a hook called after every Sleep with the new time.
func (f *Fake) OnSleep(fn func(now time.Time)) {
	f.mu.Lock()
	f.onSleep = fn
	f.mu.Unlock()
}

// Timebase converts a clock into a free-running microsecond counter starting
// at zero. It is 64 bits wide and does not wrap in practice.
type Timebase struct {
	clk   Clock
	epoch time.Time
}

// NewTimebase starts a counter at zero on clk's current time.
func NewTimebase(clk Clock) *Timebase {
	return &Timebase{clk: clk, epoch: clk.Now()}
}

// Micros returns the counter value.
func (t *Timebase) Micros() uint64 {
	return uint64(t.clk.Now().Sub(t.epoch).Microseconds())
}
