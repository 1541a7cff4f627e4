// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package safety provides the two independent guards of a running test: a
// watchdog that resets the machine when the control loop hangs, and an
// operator emergency stop.
package safety

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchdogTimeout is armed at session start.
const DefaultWatchdogTimeout = 2 * time.Second

// Watchdog must be petted at least once per timeout while armed.
type Watchdog interface {
	Arm(timeout time.Duration) error
	Pet() error
	Disarm() error
}

// Soft is an in-process watchdog for hosts without a hardware timer. When a
// pet is missed it calls the expire function, which should force the motor
// idle and terminate the process.
type Soft struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	expire  func()
}

// NewSoft returns a software watchdog calling expire on timeout.
func NewSoft(expire func()) *Soft {
	return &Soft{expire: expire}
}

func (s *Soft) Arm(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("watchdog: invalid timeout %v", timeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timeout = timeout
	s.timer = time.AfterFunc(timeout, func() { s.fire(timeout) })
	return nil
}

func (s *Soft) fire(timeout time.Duration) {
	log.Printf("safety: software watchdog expired after %v", timeout)
	if s.expire != nil {
		s.expire()
	}
}

func (s *Soft) Pet() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return fmt.Errorf("watchdog: not armed")
	}
	s.timer.Reset(s.timeout)
	return nil
}

func (s *Soft) Disarm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return nil
}

// EStop is a latched emergency stop. Any goroutine may trip it; the control
// loop polls it.
type EStop struct {
	tripped atomic.Bool
	mu      sync.Mutex
	source  string
}

// Trigger trips the latch. Only the first source since the last Reset is kept.
func (e *EStop) Trigger(source string) {
	if !e.tripped.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	e.source = source
	e.mu.Unlock()
	log.Printf("safety: emergency stop from %s", source)
}

// Tripped reports whether the latch is set.
func (e *EStop) Tripped() bool { return e.tripped.Load() }

// Source returns who tripped the latch.
func (e *EStop) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// Reset clears the latch, discarding input seen before a session started.
func (e *EStop) Reset() {
	e.mu.Lock()
	e.source = ""
	e.mu.Unlock()
	e.tripped.Store(false)
}
