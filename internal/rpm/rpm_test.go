// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package rpm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type counter struct{ now uint64 }

func (c *counter) micros() uint64 { return c.now }

func TestSampleFromPeriod(t *testing.T) {
	tests := []struct {
		name   string
		prev   uint64
		cur    uint64
		now    uint64
		ppr    int
		expect int
	}{
		{"one marker", 1_000, 17_666, 20_000, 1, 3600},
		{"two markers", 1_000, 17_666, 20_000, 2, 1800},
		{"ppr clamped to one", 1_000, 17_666, 20_000, 0, 3600},
		{"wraparound", 0xFFFF_FF00, 1<<32 + 16_410, 1<<32 + 16_500, 1, 3600},
		{"zero period", 5_000, 5_000, 5_000, 1, Stopped},
		{"period at threshold", 0, 5_000_000, 5_000_000, 1, 12},
		{"period over threshold", 0, 5_000_001, 5_000_001, 1, Stopped},
		{"edge exactly threshold old", 1_000, 17_666, 5_017_666, 1, 3600},
		{"edge older than threshold", 1_000, 17_666, 5_017_667, 1, Stopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reg EdgeRegister
			reg.Record(tt.prev)
			reg.Record(tt.cur)

			c := &counter{now: tt.now}
			got := NewCapture(&reg, tt.ppr, c.micros).Sample()
			if got != tt.expect {
				t.Errorf("Sample() = %d, want %d", got, tt.expect)
			}
		})
	}
}

func TestSampleNeedsTwoEdges(t *testing.T) {
	var reg EdgeRegister
	c := &counter{}
	capture := NewCapture(&reg, 1, c.micros)

	if got := capture.Sample(); got != Stopped {
		t.Fatalf("no edges: got %d", got)
	}
	reg.Record(100)
	c.now = 200
	if got := capture.Sample(); got != Stopped {
		t.Fatalf("one edge: got %d", got)
	}
	reg.Record(16_766)
	c.now = 16_800
	if got := capture.Sample(); got != 3600 {
		t.Fatalf("two edges: got %d, want 3600", got)
	}
}

func TestStoppedAfterSilenceRegardlessOfHistory(t *testing.T) {
	var reg EdgeRegister
	c := &counter{}
	capture := NewCapture(&reg, 1, c.micros)

	for ts := uint64(0); ts < 1_000_000; ts += 10_000 {
		reg.Record(ts)
	}
	c.now = 990_000
	if got := capture.Sample(); got != 6000 {
		t.Fatalf("spinning: got %d, want 6000", got)
	}

	c.now = 990_000 + 5_000_001
	if got := capture.Sample(); got != Stopped {
		t.Errorf("after 5s silence: got %d, want %d", got, Stopped)
	}
}

func TestStoppedWhenSilentForAFullLowWordCycle(t *testing.T) {
	var reg EdgeRegister
	reg.Record(1_000)
	reg.Record(17_666)

	// the low 32 bits of now land just after the last edge
	c := &counter{now: 1<<32 + 17_676}
	if got := NewCapture(&reg, 1, c.micros).Sample(); got != Stopped {
		t.Errorf("Sample() = %d, want %d", got, Stopped)
	}
}

func TestRecordShiftsPair(t *testing.T) {
	var reg EdgeRegister
	reg.Record(1)
	reg.Record(2)
	reg.Record(3)

	prev, cur, n := reg.Snapshot()
	if prev != 2 || cur != 3 || n != 2 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (2, 3, 2)", prev, cur, n)
	}
	if got := reg.LastEdge(); got != 3 {
		t.Errorf("LastEdge() = %d, want 3", got)
	}
}

type pulsePin struct {
	remaining atomic.Int32
}

func (p *pulsePin) WaitForEdge(timeout time.Duration) bool {
	if p.remaining.Load() <= 0 {
		time.Sleep(time.Millisecond)
		return false
	}
	p.remaining.Add(-1)
	return true
}

func TestWatchRecordsEdges(t *testing.T) {
	pin := &pulsePin{}
	pin.remaining.Store(3)

	var reg EdgeRegister
	var ts atomic.Uint64
	micros := func() uint64 { return ts.Add(10_000) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, pin, &reg, micros) }()

	deadline := time.Now().Add(2 * time.Second)
	for pin.remaining.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}

	prev, cur, n := reg.Snapshot()
	if n != 2 || prev != 20_000 || cur != 30_000 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (20000, 30000, 2)", prev, cur, n)
	}
}
