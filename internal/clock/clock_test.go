// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package clock

import (
	"testing"
	"time"
)

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var hooked time.Time
	f.OnSleep(func(now time.Time) { hooked = now })

	f.Sleep(250 * time.Millisecond)
	if got := f.Now().Sub(start); got != 250*time.Millisecond {
		t.Fatalf("elapsed = %v, want 250ms", got)
	}
	if !hooked.Equal(f.Now()) {
		t.Errorf("hook saw %v, want %v", hooked, f.Now())
	}

	f.Advance(-time.Second)
	if got := f.Now().Sub(start); got != 250*time.Millisecond {
		t.Errorf("negative advance moved clock to %v", got)
	}
}

func TestTimebasePastThirtyTwoBits(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tb := NewTimebase(f)

	f.Advance(1500 * time.Microsecond)
	if got := tb.Micros(); got != 1500 {
		t.Fatalf("Micros = %d, want 1500", got)
	}

	// a 32-bit counter would be back at 1500 here
	f.Advance(time.Duration(1<<32) * time.Microsecond)
	if got := tb.Micros(); got != 1<<32+1500 {
		t.Errorf("Micros after 2^32 us = %d, want %d", got, uint64(1<<32+1500))
	}
}
