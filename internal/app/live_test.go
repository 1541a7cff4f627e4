// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"testing"
	"time"

	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

func TestLiveFanOut(t *testing.T) {
	l := NewLive()
	if _, ok := l.Latest(); ok {
		t.Fatal("new hub has a snapshot")
	}

	a, stopA := l.Subscribe()
	b, stopB := l.Subscribe()
	defer stopB()

	l.Publish(telemetry.Snapshot{RPM: 1200})
	l.Prompt("enter load")
	l.Session(sequencer.Result{Number: 3})

	for _, ch := range []<-chan Event{a, b} {
		want := []string{"snapshot", "prompt", "session"}
		for _, typ := range want {
			select {
			case ev := <-ch:
				if ev.Type != typ {
					t.Errorf("event %s, want %s", ev.Type, typ)
				}
			case <-time.After(time.Second):
				t.Fatalf("no %s event", typ)
			}
		}
	}

	if s, ok := l.Latest(); !ok || s.RPM != 1200 {
		t.Errorf("latest = %+v", s)
	}
	if l.CurrentPrompt() != "enter load" || l.LastSession().Number != 3 {
		t.Errorf("prompt %q session %+v", l.CurrentPrompt(), l.LastSession())
	}

	stopA()
	stopA()
	if _, open := <-a; open {
		t.Error("channel open after unsubscribe")
	}
	l.Publish(telemetry.Snapshot{})
}

func TestLiveSlowSubscriberDoesNotBlock(t *testing.T) {
	l := NewLive()
	_, stop := l.Subscribe()
	defer stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			l.Publish(telemetry.Snapshot{RPM: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if s, _ := l.Latest(); s.RPM != 999 {
		t.Errorf("latest rpm %d", s.RPM)
	}
}
