// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"sync"

	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

// Event is what live subscribers (websocket clients, the display) receive.
type Event struct {
	Type     string              `json:"type"` // snapshot, session, prompt
	Snapshot *telemetry.Snapshot `json:"snapshot,omitempty"`
	Session  *sequencer.Result   `json:"session,omitempty"`
	Message  string              `json:"message,omitempty"`
}

// Live holds the latest snapshot, session and operator prompt and fans every
// update out to subscribers. Slow subscribers miss events instead of
// blocking the publisher.
type Live struct {
	mu      sync.RWMutex
	snap    telemetry.Snapshot
	have    bool
	session *sequencer.Result
	prompt  string
	subs    map[chan Event]struct{}
}

func NewLive() *Live {
	return &Live{subs: make(map[chan Event]struct{})}
}

// Publish implements sequencer.Sink.
func (l *Live) Publish(s telemetry.Snapshot) {
	l.mu.Lock()
	l.snap = s
	l.have = true
	l.mu.Unlock()
	l.broadcast(Event{Type: "snapshot", Snapshot: &s})
}

// Session records a finished session.
func (l *Live) Session(r sequencer.Result) {
	l.mu.Lock()
	l.session = &r
	l.mu.Unlock()
	l.broadcast(Event{Type: "session", Session: &r})
}

// Prompt records the operator prompt currently shown.
func (l *Live) Prompt(msg string) {
	l.mu.Lock()
	l.prompt = msg
	l.mu.Unlock()
	l.broadcast(Event{Type: "prompt", Message: msg})
}

// Latest returns the most recent snapshot and whether there is one.
func (l *Live) Latest() (telemetry.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.have
}

// LastSession returns the most recent session result, or nil.
func (l *Live) LastSession() *sequencer.Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}

// CurrentPrompt returns the last operator prompt.
func (l *Live) CurrentPrompt() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prompt
}

// Subscribe returns a channel of events and a function that ends the
// subscription.
func (l *Live) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, ch)
			l.mu.Unlock()
			close(ch)
		})
	}
}

func (l *Live) broadcast(ev Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
