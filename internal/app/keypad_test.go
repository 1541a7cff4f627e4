// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestConsoleKeys(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"", "#"},
		{"  ", "#"},
		{"a", "a"},
		{"1000", "1000#"},
		{"12.5", "12.5#"},
		{"12#", "12#"},
		{"*", "*"},
		{" B ", "B"},
	}
	for _, tt := range tests {
		if got := string(consoleKeys(tt.line)); got != tt.want {
			t.Errorf("consoleKeys(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestReadKeysSkipsWhitespace(t *testing.T) {
	var got []byte
	err := readKeys(bufio.NewReader(strings.NewReader("A\r\n12 #\t*")), "keypad", func(src string, k byte) {
		if src != "keypad" {
			t.Errorf("source %q", src)
		}
		got = append(got, k)
	})
	if err != nil {
		t.Fatalf("readKeys: %v", err)
	}
	if string(got) != "A12#*" {
		t.Errorf("keys %q", got)
	}
}

func TestReadConsole(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	op := NewOperator(s, &bytes.Buffer{})
	readConsole(strings.NewReader("\n250\n"), op)

	if ok, err := op.confirm(context.Background(), "tare"); !ok || err != nil {
		t.Fatalf("empty line did not confirm: %v %v", ok, err)
	}
	if v, err := op.readNumber(context.Background(), "load"); v != 250 || err != nil {
		t.Errorf("readNumber = %v, %v", v, err)
	}
}

func TestHandleCommandPayload(t *testing.T) {
	s, _ := newTestStand(t, testConfig(t))
	op := NewOperator(s, &bytes.Buffer{})

	handleCommandPayload(op, "mqtt", []byte("  "))
	handleCommandPayload(op, "mqtt", []byte("ESTOP"))
	handleCommandPayload(op, "mqtt", []byte("5"))
	handleCommandPayload(op, "mqtt", []byte("42"))
	op.drain()

	handleCommandPayload(op, "mqtt", []byte("7"))
	if k, _ := op.next(context.Background()); k != '7' {
		t.Errorf("single key payload gave %q", k)
	}
	select {
	case k := <-op.keys:
		t.Errorf("single key payload queued extra key %q", k)
	default:
	}

	handleCommandPayload(op, "mqtt", []byte("42"))
	var got []byte
	for len(op.keys) > 0 {
		got = append(got, <-op.keys)
	}
	if string(got) != "42#" {
		t.Errorf("line payload gave %q", got)
	}
}
