// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package datalog writes one CSV file per test session.
package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/thrust_stand/internal/clock"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

var (
	// ErrStorageUnavailable means the log file could not be created or written.
	ErrStorageUnavailable = errors.New("log storage unavailable")
	// ErrStorageCollision means a log with the session's name already exists.
	ErrStorageCollision = errors.New("log file already exists")
	// ErrSessionCanceled means the operator declined to overwrite an existing log.
	ErrSessionCanceled = errors.New("session canceled")
)

// Header is the fixed column row of every log.
var Header = []string{
	"Time (s)",
	"Current (A)",
	"Voltage (V)",
	"Torque(N.mm)",
	"Thrust(mN)",
	"RPM",
	"Airspeed(m/s)",
	"Throttle (%)",
	"Electrical Power (W)",
	"Mechanical Power (W)",
	"Propulsive Power (W)",
	"Motor Efficiency (%)",
	"Propeller Efficiency (%)",
	"System Efficiency (%)",
}

// FlushInterval bounds how much logged data an abrupt power loss can take.
const FlushInterval = 5 * time.Second

// Decision answers a file-name collision.
type Decision int

const (
	Cancel Decision = iota
	Overwrite
)

// CollisionFunc is asked what to do when name already exists.
type CollisionFunc func(name string) Decision

// FileName returns the 8.3 log name for a test number, e.g. TEST007.CSV.
// The prefix is shortened so the base name never exceeds eight characters.
func FileName(prefix string, number int) string {
	if number < 0 {
		number = -number
	}
	digits := fmt.Sprintf("%03d", number)
	if len(digits) > 8 {
		digits = digits[len(digits)-8:]
	}

	prefix = strings.ToUpper(sanitize(prefix))
	if room := 8 - len(digits); len(prefix) > room {
		prefix = prefix[:room]
	}
	return prefix + digits + ".CSV"
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Logger creates session logs in a directory.
type Logger struct {
	dir    string
	prefix string
	clk    clock.Clock
}

// New returns a Logger writing PREFIXnnn.CSV files into dir.
func New(dir, prefix string, clk clock.Clock) *Logger {
	return &Logger{dir: dir, prefix: prefix, clk: clk}
}

// FileName returns the log name used for a test number.
func (l *Logger) FileName(number int) string { return FileName(l.prefix, number) }

// Exists reports whether the log for number is already present.
func (l *Logger) Exists(number int) (bool, error) {
	_, err := os.Stat(filepath.Join(l.dir, l.FileName(number)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// Open starts the log for test number. When the file exists, decide chooses
// between overwriting it and canceling; a nil decide cancels. A canceled open
// leaves the existing file untouched.
func (l *Logger) Open(number int, decide CollisionFunc) (*Session, error) {
	name := l.FileName(number)
	path := filepath.Join(l.dir, name)

	exists, err := l.Exists(number)
	if err != nil {
		return nil, err
	}
	if exists {
		if decide == nil || decide(name) != Overwrite {
			log.Printf("datalog: %s exists, session canceled", name)
			return nil, fmt.Errorf("%w: %w: %s", ErrSessionCanceled, ErrStorageCollision, name)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("%w: removing %s: %v", ErrStorageUnavailable, name, err)
		}
		log.Printf("datalog: overwriting %s", name)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	now := l.clk.Now()
	s := &Session{
		ID:        number,
		Name:      name,
		Path:      path,
		StartTime: now,
		clk:       l.clk,
		file:      f,
		w:         csv.NewWriter(f),
		nextFlush: now.Add(FlushInterval),
	}
	if err := s.w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: writing header: %v", ErrStorageUnavailable, err)
	}
	log.Printf("datalog: opened %s", path)
	return s, nil
}

// Session is one open log file.
type Session struct {
	ID        int
	Name      string
	Path      string
	StartTime time.Time

	clk       clock.Clock
	file      *os.File
	w         *csv.Writer
	rows      int
	flushes   int
	nextFlush time.Time
	closed    bool
}

// Rows returns the number of data rows appended.
func (s *Session) Rows() int { return s.rows }

// Flushes returns the number of periodic flushes issued so far.
func (s *Session) Flushes() int { return s.flushes }

// Append writes one row and flushes when a FlushInterval boundary, counted
// from session start, has been crossed since the last flush.
func (s *Session) Append(snap telemetry.Snapshot) error {
	if s.closed {
		return fmt.Errorf("%w: %s is closed", ErrStorageUnavailable, s.Name)
	}
	if err := s.w.Write(Row(snap)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.rows++

	now := s.clk.Now()
	if now.Before(s.nextFlush) {
		return nil
	}
	for !now.Before(s.nextFlush) {
		s.nextFlush = s.nextFlush.Add(FlushInterval)
	}
	s.flushes++
	return s.flush()
}

func (s *Session) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.flush()
	var size int64
	if info, statErr := s.file.Stat(); statErr == nil {
		size = info.Size()
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("%w: %v", ErrStorageUnavailable, cerr)
	}
	log.Printf("datalog: closed %s (%s rows, %s)", s.Name, humanize.Comma(int64(s.rows)), humanize.Bytes(uint64(size)))
	return err
}

// Row formats a snapshot in Header order.
func Row(s telemetry.Snapshot) []string {
	return []string{
		f3(s.Time),
		f3(s.Current),
		f3(s.Voltage),
		f3(s.Torque),
		f3(s.Thrust),
		strconv.Itoa(s.RPM),
		f3(s.Airspeed),
		f3(s.Throttle),
		f3(s.ElectricPower),
		f3(s.MechanicalPower),
		f3(s.PropulsivePower),
		f3(s.MotorEfficiency),
		f3(s.PropellerEfficiency),
		f3(s.SystemEfficiency),
	}
}

func f3(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
