// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/thrust_stand/internal/calibration"
	"github.com/relabs-tech/thrust_stand/internal/datalog"
)

// ErrEntryCanceled is returned when the operator presses * during entry.
var ErrEntryCanceled = errors.New("entry canceled")

// Command is one operator action bound to a key.
type Command struct {
	Key  byte
	Name string
	Run  func(ctx context.Context, o *Operator) error
}

var (
	RunTestCommand = &Command{
		Key:  'A',
		Name: "run test",
		Run:  func(ctx context.Context, o *Operator) error { return o.runTest(ctx) },
	}
	CalibrateThrustCommand = &Command{
		Key:  'B',
		Name: "calibrate thrust",
		Run: func(ctx context.Context, o *Operator) error {
			_, err := o.calibrate(ctx, calibration.Thrust)
			return err
		},
	}
	CalibrateTorqueCommand = &Command{
		Key:  'C',
		Name: "calibrate torque",
		Run: func(ctx context.Context, o *Operator) error {
			_, err := o.calibrate(ctx, calibration.Torque)
			return err
		},
	}
	ZeroAnalogCommand = &Command{
		Key:  'D',
		Name: "zero voltage and current",
		Run:  func(ctx context.Context, o *Operator) error { return o.zeroAnalog() },
	}
	ZeroAllCommand = &Command{
		Key:  'Z',
		Name: "tare both load cells and zero analog",
		Run:  func(ctx context.Context, o *Operator) error { return o.zeroAll(ctx) },
	}
	DebugCommand = &Command{
		Key:  '*',
		Name: "debug readout",
		Run:  func(ctx context.Context, o *Operator) error { return o.debug() },
	}
	HelpCommand = &Command{
		Key:  'H',
		Name: "help",
		Run: func(ctx context.Context, o *Operator) error {
			o.help()
			return nil
		},
	}
)

var commands = []*Command{
	RunTestCommand,
	CalibrateThrustCommand,
	CalibrateTorqueCommand,
	ZeroAnalogCommand,
	ZeroAllCommand,
	DebugCommand,
	HelpCommand,
}

// Operator turns key presses from every input (stdin, keypad, MQTT, web)
// into stand actions. While a session runs any key is an emergency stop.
type Operator struct {
	stand   *Stand
	out     io.Writer
	keys    chan byte
	cmdMap  map[byte]*Command
	prompts func(string)
}

func NewOperator(s *Stand, out io.Writer) *Operator {
	o := &Operator{
		stand:  s,
		out:    out,
		keys:   make(chan byte, 32),
		cmdMap: map[byte]*Command{},
	}
	for _, cmd := range commands {
		o.cmdMap[cmd.Key] = cmd
	}
	o.cmdMap['?'] = HelpCommand
	return o
}

// OnPrompt registers a function receiving every prompt line.
func (o *Operator) OnPrompt(fn func(string)) { o.prompts = fn }

// Press delivers one key from source.
func (o *Operator) Press(source string, key byte) {
	if o.stand.Running() {
		o.stand.EmergencyStop(source)
		return
	}
	if key >= 'a' && key <= 'z' {
		key -= 'a' - 'A'
	}
	select {
	case o.keys <- key:
	default:
		log.Printf("operator: key %q from %s dropped", key, source)
	}
}

// EmergencyStop stops a running session from source. It is a no-op when idle.
func (o *Operator) EmergencyStop(source string) {
	if o.stand.Running() {
		o.stand.EmergencyStop(source)
	}
}

// Run dispatches keys to commands until ctx is done.
func (o *Operator) Run(ctx context.Context) error {
	o.help()
	for {
		key, err := o.next(ctx)
		if err != nil {
			return nil
		}
		if err := o.Execute(ctx, key); err != nil {
			o.say("error: %v", err)
		}
		o.drain()
	}
}

// Execute runs the command bound to key.
func (o *Operator) Execute(ctx context.Context, key byte) error {
	cmd, ok := o.cmdMap[key]
	if !ok {
		if key == '#' || key == '\n' || key == '\r' || key == ' ' {
			return nil
		}
		return fmt.Errorf("no command on key %q (H for help)", key)
	}
	log.Printf("operator: %s", cmd.Name)
	return cmd.Run(ctx, o)
}

func (o *Operator) next(ctx context.Context) (byte, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case k := <-o.keys:
		return k, nil
	}
}

// drain discards keys typed while a command was busy.
func (o *Operator) drain() {
	for {
		select {
		case <-o.keys:
		default:
			return
		}
	}
}

func (o *Operator) say(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(o.out, msg)
	if o.prompts != nil {
		o.prompts(msg)
	}
}

func (o *Operator) help() {
	keys := make([]int, 0, len(o.cmdMap))
	for k, c := range o.cmdMap {
		if k != c.Key {
			continue // alias
		}
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "  %c  %s\n", k, o.cmdMap[byte(k)].Name)
	}
	fmt.Fprint(o.out, "commands:\n"+b.String())
}

// confirm waits for # (yes) or * (no).
func (o *Operator) confirm(ctx context.Context, prompt string) (bool, error) {
	o.say("%s  [# yes, * no]", prompt)
	for {
		k, err := o.next(ctx)
		if err != nil {
			return false, err
		}
		switch k {
		case '#':
			return true, nil
		case '*':
			return false, nil
		}
	}
}

// readNumber collects digits until #. * cancels, an empty entry is 0.
func (o *Operator) readNumber(ctx context.Context, prompt string) (float64, error) {
	o.say("%s  [digits then #, * cancels]", prompt)
	var entry []byte
	for {
		k, err := o.next(ctx)
		if err != nil {
			return 0, err
		}
		switch {
		case k == '*':
			return 0, ErrEntryCanceled
		case k == '#':
			if len(entry) == 0 {
				return 0, nil
			}
			v, err := strconv.ParseFloat(string(entry), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q", entry)
			}
			return v, nil
		case k >= '0' && k <= '9', k == '.', k == '-' && len(entry) == 0:
			entry = append(entry, k)
		}
	}
}

func (o *Operator) runTest(ctx context.Context) error {
	s := o.stand
	number, err := s.NextNumber(ctx)
	if err != nil {
		return err
	}
	profile, err := s.cfg.SelectProfile()
	if err != nil {
		return err
	}

	decision := datalog.Cancel
	exists, err := s.logger.Exists(number)
	if err != nil {
		return err
	}
	if exists {
		ok, err := o.confirm(ctx, fmt.Sprintf("%s exists, overwrite?", s.logger.FileName(number)))
		if err != nil {
			return err
		}
		if ok {
			decision = datalog.Overwrite
		}
	}

	o.say("test %d: %s profile, %.0fs ramp %.0fs hold to %.0f%%, any key stops",
		number, profile.Name, profile.RampSeconds, profile.HoldSeconds, profile.MaxThrottle)
	res, err := s.RunSession(ctx, number, profile, func(string) datalog.Decision { return decision })
	if err != nil {
		return err
	}
	o.say("test %d %s: %s rows in %v, %s",
		res.Number, res.Outcome, humanize.Comma(int64(res.Rows)), res.Duration.Round(10*time.Millisecond), res.File)
	if res.StopSource != "" {
		o.say("stopped by %s", res.StopSource)
	}
	return nil
}

func (o *Operator) calibrate(ctx context.Context, ch calibration.Channel) (calibration.Result, error) {
	s := o.stand
	gate, err := s.cal.Calibrate(ch)
	if err != nil {
		return calibration.Result{}, err
	}
	ok, err := o.confirm(ctx, fmt.Sprintf("remove all load from the %s cell, then confirm to tare", ch))
	if err != nil || !ok {
		gate.Cancel()
		if err == nil {
			err = calibration.ErrCalibrationCanceled
		}
		return calibration.Result{}, err
	}
	if err := gate.LoadRemoved(); err != nil {
		return calibration.Result{}, err
	}

	unit := s.cal.Calibration(ch).Unit
	load, err := o.readNumber(ctx, fmt.Sprintf("place a known %s load and enter it in %s (0 cancels)", ch, unit))
	if err != nil {
		gate.Cancel()
		return calibration.Result{}, err
	}
	if s.dev.Reference != nil && load != 0 {
		s.dev.Reference(ch, load)
		defer s.dev.Reference(ch, -load)
	}
	res, err := gate.Apply(load)
	if err != nil {
		return calibration.Result{}, err
	}
	s.recordCalibration(ctx, res)
	o.say("%s scale %.4f counts/%s, spread %.2f%% over %d samples", ch, res.Scale, unit, res.DeviationPercent, res.Samples)
	return res, nil
}

func (o *Operator) zeroAnalog() error {
	for _, ch := range []calibration.Channel{calibration.Voltage, calibration.Current} {
		off, err := o.stand.ZeroAnalog(ch)
		if err != nil {
			return err
		}
		o.say("%s offset %.4f %s", ch, off, o.stand.cal.Calibration(ch).Unit)
	}
	return nil
}

func (o *Operator) zeroAll(ctx context.Context) error {
	ok, err := o.confirm(ctx, "remove all load from both cells, then confirm to tare")
	if err != nil {
		return err
	}
	if !ok {
		return calibration.ErrCalibrationCanceled
	}
	for _, ch := range []calibration.Channel{calibration.Thrust, calibration.Torque} {
		gate, err := o.stand.cal.Tare(ch)
		if err != nil {
			return err
		}
		if err := gate.LoadRemoved(); err != nil {
			return err
		}
	}
	o.say("load cells tared")
	return o.zeroAnalog()
}

func (o *Operator) debug() error {
	r, err := o.stand.Debug()
	if err != nil {
		return err
	}
	fmt.Fprint(o.out, r.String())
	return nil
}
