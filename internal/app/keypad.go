// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"
)

// runKeypad forwards key bytes from the keypad controller's serial link to
// the operator. A keypad that cannot be opened is logged and skipped.
func runKeypad(ctx context.Context, portName string, baud int, op *Operator) error {
	serialOpts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		log.Printf("keypad: disabled, cannot open %s: %v", portName, err)
		return nil
	}
	log.Printf("keypad: serial port opened on %s at %d baud", portName, baud)

	// closing the port unblocks the read below
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	err = readKeys(bufio.NewReader(port), "keypad", op.Press)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readKeys delivers every non-whitespace byte from r as a key.
func readKeys(r io.ByteReader, source string, press func(source string, key byte)) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			log.Printf("%s: read error: %v", source, err)
			return err
		}
		switch b {
		case '\r', '\n', ' ', '\t', 0:
			continue
		}
		press(source, b)
	}
}

// readConsole reads operator input line by line from a terminal. A line of
// digits is ended with # as if typed on the keypad, and an empty line
// confirms a prompt.
func readConsole(r io.Reader, op *Operator) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		for _, k := range consoleKeys(scanner.Text()) {
			op.Press("stdin", k)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("console: read error: %v", err)
	}
}

func consoleKeys(line string) []byte {
	line = strings.TrimSpace(line)
	if line == "" {
		return []byte{'#'}
	}
	keys := []byte(line)
	switch last := keys[len(keys)-1]; {
	case last == '#' || last == '*':
	case (last >= 'A' && last <= 'Z') || (last >= 'a' && last <= 'z'):
	default:
		keys = append(keys, '#')
	}
	return keys
}

// handleCommandPayload interprets a remote command: "estop" stops a running
// session, a single character is one key press, anything longer is entered
// like a console line.
func handleCommandPayload(op *Operator, source string, payload []byte) {
	cmd := strings.TrimSpace(string(payload))
	switch strings.ToLower(cmd) {
	case "":
		return
	case "estop", "stop":
		op.EmergencyStop(source)
		return
	}
	if len(cmd) == 1 {
		op.Press(source, cmd[0])
		return
	}
	for _, k := range consoleKeys(cmd) {
		op.Press(source, k)
	}
}
