// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

const (
	slotSize  = 4
	imageSize = 2 * slotSize
)

var erased = [slotSize]byte{0xFF, 0xFF, 0xFF, 0xFF}

// SlotStore is a small EEPROM-style image file holding one float32 scale
// factor per load-cell channel at a fixed, non-overlapping offset:
//
//	0x00  thrust scale
//	0x04  torque scale
//
// Unwritten slots read as 0xFF bytes.
type SlotStore struct {
	path string
	mu   sync.Mutex
}

// NewSlotStore returns a store backed by the file at path. The file is
// created on the first Save.
func NewSlotStore(path string) *SlotStore {
	return &SlotStore{path: path}
}

func slotOffset(ch Channel) (int64, error) {
	switch ch {
	case Thrust:
		return 0, nil
	case Torque:
		return slotSize, nil
	default:
		return 0, fmt.Errorf("no storage slot for %s", ch)
	}
}

// Load returns the stored scale for ch. ok is false when the slot is erased
// or holds a value that is not a usable scale.
func (s *SlotStore) Load(ch Channel) (scale float64, ok bool, err error) {
	off, err := slotOffset(ch)
	if err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer f.Close()

	var buf [slotSize]byte
	if _, err := f.ReadAt(buf[:], off); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: reading %s slot: %v", ErrStorageUnavailable, ch, err)
	}
	if buf == erased {
		return 0, false, nil
	}

	v := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:])))
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, nil
	}
	return v, true, nil
}

// Save writes scale into ch's slot, leaving the other slot untouched.
func (s *SlotStore) Save(ch Channel, scale float64) error {
	off, err := slotOffset(ch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if size := info.Size(); size < imageSize {
		pad := make([]byte, imageSize-size)
		for i := range pad {
			pad[i] = 0xFF
		}
		if _, err := f.WriteAt(pad, size); err != nil {
			f.Close()
			return fmt.Errorf("%w: formatting image: %v", ErrStorageUnavailable, err)
		}
	}

	var buf [slotSize]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(scale)))
	if _, err := f.WriteAt(buf[:], off); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s slot: %v", ErrStorageUnavailable, ch, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
