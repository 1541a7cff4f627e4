// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// LoadCell is a strain-gauge channel with driver-side tare and scale.
type LoadCell interface {
	// IsReady reports whether a conversion can be read without blocking.
	IsReady() bool
	// ReadUnits returns (raw - offset) / scale.
	ReadUnits() (float64, error)
	// Tare records the current raw reading as the zero offset.
	Tare() error
	SetScale(f float64)
	Scale() float64
	Offset() float64
	// RawValue returns one raw conversion, waiting for it if needed.
	RawValue() (int64, error)
}

// Analog is a single-ended ADC channel.
type Analog interface {
	RawSample() (int32, error)
}

// Average reads n samples from src and returns their mean in raw counts.
func Average(src Analog, n int) (float64, error) {
	if n < 1 {
		n = 1
	}
	ma := movingaverage.New(n)
	for i := 0; i < n; i++ {
		v, err := src.RawSample()
		if err != nil {
			return 0, fmt.Errorf("sample %d/%d: %w", i+1, n, err)
		}
		ma.Add(float64(v))
	}
	return ma.Avg(), nil
}
