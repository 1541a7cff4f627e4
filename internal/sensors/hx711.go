// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/devices/v3/hx711"
)

const (
	defaultReadTimeout = 200 * time.Millisecond
	tareSamples        = 10
)

// hx711Reader is the part of *hx711.Dev the cell uses.
type hx711Reader interface {
	IsReady() bool
	ReadTimeout(timeout time.Duration) (int32, error)
}

// HX711Cell is a load cell behind an HX711 24-bit bridge ADC. Offset and scale
// are kept here, in the same units the calibration store persists.
type HX711Cell struct {
	name    string
	dev     hx711Reader
	timeout time.Duration
	offset  float64
	scale   float64
}

// NewHX711 opens an HX711 on the given clock and data pins.
func NewHX711(name string, clk gpio.PinOut, data gpio.PinIn) (*HX711Cell, error) {
	dev, err := hx711.New(clk, data)
	if err != nil {
		return nil, fmt.Errorf("%s hx711 init: %w", name, err)
	}
	log.Printf("sensors: %s load cell on clk=%s data=%s", name, clk, data)
	return newHX711Cell(name, dev), nil
}

func newHX711Cell(name string, dev hx711Reader) *HX711Cell {
	return &HX711Cell{name: name, dev: dev, timeout: defaultReadTimeout, scale: 1}
}

func (c *HX711Cell) String() string { return c.name }

func (c *HX711Cell) IsReady() bool { return c.dev.IsReady() }

func (c *HX711Cell) RawValue() (int64, error) {
	v, err := c.dev.ReadTimeout(c.timeout)
	if err != nil {
		return 0, fmt.Errorf("%s read: %w", c.name, err)
	}
	return int64(v), nil
}

func (c *HX711Cell) ReadUnits() (float64, error) {
	raw, err := c.RawValue()
	if err != nil {
		return 0, err
	}
	return (float64(raw) - c.offset) / c.scale, nil
}

func (c *HX711Cell) Tare() error {
	var sum float64
	for i := 0; i < tareSamples; i++ {
		raw, err := c.RawValue()
		if err != nil {
			return fmt.Errorf("%s tare: %w", c.name, err)
		}
		sum += float64(raw)
	}
	c.offset = sum / tareSamples
	return nil
}

// SetScale sets counts per unit. Zero and non-finite scales are ignored.
func (c *HX711Cell) SetScale(f float64) {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}
	c.scale = f
}

func (c *HX711Cell) Scale() float64  { return c.scale }
func (c *HX711Cell) Offset() float64 { return c.offset }
