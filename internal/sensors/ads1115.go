// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
)

// ADS1115 full-scale range and data rate used for every channel.
const (
	adcFullScale = 4096 * physic.MilliVolt
	adcRate      = 860 * physic.Hertz
)

// VoltsPerCount is the ADS1115 resolution at the configured full-scale range.
const VoltsPerCount = 4.096 / 32768

var adcChannels = [...]ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// ADC is an ADS1115 on an I2C bus.
type ADC struct {
	dev *ads1x15.Dev
}

// OpenADS1115 opens the converter at addr.
func OpenADS1115(bus i2c.Bus, addr uint16) (*ADC, error) {
	opts := ads1x15.DefaultOpts
	opts.I2cAddress = addr
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("ads1115 init at 0x%02X: %w", addr, err)
	}
	log.Printf("sensors: ads1115 ready at 0x%02X", addr)
	return &ADC{dev: dev}, nil
}

// Channel returns single-ended input n (0-3).
func (a *ADC) Channel(name string, n int) (*ADCChannel, error) {
	if n < 0 || n >= len(adcChannels) {
		return nil, fmt.Errorf("%s: ads1115 channel %d out of range", name, n)
	}
	pin, err := a.dev.PinForChannel(adcChannels[n], adcFullScale, adcRate, ads1x15.BestQuality)
	if err != nil {
		return nil, fmt.Errorf("%s: ads1115 channel %d: %w", name, n, err)
	}
	return &ADCChannel{name: name, pin: pin}, nil
}

// Halt stops any continuous conversion.
func (a *ADC) Halt() error { return a.dev.Halt() }

type samplePin interface {
	Read() (analog.Sample, error)
}

// ADCChannel is one ADS1115 input.
type ADCChannel struct {
	name string
	pin  samplePin
}

func (c *ADCChannel) String() string { return c.name }

func (c *ADCChannel) RawSample() (int32, error) {
	s, err := c.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", c.name, err)
	}
	return s.Raw, nil
}
