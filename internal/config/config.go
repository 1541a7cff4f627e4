// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/thrust_stand/internal/acquisition"
	"github.com/relabs-tech/thrust_stand/internal/sensors"
	"github.com/relabs-tech/thrust_stand/internal/throttle"
)

// DefaultPath is where the binaries look for the config file.
const DefaultPath = "./thrust_stand_config.txt"

// Config holds all application configuration values.
type Config struct {
	// Test
	RampSeconds        float64
	HoldSeconds        float64
	MaxThrottlePercent float64
	RampDown           bool
	RampSteps          int
	PulsesPerRev       int
	AirspeedOverride   float64
	CurrentEMAGain     float64
	CyclePeriodMS      int
	TestNumber         int // 0 = next number from the catalog
	LogDir             string
	LogPrefix          string

	// ESC
	ESCPin         string
	ESCMinPulseUS  int
	ESCMaxPulseUS  int
	ESCFrequencyHz int

	// Load cells (HX711)
	ThrustClkPin  string
	ThrustDataPin string
	TorqueClkPin  string
	TorqueDataPin string

	// Analog (ADS1115)
	ADCI2CBus             string
	ADCI2CAddr            uint16
	VoltageChannel        int
	CurrentChannel        int
	AirspeedChannel       int // -1 = no pitot sensor
	AnalogSamples         int
	VoltageScale          float64
	CurrentScale          float64
	AirspeedVoltsPerCount float64
	AirspeedZeroVoltage   float64
	AirspeedSensitivity   float64
	AirDensity            float64

	// RPM
	RPMPin string

	// Storage
	CalibrationStore string
	CatalogDB        string

	// Safety
	WatchdogDevice    string // empty = software watchdog
	WatchdogTimeoutMS int

	// MQTT
	MQTTBroker    string // empty = no MQTT
	MQTTClientID  string
	TopicSnapshot string
	TopicSession  string
	TopicCommand  string

	// Keypad
	KeypadSerialPort string // empty = no serial keypad
	KeypadBaudRate   int

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CBus         string // empty = no display
	DisplayUpdateInterval int    // milliseconds

	// Profiles
	ProfilesFile string
	Profile      string

	// Simulate runs against the simulated rig instead of hardware.
	Simulate bool
}

// Default returns the configuration used for keys the file does not set.
func Default() *Config {
	p := throttle.DefaultProfile()
	a := acquisition.DefaultConfig()
	return &Config{
		RampSeconds:        p.RampSeconds,
		HoldSeconds:        p.HoldSeconds,
		MaxThrottlePercent: p.MaxThrottle,
		RampDown:           true,
		PulsesPerRev:       1,
		CurrentEMAGain:     a.CurrentGain,
		CyclePeriodMS:      200,
		LogDir:             "./logs",
		LogPrefix:          "TEST",

		ESCPin:         "GPIO18",
		ESCMinPulseUS:  p.MinPulse,
		ESCMaxPulseUS:  p.MaxPulse,
		ESCFrequencyHz: 50,

		ThrustClkPin:  "GPIO5",
		ThrustDataPin: "GPIO6",
		TorqueClkPin:  "GPIO13",
		TorqueDataPin: "GPIO19",

		ADCI2CBus:             "1",
		ADCI2CAddr:            0x48,
		VoltageChannel:        0,
		CurrentChannel:        1,
		AirspeedChannel:       2,
		AnalogSamples:         a.Samples,
		VoltageScale:          a.VoltageScale,
		CurrentScale:          a.CurrentScale,
		AirspeedVoltsPerCount: sensors.VoltsPerCount,
		AirspeedZeroVoltage:   a.AirspeedZeroVoltage,
		AirspeedSensitivity:   a.AirspeedSensitivity,
		AirDensity:            a.AirDensity,

		RPMPin: "GPIO17",

		CalibrationStore: "./calibration.bin",
		CatalogDB:        "./thrust_stand.db",

		WatchdogTimeoutMS: 2000,

		MQTTClientID:  "thrust-stand",
		TopicSnapshot: "thrust_stand/snapshot",
		TopicSession:  "thrust_stand/session",
		TopicCommand:  "thrust_stand/command",

		KeypadBaudRate: 9600,

		WebServerPort: 8080,

		DisplayUpdateInterval: 500,
	}
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Test
	case "RAMP_SECONDS":
		c.RampSeconds, err = parseFloat(key, value, 0, math.MaxFloat64)
	case "HOLD_SECONDS":
		c.HoldSeconds, err = parseFloat(key, value, 0, math.MaxFloat64)
	case "MAX_THROTTLE_PERCENT":
		c.MaxThrottlePercent, err = parseFloat(key, value, 0, 100)
		if err == nil && c.MaxThrottlePercent == 0 {
			err = fmt.Errorf("MAX_THROTTLE_PERCENT must be greater than 0")
		}
	case "RAMP_DOWN":
		c.RampDown, err = parseBool(key, value)
	case "RAMP_STEPS":
		c.RampSteps, err = parseInt(key, value, 0, 1000)
	case "PULSES_PER_REV":
		c.PulsesPerRev, err = parseInt(key, value, 1, 64)
	case "AIRSPEED_OVERRIDE":
		c.AirspeedOverride, err = parseFloat(key, value, 0, 500)
	case "CURRENT_EMA_GAIN":
		c.CurrentEMAGain, err = parseFloat(key, value, 0, 100)
	case "CYCLE_PERIOD_MS":
		c.CyclePeriodMS, err = parseInt(key, value, 10, 10000)
	case "TEST_NUMBER":
		c.TestNumber, err = parseInt(key, value, 0, 999)
	case "LOG_DIR":
		c.LogDir = value
	case "LOG_PREFIX":
		c.LogPrefix = value

	// ESC
	case "ESC_PIN":
		c.ESCPin = value
	case "ESC_MIN_PULSE_US":
		c.ESCMinPulseUS, err = parseInt(key, value, 1, 10000)
	case "ESC_MAX_PULSE_US":
		c.ESCMaxPulseUS, err = parseInt(key, value, 1, 10000)
	case "ESC_FREQUENCY_HZ":
		c.ESCFrequencyHz, err = parseInt(key, value, 1, 500)

	// Load cells
	case "THRUST_CLK_PIN":
		c.ThrustClkPin = value
	case "THRUST_DATA_PIN":
		c.ThrustDataPin = value
	case "TORQUE_CLK_PIN":
		c.TorqueClkPin = value
	case "TORQUE_DATA_PIN":
		c.TorqueDataPin = value

	// Analog
	case "ADC_I2C_BUS":
		c.ADCI2CBus = value
	case "ADC_I2C_ADDR":
		c.ADCI2CAddr, err = parseAddr(key, value)
	case "VOLTAGE_CHANNEL":
		c.VoltageChannel, err = parseInt(key, value, 0, 3)
	case "CURRENT_CHANNEL":
		c.CurrentChannel, err = parseInt(key, value, 0, 3)
	case "AIRSPEED_CHANNEL":
		c.AirspeedChannel, err = parseInt(key, value, -1, 3)
	case "ANALOG_SAMPLES":
		c.AnalogSamples, err = parseInt(key, value, 1, 1000)
	case "VOLTAGE_SCALE":
		c.VoltageScale, err = parseFloat(key, value, -math.MaxFloat64, math.MaxFloat64)
	case "CURRENT_SCALE":
		c.CurrentScale, err = parseFloat(key, value, -math.MaxFloat64, math.MaxFloat64)
	case "AIRSPEED_VOLTS_PER_COUNT":
		c.AirspeedVoltsPerCount, err = parseFloat(key, value, 0, math.MaxFloat64)
	case "AIRSPEED_ZERO_VOLTAGE":
		c.AirspeedZeroVoltage, err = parseFloat(key, value, 0, 5)
	case "AIRSPEED_SENSITIVITY":
		c.AirspeedSensitivity, err = parseFloat(key, value, 0, math.MaxFloat64)
	case "AIR_DENSITY":
		c.AirDensity, err = parseFloat(key, value, 0, 10)

	// RPM
	case "RPM_PIN":
		c.RPMPin = value

	// Storage
	case "CALIBRATION_STORE":
		c.CalibrationStore = value
	case "CATALOG_DB":
		c.CatalogDB = value

	// Safety
	case "WATCHDOG_DEVICE":
		c.WatchdogDevice = value
	case "WATCHDOG_TIMEOUT_MS":
		c.WatchdogTimeoutMS, err = parseInt(key, value, 100, 60000)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_SNAPSHOT":
		c.TopicSnapshot = value
	case "TOPIC_SESSION":
		c.TopicSession = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// Keypad
	case "KEYPAD_SERIAL_PORT":
		c.KeypadSerialPort = value
	case "KEYPAD_BAUD_RATE":
		c.KeypadBaudRate, err = parseInt(key, value, 1200, 921600)

	// Web
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value, 50, 60000)

	// Profiles
	case "PROFILES_FILE":
		c.ProfilesFile = value
	case "PROFILE":
		c.Profile = value

	case "SIMULATE":
		c.Simulate, err = parseBool(key, value)

	default:
		// Unknown keys are ignored (allows for comments or future expansion)
	}
	return err
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if math.IsNaN(v) || v < lo || v > hi {
		return 0, fmt.Errorf("%s out of range: %v", key, v)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// parseAddr accepts decimal or 0x-prefixed hex.
func parseAddr(key, value string) (uint16, error) {
	v, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v > 0x7F {
		return 0, fmt.Errorf("%s must be a 7-bit I2C address, got 0x%X", key, v)
	}
	return uint16(v), nil
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	if c.ESCMaxPulseUS <= c.ESCMinPulseUS {
		return fmt.Errorf("ESC_MAX_PULSE_US (%d) must exceed ESC_MIN_PULSE_US (%d)", c.ESCMaxPulseUS, c.ESCMinPulseUS)
	}
	if period := 1e6 / float64(c.ESCFrequencyHz); float64(c.ESCMaxPulseUS) > period {
		return fmt.Errorf("ESC_MAX_PULSE_US (%d) does not fit a %d Hz period", c.ESCMaxPulseUS, c.ESCFrequencyHz)
	}
	if c.LogPrefix == "" || len(c.LogPrefix) > 5 {
		return fmt.Errorf("LOG_PREFIX must be 1-5 characters, got %q", c.LogPrefix)
	}
	if c.LogDir == "" {
		return fmt.Errorf("LOG_DIR is required")
	}
	if c.CalibrationStore == "" {
		return fmt.Errorf("CALIBRATION_STORE is required")
	}
	if !c.Simulate {
		if c.VoltageChannel == c.CurrentChannel || c.AirspeedChannel == c.VoltageChannel || c.AirspeedChannel == c.CurrentChannel {
			return fmt.Errorf("VOLTAGE_CHANNEL, CURRENT_CHANNEL and AIRSPEED_CHANNEL must differ")
		}
	}
	if c.MQTTBroker != "" && c.MQTTClientID == "" {
		return fmt.Errorf("MQTT_CLIENT_ID is required with MQTT_BROKER")
	}
	return nil
}

// Cadence is the control loop period.
func (c *Config) Cadence() time.Duration {
	return time.Duration(c.CyclePeriodMS) * time.Millisecond
}

// WatchdogTimeout is the session watchdog window.
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutMS) * time.Millisecond
}

// DisplayInterval is the display refresh period.
func (c *Config) DisplayInterval() time.Duration {
	return time.Duration(c.DisplayUpdateInterval) * time.Millisecond
}

// ThrottleProfile builds the session profile from the ramp keys.
func (c *Config) ThrottleProfile() throttle.Profile {
	return throttle.Profile{
		Name:        "config",
		RampSeconds: c.RampSeconds,
		HoldSeconds: c.HoldSeconds,
		MinPulse:    c.ESCMinPulseUS,
		MaxPulse:    c.ESCMaxPulseUS,
		MaxThrottle: c.MaxThrottlePercent,
		UpOnly:      !c.RampDown,
		Steps:       c.RampSteps,
	}
}

// SelectProfile returns the profile named by PROFILE from PROFILES_FILE, or
// the ramp keys when no profile is selected. ESC pulse limits always come
// from the config so a profile cannot exceed the hardware range.
func (c *Config) SelectProfile() (throttle.Profile, error) {
	if c.Profile == "" {
		return c.ThrottleProfile(), nil
	}
	if c.ProfilesFile == "" {
		return throttle.Profile{}, fmt.Errorf("PROFILE %q set without PROFILES_FILE", c.Profile)
	}
	lib, err := LoadProfiles(c.ProfilesFile)
	if err != nil {
		return throttle.Profile{}, err
	}
	p, ok := lib[c.Profile]
	if !ok {
		return throttle.Profile{}, fmt.Errorf("profile %q not found in %s", c.Profile, c.ProfilesFile)
	}
	p.MinPulse = c.ESCMinPulseUS
	p.MaxPulse = c.ESCMaxPulseUS
	return p, nil
}

// Acquisition returns the channel conversion constants.
func (c *Config) Acquisition() acquisition.Config {
	return acquisition.Config{
		Samples:               c.AnalogSamples,
		VoltageScale:          c.VoltageScale,
		CurrentScale:          c.CurrentScale,
		CurrentGain:           c.CurrentEMAGain,
		AirspeedOverride:      c.AirspeedOverride,
		AirspeedVoltsPerCount: c.AirspeedVoltsPerCount,
		AirspeedZeroVoltage:   c.AirspeedZeroVoltage,
		AirspeedSensitivity:   c.AirspeedSensitivity,
		AirDensity:            c.AirDensity,
	}
}

// LoadProfiles reads a YAML profile library keyed by profile name. Every
// profile must carry a name; missing fields take the default profile's values.
func LoadProfiles(path string) (map[string]throttle.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var raw struct {
		Profiles []yaml.Node `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	lib := make(map[string]throttle.Profile, len(raw.Profiles))
	for i, node := range raw.Profiles {
		p := throttle.DefaultProfile()
		p.Name = ""
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("%s: profile %d: %w", path, i, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%s: profile %d has no name", path, i)
		}
		if _, dup := lib[p.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate profile %q", path, p.Name)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: profile %q: %w", path, p.Name, err)
		}
		lib[p.Name] = p
	}
	return lib, nil
}
