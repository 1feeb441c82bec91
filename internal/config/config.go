// Package config loads the versioned drybox configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Version is the only supported config version.
const Version = "1.0a"

// BME280 I²C addresses, selected by the SDO strap.
const (
	BME280Primary   = 0x76
	BME280Secondary = 0x77
)

// ErrInvalid wraps every configuration problem. It is fatal at startup.
var ErrInvalid = errors.New("invalid config")

// Format is a config file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: unknown config extension %q", ErrInvalid, filepath.Ext(path))
}

type file struct {
	Drybox Config `toml:"drybox" yaml:"drybox"`
}

// Config is the drybox section of the file.
type Config struct {
	Version                string         `toml:"version" yaml:"version"`
	UnsafeTemperature      float64        `toml:"unsafe_temperature" yaml:"unsafe_temperature"`
	PlatformMaxTemperature float64        `toml:"platform_max_temperature" yaml:"platform_max_temperature"`
	Hardware               HardwareConfig `toml:"hardware" yaml:"hardware"`
	PID                    PIDConfig      `toml:"pid" yaml:"pid"`
	Controls               ControlsConfig `toml:"controls" yaml:"controls"`
}

// HardwareConfig names the GPIO lines and buses.
type HardwareConfig struct {
	HeaterPin           int `toml:"heater_pin" yaml:"heater_pin"`
	// HygrometerPin is the BME280's I²C address (0x76 or 0x77), not a GPIO line.
	HygrometerPin       int `toml:"hygrometer_pin" yaml:"hygrometer_pin"`
	RecirculationFanPin int `toml:"recirculation_fan_pin" yaml:"recirculation_fan_pin"`
	ExhaustFanPin       int `toml:"exhaust_fan_pin" yaml:"exhaust_fan_pin"`
	StatusLEDPin        int `toml:"status_led_pin" yaml:"status_led_pin"` // -1 = none

	GPIOChip    string `toml:"gpio_chip" yaml:"gpio_chip"`
	I2CBus      string `toml:"i2c_bus" yaml:"i2c_bus"`
	ThermalZone string `toml:"thermal_zone" yaml:"thermal_zone"`
}

// PIDConfig holds the drying targets.
type PIDConfig struct {
	TargetHumidity        float64 `toml:"target_humidity" yaml:"target_humidity"`
	DehumidifyTemperature float64 `toml:"dehumidify_temperature" yaml:"dehumidify_temperature"`
}

// ControlsConfig holds the control loop tuning. Durations are seconds
// unless the name says otherwise.
type ControlsConfig struct {
	HeaterHysteresis          float64 `toml:"heater_hysteresis" yaml:"heater_hysteresis"`
	RecirculationCyclePercent float64 `toml:"recirculation_cycle_percent" yaml:"recirculation_cycle_percent"`
	RecirculationCyclePeriodS float64 `toml:"recirculation_cycle_period_s" yaml:"recirculation_cycle_period_s"`
	TimeoutS                  float64 `toml:"timeout_s" yaml:"timeout_s"`
	SampleRate                float64 `toml:"sample_rate" yaml:"sample_rate"`
	ExhaustDurationS          float64 `toml:"exhaust_duration_s" yaml:"exhaust_duration_s"`
	SensorInitialWaitMS       float64 `toml:"sensor_initial_wait_ms" yaml:"sensor_initial_wait_ms"`
	SensorSettleDurationS     float64 `toml:"sensor_settle_duration_s" yaml:"sensor_settle_duration_s"`
	TotalMeasurementDurationS float64 `toml:"total_measurement_duration_s" yaml:"total_measurement_duration_s"`
	MeasurementIntervalS      float64 `toml:"measurement_interval_s" yaml:"measurement_interval_s"`
	SlopeThreshold            float64 `toml:"slope_threshold" yaml:"slope_threshold"`
}

// Default returns a Config with every optional value set. The required
// hardware and pid values are zero.
func Default() *Config {
	return &Config{
		UnsafeTemperature:      70,
		PlatformMaxTemperature: 85,
		Hardware: HardwareConfig{
			StatusLEDPin: -1,
			GPIOChip:     "gpiochip0",
			ThermalZone:  "thermal_zone0",
		},
		Controls: ControlsConfig{
			HeaterHysteresis:          2,
			RecirculationCyclePercent: 0.1,
			RecirculationCyclePeriodS: 180,
			TimeoutS:                  3600,
			SampleRate:                1,
			ExhaustDurationS:          60,
			SensorInitialWaitMS:       1000,
			SensorSettleDurationS:     10,
			TotalMeasurementDurationS: 90,
			MeasurementIntervalS:      10,
			SlopeThreshold:            0.5,
		},
	}
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a config document.
func Parse(data []byte, format Format) (*Config, error) {
	raw := map[string]interface{}{}
	var unmarshal func([]byte, interface{}) error
	switch format {
	case FormatTOML:
		unmarshal = toml.Unmarshal
	case FormatYAML:
		unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalid, format)
	}

	if err := unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	section, ok := raw["drybox"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing [drybox] section", ErrInvalid)
	}
	// checked on the undecoded document, where absence and zero differ
	if err := checkRequired(section); err != nil {
		return nil, err
	}

	f := file{Drybox: *Default()}
	if err := unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg := &f.Drybox
	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var required = []struct {
	table string
	keys  []string
}{
	{"hardware", []string{"heater_pin", "hygrometer_pin", "recirculation_fan_pin", "exhaust_fan_pin"}},
	{"pid", []string{"target_humidity", "dehumidify_temperature"}},
}

// checkRequired reports a bad version and every missing required key.
func checkRequired(section map[string]interface{}) error {
	var result *multierror.Error

	v, ok := section["version"]
	if !ok {
		result = multierror.Append(result, fmt.Errorf("%w: missing version", ErrInvalid))
	} else if s, _ := v.(string); s != Version {
		result = multierror.Append(result, fmt.Errorf("%w: version %v is not supported, only %s", ErrInvalid, v, Version))
	}

	for _, r := range required {
		table, ok := section[r.table].(map[string]interface{})
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%w: missing required key: %s", ErrInvalid, r.table))
			continue
		}
		for _, key := range r.keys {
			if _, ok := table[key]; !ok {
				result = multierror.Append(result, fmt.Errorf("%w: missing required key: %s.%s", ErrInvalid, r.table, key))
			}
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) ensureDefaults() {
	def := Default()
	if c.Hardware.GPIOChip == "" {
		c.Hardware.GPIOChip = def.Hardware.GPIOChip
	}
	if c.Hardware.ThermalZone == "" {
		c.Hardware.ThermalZone = def.Hardware.ThermalZone
	}
}

// Validate checks value ranges. Every problem is reported.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}

	if c.UnsafeTemperature <= 0 {
		add("unsafe_temperature must be positive, got %v", c.UnsafeTemperature)
	}
	if c.PlatformMaxTemperature <= 0 {
		add("platform_max_temperature must be positive, got %v", c.PlatformMaxTemperature)
	}

	pins := map[string]int{
		"heater_pin":            c.Hardware.HeaterPin,
		"recirculation_fan_pin": c.Hardware.RecirculationFanPin,
		"exhaust_fan_pin":       c.Hardware.ExhaustFanPin,
	}
	for _, name := range []string{"heater_pin", "recirculation_fan_pin", "exhaust_fan_pin"} {
		if pins[name] < 0 {
			add("hardware.%s must not be negative, got %d", name, pins[name])
		}
	}
	if a := c.Hardware.HygrometerPin; a != BME280Primary && a != BME280Secondary {
		add("hardware.hygrometer_pin is the BME280 I2C address and must be 0x76 or 0x77, got %d", a)
	}

	if h := c.PID.TargetHumidity; h <= 0 || h >= 100 {
		add("pid.target_humidity must be in (0, 100), got %v", h)
	}
	if t := c.PID.DehumidifyTemperature; t <= 0 || t >= c.UnsafeTemperature {
		add("pid.dehumidify_temperature must be in (0, %v), got %v", c.UnsafeTemperature, t)
	}

	ctl := c.Controls
	if ctl.HeaterHysteresis < 0 {
		add("controls.heater_hysteresis must not be negative, got %v", ctl.HeaterHysteresis)
	}
	if p := ctl.RecirculationCyclePercent; p < 0 || p > 1 {
		add("controls.recirculation_cycle_percent must be in [0, 1], got %v", p)
	}
	positive := []struct {
		name  string
		value float64
	}{
		{"recirculation_cycle_period_s", ctl.RecirculationCyclePeriodS},
		{"timeout_s", ctl.TimeoutS},
		{"sample_rate", ctl.SampleRate},
		{"measurement_interval_s", ctl.MeasurementIntervalS},
		{"total_measurement_duration_s", ctl.TotalMeasurementDurationS},
		{"slope_threshold", ctl.SlopeThreshold},
	}
	for _, p := range positive {
		if p.value <= 0 {
			add("controls.%s must be positive, got %v", p.name, p.value)
		}
	}
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"exhaust_duration_s", ctl.ExhaustDurationS},
		{"sensor_initial_wait_ms", ctl.SensorInitialWaitMS},
		{"sensor_settle_duration_s", ctl.SensorSettleDurationS},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			add("controls.%s must not be negative, got %v", p.name, p.value)
		}
	}
	if ctl.MeasurementIntervalS > 0 && ctl.TotalMeasurementDurationS < ctl.MeasurementIntervalS {
		add("controls.total_measurement_duration_s (%v) is shorter than measurement_interval_s (%v)",
			ctl.TotalMeasurementDurationS, ctl.MeasurementIntervalS)
	}

	return result.ErrorOrNil()
}

// Seconds converts a config value in seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Milliseconds converts a config value in milliseconds to a Duration.
func Milliseconds(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
