// Package thermostat switches the heater to hold a setpoint within a
// hysteresis band, and refuses to heat past the safety limits.
package thermostat

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/gpio"
	"github.com/sweeney/drybox/internal/logic"
	"github.com/sweeney/drybox/internal/sensor"
)

// Default safety ceilings in °C.
const (
	DefaultPlatformLimit = 85
	DefaultDeviceLimit   = 70
)

// ErrUnsafeTemperature is a fatal overheat. It is never retried.
var ErrUnsafeTemperature = errors.New("unsafe temperature")

// UnsafeTemperatureError reports which ceiling was breached.
type UnsafeTemperatureError struct {
	Source      string
	Temperature float64
	Limit       float64
}

func (e *UnsafeTemperatureError) Error() string {
	return fmt.Sprintf("%s temperature %.1f°C exceeds limit %.1f°C", e.Source, e.Temperature, e.Limit)
}

func (e *UnsafeTemperatureError) Unwrap() error {
	return ErrUnsafeTemperature
}

// State is the thermostat's control state.
type State int

const (
	StateIdle State = iota
	StateWaitingForSensor
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForSensor:
		return "waiting_for_sensor"
	case StateRunning:
		return "running"
	}
	return "unknown"
}

// TemperatureSensor supplies the device temperature, if known.
type TemperatureSensor interface {
	Temperature() (float64, bool)
}

// Limits are the two independent safety ceilings.
type Limits struct {
	// Platform is the controller board's own ceiling.
	Platform float64
	// Device is the chamber's ceiling.
	Device float64
}

// Thermostat drives the heater output.
type Thermostat struct {
	heater     gpio.Output
	device     TemperatureSensor
	platform   sensor.Analog
	limits     Limits
	hysteresis float64
	log        logrus.FieldLogger

	setpoint    float64
	hasSetpoint bool
	heaterOn    bool
	state       State
}

// New creates a Thermostat with no setpoint and turns the heater off.
func New(heater gpio.Output, device TemperatureSensor, platform sensor.Analog, limits Limits, hysteresis float64, log logrus.FieldLogger) *Thermostat {
	t := &Thermostat{
		heater:     heater,
		device:     device,
		platform:   platform,
		limits:     limits,
		hysteresis: hysteresis,
		log:        log,
	}
	t.setHeater(false)
	return t
}

// SetTemperature sets the target. It takes effect at the next Regulate.
func (t *Thermostat) SetTemperature(target float64) {
	t.setpoint = target
	t.hasSetpoint = true
	if t.state == StateIdle {
		t.state = StateWaitingForSensor
	}
}

// Off clears the target and turns the heater off now.
func (t *Thermostat) Off() {
	t.hasSetpoint = false
	t.state = StateIdle
	t.setHeater(false)
}

// Setpoint returns the current target, if any.
func (t *Thermostat) Setpoint() (float64, bool) {
	return t.setpoint, t.hasSetpoint
}

// Hysteresis returns the half-width of the dead band.
func (t *Thermostat) Hysteresis() float64 {
	return t.hysteresis
}

// HeaterOn reports the last commanded heater state.
func (t *Thermostat) HeaterOn() bool {
	return t.heaterOn
}

// State returns the control state.
func (t *Thermostat) State() State {
	return t.state
}

// CheckSafety compares both readings to their ceilings. A breach turns the
// heater off and returns an *UnsafeTemperatureError. If the platform sensor
// cannot be read the heater is turned off and a sensor.ErrUnavailable is returned.
func (t *Thermostat) CheckSafety() error {
	platform, err := t.platform.Read()
	if err != nil {
		t.setHeater(false)
		return fmt.Errorf("platform temperature: %w", wrapUnavailable(err))
	}
	if platform > t.limits.Platform {
		return t.trip("platform", platform, t.limits.Platform)
	}
	if temp, ok := t.device.Temperature(); ok && temp > t.limits.Device {
		return t.trip("device", temp, t.limits.Device)
	}
	return nil
}

func (t *Thermostat) trip(source string, temp, limit float64) error {
	t.setHeater(false)
	t.hasSetpoint = false
	t.state = StateIdle
	return &UnsafeTemperatureError{Source: source, Temperature: temp, Limit: limit}
}

// Regulate runs the safety check and then one hysteresis decision.
func (t *Thermostat) Regulate() error {
	if err := t.CheckSafety(); err != nil {
		return err
	}
	if !t.hasSetpoint {
		t.state = StateIdle
		t.setHeater(false)
		return nil
	}
	temp, ok := t.device.Temperature()
	if !ok {
		t.state = StateWaitingForSensor
		t.setHeater(false)
		return nil
	}
	t.state = StateRunning
	t.setHeater(logic.Hysteresis(t.heaterOn, temp, t.setpoint, t.hysteresis))
	return nil
}

func (t *Thermostat) setHeater(on bool) {
	if on != t.heaterOn {
		t.log.Debugf("thermostat: heater %v", onOff(on))
	}
	if on {
		t.heater.On()
	} else {
		t.heater.Off()
	}
	t.heaterOn = on
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func wrapUnavailable(err error) error {
	if errors.Is(err, sensor.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", sensor.ErrUnavailable, err)
}
