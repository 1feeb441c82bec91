// Package chamber is the drying chamber's state machine. Each operating mode
// is a single call that sets the Mode and drives all three actuators.
package chamber

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/dutycycle"
	"github.com/sweeney/drybox/internal/gpio"
	"github.com/sweeney/drybox/internal/logic"
	"github.com/sweeney/drybox/internal/power"
	"github.com/sweeney/drybox/internal/scheduler"
	"github.com/sweeney/drybox/internal/sensor"
	"github.com/sweeney/drybox/internal/thermostat"
)

// ErrPanic is returned by Panic. It is fatal.
var ErrPanic = errors.New("chamber panic")

// HygrometerRefresh is the period of the hygrometer refresh task.
const HygrometerRefresh = 1500 * time.Millisecond

// Parts are the chamber's hardware collaborators.
type Parts struct {
	Heater        *thermostat.Thermostat
	Recirculation *dutycycle.Cycler
	Exhaust       gpio.Output
	// LED is optional.
	LED        gpio.Output
	Hygrometer *sensor.Hygrometer
	Platform   sensor.Analog
	Halter     power.Halter
}

// Settings are the chamber's fixed parameters.
type Settings struct {
	UnsafeTemperature float64
	TargetTemperature float64
}

// Option configures a Chamber.
type Option func(*Chamber)

// WithObserver sets the event and telemetry observer.
func WithObserver(o logic.Observer) Option {
	return func(c *Chamber) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Chamber) { c.log = l }
}

// WithClock sets the clock used to timestamp events.
func WithClock(clk sensor.Clock) Option {
	return func(c *Chamber) { c.clock = clk }
}

// Chamber owns the actuators. Not safe for concurrent use: all calls come
// from tasks of a single scheduler.
type Chamber struct {
	parts    Parts
	settings Settings
	observer logic.Observer
	log      logrus.FieldLogger
	clock    sensor.Clock

	mode      logic.Mode
	target    float64
	exhaustOn bool // last commanded exhaust state
	panicked  bool
	halted    bool
}

// New creates a Chamber in ModeUnknown. No actuator is touched until the
// first mode call.
func New(parts Parts, settings Settings, opts ...Option) *Chamber {
	c := &Chamber{
		parts:    parts,
		settings: settings,
		observer: logic.Discard,
		target:   settings.TargetTemperature,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.parts.LED == nil {
		c.parts.LED = gpio.Nop{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.clock == nil {
		c.clock = scheduler.NewRealClock()
	}
	return c
}

// Mode returns the current mode.
func (c *Chamber) Mode() logic.Mode {
	return c.mode
}

// Panicked reports whether Panic has been called.
func (c *Chamber) Panicked() bool {
	return c.panicked
}

// Target returns the temperature StayHot holds.
func (c *Chamber) Target() float64 {
	return c.target
}

// Hysteresis returns the heater's dead band half-width.
func (c *Chamber) Hysteresis() float64 {
	return c.parts.Heater.Hysteresis()
}

// Heat heats towards target with the recirculation fan on. A non-positive
// target means the configured target temperature.
func (c *Chamber) Heat(target float64) {
	if target <= 0 {
		target = c.settings.TargetTemperature
	}
	if !c.enter(logic.ModeHeating) {
		return
	}
	c.target = target
	c.parts.Heater.SetTemperature(target)
	c.parts.Recirculation.On()
	c.setExhaust(false)
	c.log.Infof("Heating to %.1f°C", target)
}

// StayHot holds the last Heat target with the recirculation fan cycling.
func (c *Chamber) StayHot() {
	if !c.enter(logic.ModeTargetReached) {
		return
	}
	c.parts.Heater.SetTemperature(c.target)
	c.parts.Recirculation.Cycle()
	c.setExhaust(false)
	c.log.Infof("Holding temperature at %.1f°C", c.target)
}

// Vent replaces the chamber air.
func (c *Chamber) Vent() {
	if !c.enter(logic.ModeExhausting) {
		return
	}
	c.parts.Heater.Off()
	c.parts.Recirculation.Off()
	c.setExhaust(true)
}

// Idle turns everything off.
func (c *Chamber) Idle() {
	if !c.enter(logic.ModeRunning) {
		return
	}
	c.allOff()
}

// Recirculate stirs the chamber air without heating.
func (c *Chamber) Recirculate() {
	if !c.enter(logic.ModeRunning) {
		return
	}
	c.parts.Heater.Off()
	c.parts.Recirculation.On()
	c.setExhaust(false)
}

// Reset returns to the startup configuration.
func (c *Chamber) Reset() {
	if !c.enter(logic.ModeStarting) {
		return
	}
	c.parts.LED.Off()
	c.allOff()
	c.log.Info("Reset drybox")
}

func (c *Chamber) allOff() {
	c.parts.Heater.Off()
	c.parts.Recirculation.Off()
	c.setExhaust(false)
}

func (c *Chamber) setExhaust(on bool) {
	c.exhaustOn = on
	if on {
		c.parts.Exhaust.On()
	} else {
		c.parts.Exhaust.Off()
	}
}

// enter switches mode. It refuses once the chamber has panicked.
func (c *Chamber) enter(m logic.Mode) bool {
	if c.panicked {
		c.log.Warnf("ignoring %s request after panic", m)
		return false
	}
	c.setMode(m)
	return true
}

func (c *Chamber) setMode(m logic.Mode) {
	if m == c.mode {
		return
	}
	c.log.Debugf("mode %s -> %s", c.mode, m)
	c.mode = m
	c.observer.OnEvent(logic.Event{
		Timestamp: c.clock.Now(),
		Type:      logic.EventModeChanged,
		Mode:      m,
	})
}

// Panic is the terminal safety response: heater off, both fans on, host
// halt requested. It always returns an error wrapping ErrPanic and cause.
// Repeated calls re-assert the actuators but halt the host only once.
func (c *Chamber) Panic(cause error) error {
	c.parts.Heater.Off()
	c.setExhaust(true)
	c.parts.Recirculation.On()
	c.parts.LED.On()

	err := fmt.Errorf("%w: %w", ErrPanic, cause)
	if c.panicked {
		return err
	}
	c.panicked = true
	c.log.Errorf("Panic! %v", cause)
	c.setMode(logic.ModeError)
	c.observer.OnEvent(logic.Event{
		Timestamp: c.clock.Now(),
		Type:      logic.EventPanic,
		Mode:      logic.ModeError,
		Reason:    cause.Error(),
	})

	if !c.halted && c.parts.Halter != nil {
		c.halted = true
		if herr := c.parts.Halter.Halt(); herr != nil {
			c.log.Errorf("halt failed: %v", herr)
		}
	}
	return err
}

// Check is the foreground safety check. Either the chamber temperature or
// the platform temperature above the unsafe limit panics.
func (c *Chamber) Check() error {
	limit := c.settings.UnsafeTemperature
	if temp, ok := c.parts.Hygrometer.Temperature(); ok && temp > limit {
		return c.Panic(&thermostat.UnsafeTemperatureError{Source: "chamber", Temperature: temp, Limit: limit})
	}
	platform, err := c.parts.Platform.Read()
	if err != nil {
		c.log.Warnf("platform temperature unavailable: %v", err)
		return nil
	}
	if platform > limit {
		return c.Panic(&thermostat.UnsafeTemperatureError{Source: "platform", Temperature: platform, Limit: limit})
	}
	return nil
}

// Shutdown is the scheduler cleanup: everything off, recirculation cycler
// stopped for good. After a panic the safe configuration is left in place.
func (c *Chamber) Shutdown() {
	if c.panicked {
		c.log.Warn("Shutdown after panic: leaving fans on")
		return
	}
	c.log.Info("Shutting off everything")
	c.parts.LED.Off()
	c.parts.Heater.Off()
	c.parts.Recirculation.ShutDown()
	c.setExhaust(false)
}

// HandleError is the scheduler error handler for chamber tasks.
func (c *Chamber) HandleError(task string, err error) bool {
	switch {
	case errors.Is(err, ErrPanic):
		return false
	case errors.Is(err, thermostat.ErrUnsafeTemperature):
		c.Panic(err)
		return false
	case errors.Is(err, sensor.ErrUnavailable):
		c.log.Warnf("%s: %v", task, err)
		return true
	}
	c.log.Errorf("%s failed: %v", task, err)
	if !c.panicked {
		c.setMode(logic.ModeError)
		c.parts.LED.On()
	}
	return false
}
