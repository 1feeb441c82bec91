// Package dutycycle drives a digital output through a slow on/off cycle whose
// period is measured in seconds rather than hertz.
package dutycycle

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/gpio"
	"github.com/sweeney/drybox/internal/scheduler"
)

// Mode is the requested behaviour of a Cycler.
type Mode int

const (
	ModeOff Mode = iota
	ModeOn
	ModeCycling
	// ModeShutDown is terminal: the output stays off and mode requests are ignored.
	ModeShutDown
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	case ModeCycling:
		return "cycling"
	case ModeShutDown:
		return "shut_down"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// DefaultCheckInterval is how often a constant On or Off is re-asserted.
const DefaultCheckInterval = 250 * time.Millisecond

// ErrInvalidSetting is returned for an out-of-range period or duty cycle.
var ErrInvalidSetting = errors.New("dutycycle: invalid setting")

// Cycler is a slow square-wave driver for one output.
// It is not safe for concurrent use; it belongs to one scheduler.
type Cycler struct {
	out           gpio.Output
	log           logrus.FieldLogger
	mode          Mode
	period        time.Duration
	duty          float64
	onTime        time.Duration
	offTime       time.Duration
	checkInterval time.Duration
	pinOn         bool
}

// New creates a Cycler in ModeOff and turns the output off.
func New(out gpio.Output, duty float64, period time.Duration, log logrus.FieldLogger) (*Cycler, error) {
	c := &Cycler{
		out:           out,
		log:           log,
		mode:          ModeOff,
		checkInterval: DefaultCheckInterval,
	}
	if err := c.SetPeriod(period); err != nil {
		return nil, err
	}
	if err := c.SetDutyCycle(duty); err != nil {
		return nil, err
	}
	out.Off()
	return c, nil
}

// SetCheckInterval changes how often constant modes are re-asserted.
func (c *Cycler) SetCheckInterval(d time.Duration) {
	if d > 0 {
		c.checkInterval = d
	}
}

// SetPeriod changes the cycle period. The new timings apply from the next
// phase boundary; a phase already in progress runs to completion.
func (c *Cycler) SetPeriod(period time.Duration) error {
	if period < time.Millisecond {
		return fmt.Errorf("%w: period %v below 1ms", ErrInvalidSetting, period)
	}
	c.period = period
	c.recompute()
	return nil
}

// SetDutyCycle changes the fraction of the period spent on.
func (c *Cycler) SetDutyCycle(duty float64) error {
	if math.IsNaN(duty) || duty < 0 || duty > 1 {
		return fmt.Errorf("%w: duty cycle %v not in [0,1]", ErrInvalidSetting, duty)
	}
	c.duty = duty
	c.recompute()
	return nil
}

func (c *Cycler) recompute() {
	ms := float64(c.period / time.Millisecond)
	c.onTime = time.Duration(math.Round(c.duty*ms)) * time.Millisecond
	c.offTime = c.period.Truncate(time.Millisecond) - c.onTime
}

// Durations returns the on and off phase lengths. They always sum to the period.
func (c *Cycler) Durations() (on, off time.Duration) {
	return c.onTime, c.offTime
}

// Mode returns the requested mode.
func (c *Cycler) Mode() Mode {
	return c.mode
}

// On requests constant on. It takes effect when the current phase ends.
func (c *Cycler) On() {
	c.setMode(ModeOn)
}

// Off requests constant off. Unlike ShutDown, the cycler stays live.
func (c *Cycler) Off() {
	c.setMode(ModeOff)
}

// Cycle requests alternating on/off phases.
func (c *Cycler) Cycle() {
	c.setMode(ModeCycling)
}

func (c *Cycler) setMode(m Mode) {
	if c.mode == ModeShutDown || c.mode == m {
		return
	}
	c.log.Debugf("dutycycle: %s -> %s", c.mode, m)
	c.mode = m
}

// ShutDown turns the output off immediately and permanently.
func (c *Cycler) ShutDown() {
	if c.mode != ModeShutDown {
		c.log.Info("dutycycle: shutting down")
	}
	c.mode = ModeShutDown
	c.out.Off()
	c.pinOn = false
}

// Run drives the output until shutdown or cancellation. On cancellation the
// output is left matching the last requested mode.
func (c *Cycler) Run(s scheduler.Sleeper) error {
	for c.mode != ModeShutDown {
		var wait time.Duration
		switch {
		case c.mode == ModeOn:
			c.set(true)
			wait = c.checkInterval
		case c.mode == ModeOff:
			c.set(false)
			wait = c.checkInterval
		default:
			on := !c.pinOn
			if c.onTime == 0 {
				on = false
			} else if c.offTime == 0 {
				on = true
			}
			c.set(on)
			wait = c.offTime
			if on {
				wait = c.onTime
			}
		}
		if err := s.Sleep(wait); err != nil {
			c.settle()
			return err
		}
	}
	return nil
}

// settle asserts the pin for the final mode after the loop is interrupted.
func (c *Cycler) settle() {
	switch c.mode {
	case ModeOn:
		c.set(true)
	case ModeCycling:
		// mid-cycle; leave the current phase in place
	default:
		c.set(false)
	}
}

func (c *Cycler) set(on bool) {
	if on {
		c.out.On()
	} else {
		c.out.Off()
	}
	c.pinOn = on
}
