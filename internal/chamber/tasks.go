package chamber

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/logic"
	"github.com/sweeney/drybox/internal/scheduler"
)

// Register adds the chamber's background tasks to s: hygrometer refresh,
// the recirculation cycler, heater regulation and telemetry at refresh, and
// the status LED.
func (c *Chamber) Register(s *scheduler.Scheduler, refresh time.Duration) {
	s.Schedule("hygrometer", HygrometerRefresh, c.parts.Hygrometer.Refresh)
	s.Spawn("recirculation", c.parts.Recirculation.Run)
	s.Schedule("thermostat", refresh, c.parts.Heater.Regulate)
	s.Schedule("report", refresh, c.Report)
	s.Spawn("status-led", c.Blink)
}

// Telemetry returns the current readings and actuator states.
func (c *Chamber) Telemetry() logic.Telemetry {
	t := logic.Telemetry{
		Timestamp:     c.clock.Now(),
		HeaterOn:      c.parts.Heater.HeaterOn(),
		Recirculation: c.parts.Recirculation.Mode().String(),
		ExhaustOn:     c.exhaustOn,
		Mode:          c.mode,
	}
	t.Temperature, t.HasTemperature = c.parts.Hygrometer.Temperature()
	t.Humidity, t.HasHumidity = c.parts.Hygrometer.Humidity()
	t.Setpoint, t.HasSetpoint = c.parts.Heater.Setpoint()
	if v, err := c.parts.Platform.Read(); err == nil {
		t.PlatformTemperature, t.HasPlatform = v, true
	}
	return t
}

// Report logs the readings and hands them to the observer.
func (c *Chamber) Report() error {
	t := c.Telemetry()
	c.log.WithFields(logrus.Fields{
		"platform":    optional(t.PlatformTemperature, t.HasPlatform),
		"temperature": optional(t.Temperature, t.HasTemperature),
		"humidity":    optional(t.Humidity, t.HasHumidity),
		"heater":      t.HeaterOn,
		"mode":        t.Mode.String(),
	}).Debug("readings")
	c.observer.OnTelemetry(t)
	return nil
}

func optional(v float64, ok bool) interface{} {
	if !ok {
		return nil
	}
	return v
}

// Blink renders the current mode's indicator pattern on the status LED.
// The pattern is looked up again at the start of every period.
func (c *Chamber) Blink(s scheduler.Sleeper) error {
	for {
		on, off := logic.PatternFor(c.mode).Timing()
		c.parts.LED.On()
		if err := s.Sleep(on); err != nil {
			return err
		}
		if off > 0 {
			c.parts.LED.Off()
			if err := s.Sleep(off); err != nil {
				return err
			}
		}
	}
}

// Exercise cycles through every mode forever to check the wiring.
func (c *Chamber) Exercise(s scheduler.Sleeper) error {
	c.log.Info("Starting hardware exercise")
	steps := []struct {
		name  string
		enter func()
		hold  time.Duration
	}{
		{"heating", func() { c.Heat(c.settings.TargetTemperature) }, 2 * time.Second},
		{"recirculating", c.StayHot, 10 * time.Second},
		{"venting", c.Vent, 10 * time.Second},
		{"idling", c.Idle, 10 * time.Second},
	}
	for {
		for _, step := range steps {
			c.log.Info(step.name)
			step.enter()
			if err := s.Sleep(step.hold); err != nil {
				return err
			}
		}
	}
}
