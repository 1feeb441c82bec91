// Package dryer sequences a drying run: wait for the sensor, preheat to the
// target temperature, then alternate moisture absorption and venting until
// the humidity target is reached, and keep it there.
package dryer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/logic"
	"github.com/sweeney/drybox/internal/scheduler"
	"github.com/sweeney/drybox/internal/sensor"
)

// TaskName is the scheduler task running the sequence.
const TaskName = "dryer"

// DefaultAbsorbTimeout bounds each re-absorption in the steady loop.
const DefaultAbsorbTimeout = time.Hour

var (
	// ErrNoTemperature means the sensor never produced a temperature. Fatal.
	ErrNoTemperature = errors.New("cannot read temperature")

	// ErrImplausibleReading means the starting temperature is outside (0, 100) °C. Fatal.
	ErrImplausibleReading = errors.New("temperature seems invalid")

	// ErrPreheatTimeout means the chamber did not settle at the target in
	// time. The run is abandoned but the process keeps running.
	ErrPreheatTimeout = errors.New("preheat timed out")
)

// Chamber is the part of the chamber state machine the sequence drives.
type Chamber interface {
	Heat(target float64)
	StayHot()
	Vent()
	Idle()
	Recirculate()
	Target() float64
	Hysteresis() float64
	HandleError(task string, err error) bool
}

// Hygrometer supplies cached readings.
type Hygrometer interface {
	Temperature() (float64, bool)
	Humidity() (float64, bool)
}

// Clock supplies event timestamps and the millisecond tick counter.
type Clock interface {
	Now() time.Time
	Ticks() logic.Ticks
}

// Settings are the drying parameters.
type Settings struct {
	TargetHumidity      float64
	TargetTemperature   float64
	Timeout             time.Duration
	SampleRate          float64 // samples per second during preheat
	ExhaustDuration     time.Duration
	SensorInitialWait   time.Duration
	SensorSettle        time.Duration
	TotalMeasurement    time.Duration
	MeasurementInterval time.Duration
	SlopeThreshold      float64
	AbsorbTimeout       time.Duration
}

// SamplePeriod is the preheat polling period, rounded to whole milliseconds.
func (s Settings) SamplePeriod() time.Duration {
	return time.Duration(math.Round(1000/s.SampleRate)) * time.Millisecond
}

// WindowSize is the number of humidity samples in the slope window.
func (s Settings) WindowSize() int {
	n := int(math.Round(float64(s.TotalMeasurement) / float64(s.MeasurementInterval)))
	if n < 1 {
		n = 1
	}
	return n
}

// SettleSamples is the run of in-band preheat samples that counts as settled.
func (s Settings) SettleSamples() int {
	return int(math.Round(s.SensorSettle.Seconds() * s.SampleRate))
}

// Dryer runs the drying sequence. Not safe for concurrent use.
type Dryer struct {
	settings Settings
	chamber  Chamber
	hyg      Hygrometer
	clock    Clock
	observer logic.Observer
	log      logrus.FieldLogger

	phase logic.Phase
}

// New creates a Dryer in PhaseIdle.
func New(settings Settings, chamber Chamber, hyg Hygrometer, clock Clock, observer logic.Observer, log logrus.FieldLogger) *Dryer {
	if settings.AbsorbTimeout <= 0 {
		settings.AbsorbTimeout = DefaultAbsorbTimeout
	}
	if observer == nil {
		observer = logic.Discard
	}
	return &Dryer{
		settings: settings,
		chamber:  chamber,
		hyg:      hyg,
		clock:    clock,
		observer: observer,
		log:      log,
		phase:    logic.PhaseIdle,
	}
}

// Phase returns the current phase.
func (d *Dryer) Phase() logic.Phase {
	return d.phase
}

// Register spawns the full drying sequence on s.
func (d *Dryer) Register(s *scheduler.Scheduler) {
	s.Spawn(TaskName, d.Run)
}

// RegisterHold spawns the preheat-and-hold sequence on s.
func (d *Dryer) RegisterHold(s *scheduler.Scheduler) {
	s.Spawn(TaskName, d.Hold)
}

func (d *Dryer) setPhase(p logic.Phase) {
	if p == d.phase {
		return
	}
	d.log.Debugf("phase %s -> %s", d.phase, p)
	d.phase = p
	d.observer.OnEvent(logic.Event{
		Timestamp: d.clock.Now(),
		Type:      logic.EventPhaseChanged,
		Phase:     p,
	})
}

// fail marks the run as failed unless it was simply cancelled.
func (d *Dryer) fail(err error) error {
	if err != nil && !errors.Is(err, scheduler.ErrCancelled) {
		d.setPhase(logic.PhaseFailed)
	}
	return err
}

// Run is the full sequence. After the first absorption it never returns
// except on cancellation or error.
func (d *Dryer) Run(s scheduler.Sleeper) error {
	if err := d.warmUp(s); err != nil {
		return d.fail(err)
	}
	if err := d.Preheat(s, d.settings.TargetTemperature, d.settings.Timeout); err != nil {
		return d.fail(err)
	}

	d.log.Infof("Wait for measurements to settle %v", d.settings.SensorSettle)
	d.setPhase(logic.PhaseSettle)
	d.chamber.StayHot()
	if err := s.Sleep(d.settings.SensorSettle); err != nil {
		return err
	}

	humidity, err := d.AbsorbMoisture(s, d.settings.Timeout)
	if err != nil {
		return d.fail(err)
	}
	return d.fail(d.steady(s, humidity))
}

// Hold preheats and then holds the target temperature indefinitely.
func (d *Dryer) Hold(s scheduler.Sleeper) error {
	if err := d.warmUp(s); err != nil {
		return d.fail(err)
	}
	if err := d.Preheat(s, d.settings.TargetTemperature, d.settings.Timeout); err != nil {
		return d.fail(err)
	}
	d.setPhase(logic.PhaseHold)
	d.chamber.StayHot()
	for {
		if err := s.Sleep(d.settings.TotalMeasurement); err != nil {
			return err
		}
		if h, ok := d.hyg.Humidity(); ok {
			d.log.Infof("Holding at %.1f%% RH", h)
		}
	}
}

func (d *Dryer) warmUp(s scheduler.Sleeper) error {
	d.setPhase(logic.PhaseWarmUp)
	if _, ok := d.hyg.Temperature(); ok {
		return nil
	}
	if err := s.Sleep(d.settings.SensorInitialWait); err != nil {
		return err
	}
	if _, ok := d.hyg.Temperature(); !ok {
		return ErrNoTemperature
	}
	return nil
}

// Preheat heats to target and waits until enough consecutive samples sit
// within the heater's hysteresis band. On timeout the chamber is idled and
// ErrPreheatTimeout returned.
func (d *Dryer) Preheat(s scheduler.Sleeper, target float64, timeout time.Duration) error {
	if target <= 0 {
		target = d.chamber.Target()
	}
	start, ok := d.hyg.Temperature()
	if !ok {
		return ErrNoTemperature
	}
	if start <= 0 || start >= 100 {
		return fmt.Errorf("%w: %.1f°C", ErrImplausibleReading, start)
	}

	d.log.Infof("Preheating to %.1f°C", target)
	d.setPhase(logic.PhasePreheat)
	counter := logic.SettleCounter{
		Setpoint: target,
		Band:     d.chamber.Hysteresis(),
		Needed:   d.settings.SettleSamples(),
	}
	d.chamber.Heat(target)

	startTicks := d.clock.Ticks()
	for {
		if elapsed := logic.TicksDiff(d.clock.Ticks(), startTicks); elapsed >= timeout {
			d.chamber.Idle()
			return fmt.Errorf("%w after %v", ErrPreheatTimeout, elapsed)
		}
		if counter.Observe(d.hyg.Temperature()) {
			return nil
		}
		if err := s.Sleep(d.settings.SamplePeriod()); err != nil {
			return err
		}
	}
}

// AbsorbMoisture holds the chamber hot while the humidity rises, and returns
// once its slope over the window has fallen to SlopeThreshold times the
// initial slope, or after timeout. The result is the latest humidity.
func (d *Dryer) AbsorbMoisture(s scheduler.Sleeper, timeout time.Duration) (float64, error) {
	start := d.clock.Ticks()
	d.setPhase(logic.PhaseAbsorb)
	d.chamber.StayHot()
	d.log.Infof("Absorbing moisture at %.1f°C", d.chamber.Target())

	interval := d.settings.MeasurementInterval
	w := logic.NewWindow(d.settings.WindowSize())
	for !w.Full() {
		if h, ok := d.hyg.Humidity(); ok {
			w.Push(h)
		}
		if err := s.Sleep(interval); err != nil {
			return 0, err
		}
		if !w.Full() && logic.TimedOut(start, d.clock.Ticks(), timeout) {
			return 0, fmt.Errorf("%w: %d of %d humidity samples before timeout", sensor.ErrUnavailable, w.Len(), w.Size())
		}
	}

	initial, _ := w.Slope()
	target := d.settings.SlopeThreshold * initial
	slope := initial
	d.log.Infof("Initial humidity %.1f-%.1f%%, slope %.3f, target slope %.3f", w.Oldest(), w.Newest(), initial, target)

	for slope > target && !logic.TimedOut(start, d.clock.Ticks(), timeout) {
		if err := s.Sleep(interval); err != nil {
			return 0, err
		}
		if h, ok := d.hyg.Humidity(); ok {
			w.Push(h)
			slope, _ = w.Slope()
		}
		d.log.Debugf("humidity %v, slope %.3f, target slope %.3f", w.Values(), slope, target)
	}
	return w.Newest(), nil
}

func (d *Dryer) steady(s scheduler.Sleeper, humidity float64) error {
	for {
		d.log.Infof("Reading humidity %.1f%% RH", humidity)

		if humidity > d.settings.TargetHumidity {
			d.log.Infof("Venting at %.1f%% RH, target is %.1f", humidity, d.settings.TargetHumidity)
			d.setPhase(logic.PhaseVent)
			d.chamber.Vent()
			if err := s.Sleep(d.settings.ExhaustDuration); err != nil {
				return err
			}
			d.chamber.Idle()
			if err := s.Sleep(d.settings.SensorSettle); err != nil {
				return err
			}
			h, err := d.AbsorbMoisture(s, d.settings.AbsorbTimeout)
			if err != nil {
				return err
			}
			humidity = h
			continue
		}

		d.log.Infof("Reached target humidity, sleeping for %v", d.settings.TotalMeasurement)
		d.setPhase(logic.PhaseHold)
		d.chamber.Idle()
		if err := s.Sleep(d.settings.TotalMeasurement); err != nil {
			return err
		}
		d.chamber.Recirculate()
		if err := s.Sleep(d.settings.SensorSettle); err != nil {
			return err
		}
		d.chamber.Idle()
		if h, ok := d.hyg.Humidity(); ok {
			humidity = h
		}
	}
}

// HandleError is the scheduler error handler for a drying run. It handles
// the dryer's recoverable failures and passes everything else to the chamber.
func (d *Dryer) HandleError(task string, err error) bool {
	if task == TaskName {
		switch {
		case errors.Is(err, ErrPreheatTimeout):
			d.log.Warnf("Timed out before preheat finished: %v", err)
			d.chamber.Idle()
			return true
		case errors.Is(err, sensor.ErrUnavailable):
			d.log.Warnf("Drying abandoned: %v", err)
			d.chamber.Idle()
			return true
		}
	}
	return d.chamber.HandleError(task, err)
}
