package dryer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/drybox/internal/logic"
	"github.com/sweeney/drybox/internal/scheduler"
	"github.com/sweeney/drybox/internal/sensor"
)

var epoch = time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)

type fakeChamber struct {
	calls   []string
	targets []float64
	handled []error
	accept  bool
}

func (c *fakeChamber) Heat(target float64) {
	c.calls = append(c.calls, "heat")
	c.targets = append(c.targets, target)
}
func (c *fakeChamber) StayHot()            { c.calls = append(c.calls, "stay_hot") }
func (c *fakeChamber) Vent()               { c.calls = append(c.calls, "vent") }
func (c *fakeChamber) Idle()               { c.calls = append(c.calls, "idle") }
func (c *fakeChamber) Recirculate()        { c.calls = append(c.calls, "recirculate") }
func (c *fakeChamber) Target() float64     { return 50 }
func (c *fakeChamber) Hysteresis() float64 { return 2 }

func (c *fakeChamber) HandleError(task string, err error) bool {
	c.handled = append(c.handled, err)
	return c.accept
}

// clockHygrometer returns readings as a function of elapsed virtual time.
type clockHygrometer struct {
	clock *scheduler.VirtualClock
	temp  func(time.Duration) (float64, bool)
	hum   func(time.Duration) (float64, bool)
}

func (h *clockHygrometer) Temperature() (float64, bool) { return h.temp(h.clock.Elapsed()) }
func (h *clockHygrometer) Humidity() (float64, bool)    { return h.hum(h.clock.Elapsed()) }

func constant(v float64) func(time.Duration) (float64, bool) {
	return func(time.Duration) (float64, bool) { return v, true }
}

func missing(time.Duration) (float64, bool) { return 0, false }

type phaseRecorder struct {
	phases []logic.Phase
}

func (r *phaseRecorder) OnEvent(e logic.Event) {
	if e.Type == logic.EventPhaseChanged {
		r.phases = append(r.phases, e.Phase)
	}
}
func (r *phaseRecorder) OnTelemetry(logic.Telemetry) {}

func defaultSettings() Settings {
	return Settings{
		TargetHumidity:      30,
		TargetTemperature:   50,
		Timeout:             time.Hour,
		SampleRate:          1,
		ExhaustDuration:     5 * time.Second,
		SensorInitialWait:   time.Second,
		SensorSettle:        2 * time.Second,
		TotalMeasurement:    30 * time.Second,
		MeasurementInterval: 10 * time.Second,
		SlopeThreshold:      0.5,
	}
}

type harness struct {
	dryer   *Dryer
	chamber *fakeChamber
	hyg     *clockHygrometer
	clock   *scheduler.VirtualClock
	phases  *phaseRecorder
}

func newHarness(settings Settings) *harness {
	logger, _ := test.NewNullLogger()
	clock := scheduler.NewVirtualClock(epoch)
	h := &harness{
		chamber: &fakeChamber{},
		hyg:     &clockHygrometer{clock: clock, temp: constant(25), hum: constant(40)},
		clock:   clock,
		phases:  &phaseRecorder{},
	}
	h.dryer = New(settings, h.chamber, h.hyg, clock, h.phases, logger)
	return h
}

// run executes fn as a task until it returns or limit elapses.
func (h *harness) run(t *testing.T, limit time.Duration, fn scheduler.Routine, opts ...scheduler.Option) (*scheduler.Task, error) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts = append([]scheduler.Option{scheduler.WithClock(h.clock), scheduler.WithLogger(logger)}, opts...)
	s := scheduler.New(opts...)
	task := s.Spawn(TaskName, fn)
	err := s.Run(context.Background(), 50*time.Millisecond, func() error {
		if task.Done() || h.clock.Elapsed() >= limit {
			return scheduler.ErrStop
		}
		return nil
	})
	return task, err
}

func TestSettingsDerivedValues(t *testing.T) {
	s := defaultSettings()
	assert.Equal(t, time.Second, s.SamplePeriod())
	assert.Equal(t, 3, s.WindowSize())
	assert.Equal(t, 2, s.SettleSamples())

	s.SampleRate = 3
	assert.Equal(t, 333*time.Millisecond, s.SamplePeriod())
	assert.Equal(t, 6, s.SettleSamples())

	s.TotalMeasurement = 90 * time.Second
	assert.Equal(t, 9, s.WindowSize())

	s.TotalMeasurement = time.Second
	assert.Equal(t, 1, s.WindowSize())
}

func TestWarmUpFailsWithoutTemperature(t *testing.T) {
	h := newHarness(defaultSettings())
	h.hyg.temp = missing

	var elapsed time.Duration
	task, err := h.run(t, time.Minute, func(s scheduler.Sleeper) error {
		err := h.dryer.Run(s)
		elapsed = h.clock.Elapsed()
		return err
	}, scheduler.WithErrorHandler(func(string, error) bool { return true }))

	require.NoError(t, err)
	assert.ErrorIs(t, task.Err(), ErrNoTemperature)
	assert.Equal(t, time.Second, elapsed, "retries once after the initial wait")
	assert.Empty(t, h.chamber.calls)
	assert.Equal(t, logic.PhaseFailed, h.dryer.Phase())
}

func TestWarmUpWaitsForSensor(t *testing.T) {
	h := newHarness(defaultSettings())
	h.hyg.temp = func(d time.Duration) (float64, bool) {
		if d < 500*time.Millisecond {
			return 0, false
		}
		return 25, true
	}

	_, err := h.run(t, 5*time.Second, h.dryer.Run)

	require.NoError(t, err)
	require.NotEmpty(t, h.chamber.calls)
	assert.Equal(t, "heat", h.chamber.calls[0])
	assert.Equal(t, []logic.Phase{logic.PhaseWarmUp, logic.PhasePreheat}, h.phases.phases)
}

func TestPreheatRejectsImplausibleStart(t *testing.T) {
	for _, temp := range []float64{0, -5, 100, 140} {
		h := newHarness(defaultSettings())
		h.hyg.temp = constant(temp)

		var perr error
		h.run(t, time.Minute, func(s scheduler.Sleeper) error {
			perr = h.dryer.Preheat(s, 50, time.Hour)
			return nil
		})

		assert.ErrorIs(t, perr, ErrImplausibleReading, "start %v", temp)
		assert.Empty(t, h.chamber.calls, "start %v", temp)
	}
}

func TestPreheatTimeoutNeverEarly(t *testing.T) {
	settings := defaultSettings()
	settings.SampleRate = 4 // 250ms
	h := newHarness(settings)
	h.hyg.temp = constant(20)

	var perr error
	var elapsed time.Duration
	h.run(t, time.Minute, func(s scheduler.Sleeper) error {
		perr = h.dryer.Preheat(s, 50, 5000*time.Millisecond)
		elapsed = h.clock.Elapsed()
		return nil
	})

	assert.ErrorIs(t, perr, ErrPreheatTimeout)
	assert.Equal(t, 5000*time.Millisecond, elapsed)
	assert.Equal(t, []string{"heat", "idle"}, h.chamber.calls)
	assert.Equal(t, []float64{50}, h.chamber.targets)
}

func TestPreheatTimeoutAcrossTickWraparound(t *testing.T) {
	settings := defaultSettings()
	settings.SampleRate = 4
	h := newHarness(settings)
	h.hyg.temp = constant(20)
	// start 2s before the tick counter wraps
	h.clock = scheduler.NewVirtualClockAt(epoch, logic.Ticks(^uint32(0)-1999))
	h.hyg.clock = h.clock
	h.dryer.clock = h.clock

	var perr error
	var elapsed time.Duration
	h.run(t, time.Minute, func(s scheduler.Sleeper) error {
		perr = h.dryer.Preheat(s, 50, 5000*time.Millisecond)
		elapsed = h.clock.Elapsed()
		return nil
	})

	assert.ErrorIs(t, perr, ErrPreheatTimeout)
	assert.Equal(t, 5000*time.Millisecond, elapsed)
}

func TestPreheatSettles(t *testing.T) {
	settings := defaultSettings()
	settings.SampleRate = 4
	settings.SensorSettle = time.Second // 4 samples
	h := newHarness(settings)

	samples := []float64{30, 49, 50, 45, 49, 50, 51, 50, 60}
	h.hyg.temp = func(d time.Duration) (float64, bool) {
		i := int(d / (250 * time.Millisecond))
		if i >= len(samples) {
			i = len(samples) - 1
		}
		return samples[i], true
	}

	var perr error
	var elapsed time.Duration
	h.run(t, time.Minute, func(s scheduler.Sleeper) error {
		perr = h.dryer.Preheat(s, 50, time.Hour)
		elapsed = h.clock.Elapsed()
		return nil
	})

	require.NoError(t, perr)
	// 45 resets the run, four in-band samples follow
	assert.Equal(t, 1750*time.Millisecond, elapsed)
	assert.Equal(t, []string{"heat"}, h.chamber.calls)
}

func TestPreheatMissingReadingResetsCount(t *testing.T) {
	settings := defaultSettings()
	settings.SampleRate = 4
	settings.SensorSettle = 500 * time.Millisecond // 2 samples
	h := newHarness(settings)

	h.hyg.temp = func(d time.Duration) (float64, bool) {
		if d == 250*time.Millisecond {
			return 0, false
		}
		return 50, true
	}

	var perr error
	var elapsed time.Duration
	h.run(t, time.Minute, func(s scheduler.Sleeper) error {
		perr = h.dryer.Preheat(s, 50, time.Hour)
		elapsed = h.clock.Elapsed()
		return nil
	})

	require.NoError(t, perr)
	assert.Equal(t, 750*time.Millisecond, elapsed)
}

func TestAbsorbScenario(t *testing.T) {
	settings := defaultSettings()
	settings.TotalMeasurement = 50 * time.Second // N = 5
	h := newHarness(settings)
	h.hyg.hum = func(d time.Duration) (float64, bool) {
		v := 10 + 2*float64(d/(10*time.Second))
		if v > 18 {
			v = 18
		}
		return v, true
	}

	var got float64
	var elapsed time.Duration
	h.run(t, time.Hour, func(s scheduler.Sleeper) error {
		var err error
		got, err = h.dryer.AbsorbMoisture(s, time.Hour)
		elapsed = h.clock.Elapsed()
		return err
	})

	assert.Equal(t, 18.0, got)
	// priming takes five intervals, then two more samples bring the slope to 0.8
	assert.Equal(t, 70*time.Second, elapsed)
	assert.Equal(t, []string{"stay_hot"}, h.chamber.calls)
	assert.Equal(t, []logic.Phase{logic.PhaseAbsorb}, h.phases.phases)
}

func TestAbsorbTimeout(t *testing.T) {
	settings := defaultSettings()
	settings.TotalMeasurement = 50 * time.Second
	h := newHarness(settings)
	// steadily rising: the slope never falls
	h.hyg.hum = func(d time.Duration) (float64, bool) {
		return 10 + 2*float64(d/(10*time.Second)), true
	}

	var got float64
	var elapsed time.Duration
	h.run(t, time.Hour, func(s scheduler.Sleeper) error {
		var err error
		got, err = h.dryer.AbsorbMoisture(s, 100*time.Second)
		elapsed = h.clock.Elapsed()
		return err
	})

	assert.Equal(t, 110*time.Second, elapsed)
	assert.Equal(t, 32.0, got)
}

func TestAbsorbSkipsMissingSamples(t *testing.T) {
	settings := defaultSettings()
	settings.TotalMeasurement = 30 * time.Second // N = 3
	h := newHarness(settings)
	h.hyg.hum = func(d time.Duration) (float64, bool) {
		switch d / (10 * time.Second) {
		case 0:
			return 20, true
		case 1:
			return 0, false
		case 2:
			return 22, true
		case 3:
			return 24, true
		}
		return 24, true
	}

	var got float64
	var elapsed time.Duration
	h.run(t, time.Hour, func(s scheduler.Sleeper) error {
		var err error
		got, err = h.dryer.AbsorbMoisture(s, time.Hour)
		elapsed = h.clock.Elapsed()
		return err
	})

	// the missing sample delays priming by one interval; one more 24 brings
	// the slope from 4/3 down to 2/3
	assert.Equal(t, 24.0, got)
	assert.Equal(t, 50*time.Second, elapsed)
}

func TestAbsorbGivesUpWithoutHumidity(t *testing.T) {
	h := newHarness(defaultSettings())
	h.hyg.hum = missing

	var aerr error
	h.run(t, 2*time.Hour, func(s scheduler.Sleeper) error {
		_, aerr = h.dryer.AbsorbMoisture(s, time.Minute)
		return nil
	})

	assert.ErrorIs(t, aerr, sensor.ErrUnavailable)
}

func TestRunVentsWhileHumid(t *testing.T) {
	h := newHarness(defaultSettings())
	h.hyg.temp = constant(50)
	h.hyg.hum = constant(40)

	task, err := h.run(t, 75*time.Second, h.dryer.Run)

	require.NoError(t, err)
	assert.ErrorIs(t, task.Err(), scheduler.ErrCancelled)
	assert.Equal(t, []string{"heat", "stay_hot", "stay_hot", "vent", "idle", "stay_hot", "vent", "idle"}, h.chamber.calls)
	assert.Equal(t, []logic.Phase{
		logic.PhaseWarmUp,
		logic.PhasePreheat,
		logic.PhaseSettle,
		logic.PhaseAbsorb,
		logic.PhaseVent,
		logic.PhaseAbsorb,
		logic.PhaseVent,
	}, h.phases.phases)
}

func TestRunHoldsOnceDry(t *testing.T) {
	h := newHarness(defaultSettings())
	h.hyg.temp = constant(50)
	h.hyg.hum = constant(20)

	_, err := h.run(t, 110*time.Second, h.dryer.Run)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"heat", "stay_hot", "stay_hot",
		"idle", "recirculate", "idle",
		"idle", "recirculate", "idle",
		"idle",
	}, h.chamber.calls)
	assert.Equal(t, logic.PhaseHold, h.dryer.Phase())
}

func TestRunPreheatTimeoutIsHandled(t *testing.T) {
	settings := defaultSettings()
	settings.Timeout = 10 * time.Second
	h := newHarness(settings)
	h.hyg.temp = constant(20)

	task, err := h.run(t, time.Hour, h.dryer.Run, scheduler.WithErrorHandler(h.dryer.HandleError))

	require.NoError(t, err, "a preheat timeout does not fault the scheduler")
	assert.True(t, task.Done())
	assert.ErrorIs(t, task.Err(), ErrPreheatTimeout)
	assert.Equal(t, logic.PhaseFailed, h.dryer.Phase())
	assert.Equal(t, "idle", h.chamber.calls[len(h.chamber.calls)-1])
	assert.Empty(t, h.chamber.handled)
}

func TestRunFatalErrorFaults(t *testing.T) {
	h := newHarness(defaultSettings())
	h.hyg.temp = constant(120)

	_, err := h.run(t, time.Hour, h.dryer.Run, scheduler.WithErrorHandler(h.dryer.HandleError))

	var fault *scheduler.TaskFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, TaskName, fault.Task)
	assert.ErrorIs(t, err, ErrImplausibleReading)
	require.Len(t, h.chamber.handled, 1)
	assert.Equal(t, logic.PhaseFailed, h.dryer.Phase())
}

func TestHandleError(t *testing.T) {
	h := newHarness(defaultSettings())

	assert.True(t, h.dryer.HandleError(TaskName, ErrPreheatTimeout))
	assert.True(t, h.dryer.HandleError(TaskName, sensor.ErrUnavailable))
	assert.Equal(t, []string{"idle", "idle"}, h.chamber.calls)
	assert.Empty(t, h.chamber.handled)

	// other tasks' errors belong to the chamber
	h.chamber.accept = true
	assert.True(t, h.dryer.HandleError("thermostat", sensor.ErrUnavailable))
	h.chamber.accept = false
	assert.False(t, h.dryer.HandleError(TaskName, errors.New("boom")))
	assert.Len(t, h.chamber.handled, 2)
}

func TestHoldPreheatsThenHolds(t *testing.T) {
	h := newHarness(defaultSettings())
	h.hyg.temp = constant(50)

	_, err := h.run(t, 2*time.Minute, h.dryer.Hold)

	require.NoError(t, err)
	assert.Equal(t, []string{"heat", "stay_hot"}, h.chamber.calls)
	assert.Equal(t, logic.PhaseHold, h.dryer.Phase())
}
