// Command drybox runs the drying chamber controller and publishes its state
// to MQTT and an HTTP status page.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/chamber"
	"github.com/sweeney/drybox/internal/config"
	"github.com/sweeney/drybox/internal/dryer"
	"github.com/sweeney/drybox/internal/dutycycle"
	"github.com/sweeney/drybox/internal/gpio"
	"github.com/sweeney/drybox/internal/logic"
	"github.com/sweeney/drybox/internal/metrics"
	"github.com/sweeney/drybox/internal/mqtt"
	"github.com/sweeney/drybox/internal/power"
	"github.com/sweeney/drybox/internal/scheduler"
	"github.com/sweeney/drybox/internal/sensor"
	"github.com/sweeney/drybox/internal/status"
	"github.com/sweeney/drybox/internal/thermostat"
	"github.com/sweeney/drybox/internal/web"
)

// Programs selectable with -mode.
const (
	programDry      = "dry"
	programHold     = "hold"
	programExercise = "exercise"
)

type options struct {
	configPath string
	broker     string
	httpAddr   string
	heartbeat  time.Duration
	refresh    time.Duration
	program    string
	printState bool
	logLevel   string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "/etc/drybox/drybox.toml", "Config file (.toml, .yaml or .yml)")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.DurationVar(&o.heartbeat, "heartbeat", time.Minute, "Telemetry publish interval (0 publishes every sample)")
	flag.DurationVar(&o.refresh, "refresh-rate", time.Second, "Thermostat, safety check and telemetry period")
	flag.StringVar(&o.program, "mode", programDry, "Program: dry, hold or exercise")
	flag.BoolVar(&o.printState, "print-state", false, "Print sensor readings and exit")
	flag.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	log, err := newLogger(o.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}
	if err := run(o, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(lvl)
	return log, nil
}

func run(o options, log *logrus.Logger) error {
	if err := checkProgram(o.program); err != nil {
		return err
	}

	// Config errors must surface before any output is driven
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	hw, err := openHardware(cfg, log)
	if err != nil {
		return fmt.Errorf("init hardware: %w", err)
	}
	var ctl *controller
	defer func() { closeHardware(hw, ctl, log) }()

	if o.printState {
		return printState(hw)
	}

	runID := uuid.NewString()
	log.Infof("run %s", runID)

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker: o.broker,
		RunID:  runID,
		Log:    log.WithField("component", "mqtt"),
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	tracker := status.NewTracker(runID, time.Now(), statusConfig(o, cfg))
	m := metrics.New()
	observer := logic.Observers{
		tracker,
		m,
		mqtt.NewReporter(publisher, o.heartbeat, log.WithField("component", "reporter")),
	}

	ctl, err = newController(cfg, o, hw, scheduler.NewRealClock(), observer, m, log)
	if err != nil {
		return err
	}
	ctl.onCheck = trackConnection(tracker, publisher)

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infof("http status server listening on %s", o.httpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	log.Infof("started: mode=%s refresh=%v broker=%s heartbeat=%v", o.program, o.refresh, o.broker, o.heartbeat)
	return serve(ctx, ctl, publisher, tracker, watchSignals(ctx, sigCh, cancel, log), log)
}

func checkProgram(p string) error {
	switch p {
	case programDry, programHold, programExercise:
		return nil
	}
	return fmt.Errorf("unknown mode %q (want dry, hold or exercise)", p)
}

// watchSignals cancels the run on SIGINT or SIGTERM and reports the signal name.
func watchSignals(ctx context.Context, sigCh <-chan os.Signal, cancel context.CancelFunc, log logrus.FieldLogger) <-chan string {
	names := make(chan string, 1)
	go func() {
		select {
		case s := <-sigCh:
			log.Infof("received %v, shutting down", s)
			names <- signalName(s)
			cancel()
		case <-ctx.Done():
		}
	}()
	return names
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// serve publishes STARTUP, runs the controller until it stops, then publishes
// SHUTDOWN with the reason.
func serve(ctx context.Context, ctl *controller, pub mqtt.Publisher, tracker *status.Tracker, signals <-chan string, log logrus.FieldLogger) error {
	publishStatus(pub, tracker, "STARTUP", "", log)

	err := ctl.run(ctx)

	var sig string
	select {
	case sig = <-signals:
	default:
	}
	reason := shutdownReason(err, ctl.chamber.Panicked(), sig)
	if err != nil {
		log.Errorf("controller stopped: %v", err)
	}
	publishStatus(pub, tracker, "SHUTDOWN", reason, log)
	return err
}

func publishStatus(pub mqtt.Publisher, tracker *status.Tracker, event, reason string, log logrus.FieldLogger) {
	snap := tracker.Snapshot()
	e := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := pub.PublishSystem(e); err != nil {
		log.Warnf("failed to publish %s event: %v", event, err)
		return
	}
	log.Infof("published %s event", event)
}

func shutdownReason(err error, panicked bool, sig string) string {
	switch {
	case panicked:
		return "PANIC"
	case err != nil:
		return "FAULT"
	case sig != "":
		return sig
	}
	return "STOPPED"
}

func statusConfig(o options, cfg *config.Config) status.Config {
	return status.Config{
		Mode:              o.program,
		RefreshMs:         o.refresh.Milliseconds(),
		HeartbeatMs:       o.heartbeat.Milliseconds(),
		Broker:            o.broker,
		HTTPPort:          o.httpAddr,
		TargetTemperature: cfg.PID.DehumidifyTemperature,
		TargetHumidity:    cfg.PID.TargetHumidity,
		UnsafeTemperature: cfg.UnsafeTemperature,
	}
}

func printState(hw *hardware) error {
	r, err := hw.hygrometer.Sense()
	if err != nil {
		return fmt.Errorf("read hygrometer: %w", err)
	}
	platform, err := hw.platform.Read()
	if err != nil {
		return fmt.Errorf("read platform temperature: %w", err)
	}
	fmt.Printf("Temperature: %s, Humidity: %s, Platform: %.1f °C\n",
		formatReading(r.Temperature, r.HasTemperature, "°C"),
		formatReading(r.Humidity, r.HasHumidity, "%RH"),
		platform)
	return nil
}

func formatReading(v float64, ok bool, unit string) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}

// hardware is the set of devices the controller drives.
type hardware struct {
	heater        gpio.Output
	recirculation gpio.Output
	exhaust       gpio.Output
	led           gpio.Output
	hygrometer    sensor.Device
	platform      sensor.Analog
	halter        power.Halter
	// closers run in reverse order. keepOutputs leaves GPIO lines at their
	// current level instead of driving them low.
	closers []func(keepOutputs bool) error
}

// Close releases every device, returning all errors.
func (h *hardware) Close(keepOutputs bool) error {
	var result *multierror.Error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](keepOutputs); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func openHardware(cfg *config.Config, log logrus.FieldLogger) (*hardware, error) {
	hw := &hardware{
		platform: sensor.NewThermalZone(cfg.Hardware.ThermalZone),
		halter:   power.NewShutdown(),
		led:      gpio.Nop{},
	}

	chip, err := gpio.OpenChip(cfg.Hardware.GPIOChip, log.WithField("component", "gpio"))
	if err != nil {
		return nil, err
	}
	hw.closers = append(hw.closers, func(keepOutputs bool) error {
		if keepOutputs {
			return chip.Release()
		}
		return chip.Close()
	})

	lines := []struct {
		name string
		pin  int
		dst  *gpio.Output
	}{
		{"heater", cfg.Hardware.HeaterPin, &hw.heater},
		{"recirculation", cfg.Hardware.RecirculationFanPin, &hw.recirculation},
		{"exhaust", cfg.Hardware.ExhaustFanPin, &hw.exhaust},
		{"status-led", cfg.Hardware.StatusLEDPin, &hw.led},
	}
	for _, l := range lines {
		if l.pin < 0 {
			continue
		}
		out, err := chip.Output(l.name, l.pin)
		if err != nil {
			return nil, multierror.Append(err, hw.Close(false)).ErrorOrNil()
		}
		*l.dst = out
	}

	bme, err := sensor.OpenBME280(cfg.Hardware.I2CBus, uint16(cfg.Hardware.HygrometerPin))
	if err != nil {
		return nil, multierror.Append(err, hw.Close(false)).ErrorOrNil()
	}
	hw.hygrometer = bme
	hw.closers = append(hw.closers, func(bool) error { return bme.Close() })

	return hw, nil
}

// closeHardware releases the devices once the controller has stopped. After
// a panic the fans must keep running while the host halts, so the outputs are
// left as the panic set them.
func closeHardware(hw *hardware, ctl *controller, log logrus.FieldLogger) {
	keep := ctl != nil && ctl.chamber.Panicked()
	if keep {
		log.Warn("Leaving outputs in panic configuration")
	}
	if err := hw.Close(keep); err != nil {
		log.Warnf("close hardware: %v", err)
	}
}

// trackConnection returns a check hook that copies the broker connection
// state into the tracker.
func trackConnection(tracker *status.Tracker, conn mqtt.ConnectionStatus) func() {
	return func() { tracker.SetMQTTConnected(conn.IsConnected()) }
}

// controller is the wired chamber, optional sequencer and scheduler.
type controller struct {
	chamber  *chamber.Chamber
	dryer    *dryer.Dryer
	sched    *scheduler.Scheduler
	clock    scheduler.Clock
	observer logic.Observer
	metrics  *metrics.Metrics
	refresh  time.Duration
	log      logrus.FieldLogger

	// onCheck runs before every safety check.
	onCheck func()
}

func newController(cfg *config.Config, o options, hw *hardware, clock scheduler.Clock, observer logic.Observer, m *metrics.Metrics, log logrus.FieldLogger) (*controller, error) {
	if err := checkProgram(o.program); err != nil {
		return nil, err
	}
	if o.refresh <= 0 {
		return nil, fmt.Errorf("refresh rate must be positive, got %v", o.refresh)
	}

	hyg := sensor.NewHygrometer(hw.hygrometer, clock, log.WithField("component", "hygrometer"))
	heater := thermostat.New(hw.heater, hyg, hw.platform, thermostat.Limits{
		Platform: cfg.PlatformMaxTemperature,
		Device:   cfg.UnsafeTemperature,
	}, cfg.Controls.HeaterHysteresis, log.WithField("component", "thermostat"))
	recirc, err := dutycycle.New(hw.recirculation,
		cfg.Controls.RecirculationCyclePercent,
		config.Seconds(cfg.Controls.RecirculationCyclePeriodS),
		log.WithField("component", "recirculation"))
	if err != nil {
		return nil, fmt.Errorf("recirculation: %w", err)
	}

	ch := chamber.New(chamber.Parts{
		Heater:        heater,
		Recirculation: recirc,
		Exhaust:       hw.exhaust,
		LED:           hw.led,
		Hygrometer:    hyg,
		Platform:      hw.platform,
		Halter:        hw.halter,
	}, chamber.Settings{
		UnsafeTemperature: cfg.UnsafeTemperature,
		TargetTemperature: cfg.PID.DehumidifyTemperature,
	},
		chamber.WithObserver(observer),
		chamber.WithLogger(log.WithField("component", "chamber")),
		chamber.WithClock(clock),
	)

	c := &controller{
		chamber:  ch,
		clock:    clock,
		observer: observer,
		metrics:  m,
		refresh:  o.refresh,
		log:      log,
	}

	handler := scheduler.ErrorHandler(ch.HandleError)
	if o.program != programExercise {
		c.dryer = dryer.New(dryerSettings(cfg), ch, hyg, clock, observer, log.WithField("component", "dryer"))
		handler = c.dryer.HandleError
	}

	c.sched = scheduler.New(
		scheduler.WithClock(clock),
		scheduler.WithErrorHandler(c.countErrors(handler)),
		scheduler.WithCleanup(ch.Shutdown),
		scheduler.WithLogger(log.WithField("component", "scheduler")),
	)

	ch.Register(c.sched, o.refresh)
	switch o.program {
	case programDry:
		c.dryer.Register(c.sched)
	case programHold:
		c.dryer.RegisterHold(c.sched)
	case programExercise:
		c.sched.Spawn("exercise", ch.Exercise)
	}
	return c, nil
}

func dryerSettings(cfg *config.Config) dryer.Settings {
	ctl := cfg.Controls
	return dryer.Settings{
		TargetHumidity:      cfg.PID.TargetHumidity,
		TargetTemperature:   cfg.PID.DehumidifyTemperature,
		Timeout:             config.Seconds(ctl.TimeoutS),
		SampleRate:          ctl.SampleRate,
		ExhaustDuration:     config.Seconds(ctl.ExhaustDurationS),
		SensorInitialWait:   config.Milliseconds(ctl.SensorInitialWaitMS),
		SensorSettle:        config.Seconds(ctl.SensorSettleDurationS),
		TotalMeasurement:    config.Seconds(ctl.TotalMeasurementDurationS),
		MeasurementInterval: config.Seconds(ctl.MeasurementIntervalS),
		SlopeThreshold:      ctl.SlopeThreshold,
		AbsorbTimeout:       dryer.DefaultAbsorbTimeout,
	}
}

// countErrors wraps next so every task error is counted and every fatal one
// is reported as a fault event.
func (c *controller) countErrors(next scheduler.ErrorHandler) scheduler.ErrorHandler {
	return func(task string, err error) bool {
		handled := next(task, err)
		if c.metrics != nil {
			c.metrics.TaskError(task, handled)
		}
		if !handled {
			c.observer.OnEvent(logic.Event{
				Timestamp: c.clock.Now(),
				Type:      logic.EventTaskFault,
				Mode:      c.chamber.Mode(),
				Reason:    fmt.Sprintf("%s: %v", task, err),
			})
		}
		return handled
	}
}

func (c *controller) check() error {
	if c.onCheck != nil {
		c.onCheck()
	}
	return c.chamber.Check()
}

// run puts the chamber in Starting and runs every task until cancellation
// or a fatal error.
func (c *controller) run(ctx context.Context) error {
	c.chamber.Reset()
	return c.sched.Run(ctx, c.refresh, c.check)
}
