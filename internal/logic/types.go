// Package logic contains pure business logic for the drying chamber.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time or Ticks parameters.
package logic

import "time"

// Mode is the chamber's operating mode. It is both a control state and the
// key for the status indicator pattern.
type Mode int

const (
	ModeError         Mode = -1
	ModeUnknown       Mode = 0
	ModeStarting      Mode = 1
	ModeRunning       Mode = 10
	ModeHeating       Mode = 11
	ModeExhausting    Mode = 12
	ModeTargetReached Mode = 13
)

var modeNames = map[Mode]string{
	ModeError:         "ERROR",
	ModeUnknown:       "UNKNOWN",
	ModeStarting:      "STARTING",
	ModeRunning:       "RUNNING",
	ModeHeating:       "HEATING",
	ModeExhausting:    "EXHAUSTING",
	ModeTargetReached: "TARGET_REACHED",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText renders the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Phase is the drying sequencer's current step.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseWarmUp  Phase = "WARM_UP"
	PhasePreheat Phase = "PREHEAT"
	PhaseSettle  Phase = "SETTLE"
	PhaseAbsorb  Phase = "ABSORB"
	PhaseVent    Phase = "VENT"
	PhaseHold    Phase = "HOLD"
	PhaseFailed  Phase = "FAILED"
)

// EventType represents a chamber or sequencer event.
type EventType string

const (
	EventModeChanged  EventType = "MODE_CHANGED"
	EventPhaseChanged EventType = "PHASE_CHANGED"
	EventPanic        EventType = "PANIC"
	EventTaskFault    EventType = "TASK_FAULT"
)

// Event is a state transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Mode      Mode
	Phase     Phase
	// Reason is set for panics and task faults.
	Reason string
}

// Telemetry is a point-in-time set of readings and actuator states.
// Temperature and Humidity are only meaningful when the matching Has flag is set.
type Telemetry struct {
	Timestamp           time.Time
	Temperature         float64
	HasTemperature      bool
	Humidity            float64
	HasHumidity         bool
	PlatformTemperature float64
	HasPlatform         bool
	Setpoint            float64
	HasSetpoint         bool
	HeaterOn            bool
	Recirculation       string
	ExhaustOn           bool
	Mode                Mode
}

// Counts tracks the number of notable events since startup.
type Counts struct {
	Vents       int
	Absorptions int
	Panics      int
	Faults      int
}

// Observer receives events and telemetry from the control loop.
// Implementations must not block: they are called from scheduler tasks.
type Observer interface {
	OnEvent(e Event)
	OnTelemetry(t Telemetry)
}

// Observers fans out to every member.
type Observers []Observer

// OnEvent forwards e to every observer.
func (o Observers) OnEvent(e Event) {
	for _, ob := range o {
		ob.OnEvent(e)
	}
}

// OnTelemetry forwards t to every observer.
func (o Observers) OnTelemetry(t Telemetry) {
	for _, ob := range o {
		ob.OnTelemetry(t)
	}
}

// Discard is an Observer that ignores everything.
var Discard Observer = Observers(nil)
