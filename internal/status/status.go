// Package status provides a thread-safe view of the drybox daemon's state.
// It is fed by the control loop as an observer and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/drybox/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Mode              string // dry, hold or exercise
	RefreshMs         int64
	HeartbeatMs       int64
	Broker            string
	HTTPPort          string
	TargetTemperature float64
	TargetHumidity    float64
	UnsafeTemperature float64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	RunID         string
	Mode          logic.Mode
	Phase         logic.Phase
	Panicked      bool
	LastFault     string
	Telemetry     logic.Telemetry
	HasTelemetry  bool
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
// It implements logic.Observer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(runID string, startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			RunID:     runID,
			Mode:      logic.ModeUnknown,
			Phase:     logic.PhaseIdle,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// OnEvent records a mode, phase, panic or fault event.
func (t *Tracker) OnEvent(e logic.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case logic.EventModeChanged:
		t.snap.Mode = e.Mode
	case logic.EventPhaseChanged:
		t.snap.Phase = e.Phase
		switch e.Phase {
		case logic.PhaseVent:
			t.snap.Counts.Vents++
		case logic.PhaseAbsorb:
			t.snap.Counts.Absorptions++
		}
	case logic.EventPanic:
		t.snap.Mode = logic.ModeError
		t.snap.Panicked = true
		t.snap.Counts.Panics++
	case logic.EventTaskFault:
		t.snap.LastFault = e.Reason
		t.snap.Counts.Faults++
	}
}

// OnTelemetry records the latest readings.
func (t *Tracker) OnTelemetry(tel logic.Telemetry) {
	t.mu.Lock()
	t.snap.Telemetry = tel
	t.snap.HasTelemetry = true
	t.snap.Mode = tel.Mode
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
