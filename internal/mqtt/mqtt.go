// Package mqtt publishes chamber events, telemetry and lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/drybox/internal/logic"
)

// Topics.
const (
	TopicEvents    = "drybox/events"
	TopicTelemetry = "drybox/telemetry"
	TopicSystem    = "drybox/system"
)

// Publisher publishes to MQTT.
type Publisher interface {
	// Publish sends a mode, phase or panic event.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishTelemetry sends a set of readings.
	PublishTelemetry(t logic.Telemetry) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (STARTUP, SHUTDOWN, OFFLINE).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // e.g. "SIGTERM", "PANIC" (shutdown only)
	Retained  bool

	// RawPayload, if set, is published verbatim instead of the formatted event.
	RawPayload []byte
}

// EventPayload is the JSON body on TopicEvents.
type EventPayload struct {
	Drybox EventBody `json:"drybox"`
}

// EventBody contains the event details.
type EventBody struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Event     string `json:"event"`
	Mode      string `json:"mode,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// FormatPayload creates the JSON payload for an event.
// Phase events come from the sequencer and carry no mode.
func FormatPayload(runID string, event logic.Event) ([]byte, error) {
	var mode string
	if event.Type != logic.EventPhaseChanged {
		mode = event.Mode.String()
	}
	return json.Marshal(EventPayload{
		Drybox: EventBody{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			RunID:     runID,
			Event:     string(event.Type),
			Mode:      mode,
			Phase:     string(event.Phase),
			Reason:    event.Reason,
		},
	})
}

// TelemetryPayload is the JSON body on TopicTelemetry.
type TelemetryPayload struct {
	Drybox TelemetryBody `json:"drybox"`
}

// TelemetryBody contains the readings. Missing readings are null.
type TelemetryBody struct {
	Timestamp     string   `json:"timestamp"`
	RunID         string   `json:"run_id"`
	Mode          string   `json:"mode"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	Platform      *float64 `json:"platform_temperature"`
	Setpoint      *float64 `json:"setpoint"`
	Heater        bool     `json:"heater"`
	Recirculation string   `json:"recirculation"`
	Exhaust       bool     `json:"exhaust"`
}

// FormatTelemetryPayload creates the JSON payload for a telemetry sample.
func FormatTelemetryPayload(runID string, t logic.Telemetry) ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Drybox: TelemetryBody{
			Timestamp:     t.Timestamp.UTC().Format(time.RFC3339),
			RunID:         runID,
			Mode:          t.Mode.String(),
			Temperature:   optional(t.Temperature, t.HasTemperature),
			Humidity:      optional(t.Humidity, t.HasHumidity),
			Platform:      optional(t.PlatformTemperature, t.HasPlatform),
			Setpoint:      optional(t.Setpoint, t.HasSetpoint),
			Heater:        t.HeaterOn,
			Recirculation: t.Recirculation,
			Exhaust:       t.ExhaustOn,
		},
	})
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

// SystemPayload is the JSON body on TopicSystem.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(runID string, event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			RunID:     runID,
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
