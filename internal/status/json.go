package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	RunID         string        `json:"run_id"`
	Mode          string        `json:"mode"`
	Phase         string        `json:"phase"`
	Panicked      bool          `json:"panicked"`
	LastFault     string        `json:"last_fault,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Readings      *ReadingsJSON `json:"readings,omitempty"`
	Counts        CountsJSON    `json:"event_counts"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ReadingsJSON is the latest telemetry. Missing readings are null.
type ReadingsJSON struct {
	Timestamp     string   `json:"timestamp"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	Platform      *float64 `json:"platform_temperature"`
	Setpoint      *float64 `json:"setpoint"`
	Heater        bool     `json:"heater"`
	Recirculation string   `json:"recirculation"`
	Exhaust       bool     `json:"exhaust"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Vents       int `json:"vents"`
	Absorptions int `json:"absorptions"`
	Panics      int `json:"panics"`
	Faults      int `json:"faults"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode              string  `json:"mode"`
	RefreshMs         int64   `json:"refresh_ms"`
	HeartbeatMs       int64   `json:"heartbeat_ms"`
	Broker            string  `json:"broker"`
	HTTPPort          string  `json:"http_port"`
	TargetTemperature float64 `json:"target_temperature"`
	TargetHumidity    float64 `json:"target_humidity"`
	UnsafeTemperature float64 `json:"unsafe_temperature"`
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func buildInner(snap Snapshot) StatusInner {
	phase := string(snap.Phase)
	if phase == "" {
		phase = "IDLE"
	}

	inner := StatusInner{
		RunID:         snap.RunID,
		Mode:          snap.Mode.String(),
		Phase:         phase,
		Panicked:      snap.Panicked,
		LastFault:     snap.LastFault,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Vents:       snap.Counts.Vents,
			Absorptions: snap.Counts.Absorptions,
			Panics:      snap.Counts.Panics,
			Faults:      snap.Counts.Faults,
		},
		Config: ConfigJSON{
			Mode:              snap.Config.Mode,
			RefreshMs:         snap.Config.RefreshMs,
			HeartbeatMs:       snap.Config.HeartbeatMs,
			Broker:            snap.Config.Broker,
			HTTPPort:          snap.Config.HTTPPort,
			TargetTemperature: snap.Config.TargetTemperature,
			TargetHumidity:    snap.Config.TargetHumidity,
			UnsafeTemperature: snap.Config.UnsafeTemperature,
		},
	}

	if snap.HasTelemetry {
		tel := snap.Telemetry
		inner.Readings = &ReadingsJSON{
			Timestamp:     tel.Timestamp.UTC().Format(time.RFC3339),
			Temperature:   optional(tel.Temperature, tel.HasTemperature),
			Humidity:      optional(tel.Humidity, tel.HasHumidity),
			Platform:      optional(tel.PlatformTemperature, tel.HasPlatform),
			Setpoint:      optional(tel.Setpoint, tel.HasSetpoint),
			Heater:        tel.HeaterOn,
			Recirculation: tel.Recirculation,
			Exhaust:       tel.ExhaustOn,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
