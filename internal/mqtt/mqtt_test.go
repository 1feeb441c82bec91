package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sweeney/drybox/internal/logic"
)

const testRunID = "5f0c6a4e-8a57-4a1b-9f4c-3e1f2d9b7c10"

func TestFormatPayload(t *testing.T) {
	event := logic.Event{
		Timestamp: time.Date(2026, 4, 1, 9, 15, 30, 0, time.UTC),
		Type:      logic.EventModeChanged,
		Mode:      logic.ModeHeating,
	}

	payload, err := FormatPayload(testRunID, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed EventPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Drybox.Timestamp != "2026-04-01T09:15:30Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Drybox.Timestamp)
	}
	if parsed.Drybox.RunID != testRunID {
		t.Errorf("unexpected run id: %s", parsed.Drybox.RunID)
	}
	if parsed.Drybox.Event != "MODE_CHANGED" {
		t.Errorf("unexpected event: %s", parsed.Drybox.Event)
	}
	if parsed.Drybox.Mode != "HEATING" {
		t.Errorf("unexpected mode: %s", parsed.Drybox.Mode)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	event := logic.Event{
		Timestamp: time.Date(2026, 4, 1, 9, 15, 30, 0, time.UTC),
		Type:      logic.EventPanic,
		Mode:      logic.ModeError,
		Reason:    "chamber temperature 72.0 exceeds 70.0",
	}

	payload, err := FormatPayload("r1", event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"drybox":{"timestamp":"2026-04-01T09:15:30Z","run_id":"r1","event":"PANIC","mode":"ERROR","reason":"chamber temperature 72.0 exceeds 70.0"}}`
	if string(payload) != want {
		t.Errorf("payload mismatch:\n got: %s\nwant: %s", payload, want)
	}
}

func TestFormatPayloadEventTypes(t *testing.T) {
	tests := []struct {
		event     logic.Event
		wantEvent string
		wantMode  string
		wantPhase string
	}{
		{logic.Event{Type: logic.EventModeChanged, Mode: logic.ModeExhausting}, "MODE_CHANGED", "EXHAUSTING", ""},
		{logic.Event{Type: logic.EventPhaseChanged, Phase: logic.PhaseAbsorb}, "PHASE_CHANGED", "", "ABSORB"},
		{logic.Event{Type: logic.EventPanic, Mode: logic.ModeError}, "PANIC", "ERROR", ""},
		{logic.Event{Type: logic.EventTaskFault, Mode: logic.ModeRunning}, "TASK_FAULT", "RUNNING", ""},
	}

	for _, tt := range tests {
		t.Run(tt.wantEvent, func(t *testing.T) {
			tt.event.Timestamp = time.Now()
			payload, err := FormatPayload(testRunID, tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var parsed EventPayload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}

			if parsed.Drybox.Event != tt.wantEvent {
				t.Errorf("event: got %s, want %s", parsed.Drybox.Event, tt.wantEvent)
			}
			if parsed.Drybox.Mode != tt.wantMode {
				t.Errorf("mode: got %s, want %s", parsed.Drybox.Mode, tt.wantMode)
			}
			if parsed.Drybox.Phase != tt.wantPhase {
				t.Errorf("phase: got %s, want %s", parsed.Drybox.Phase, tt.wantPhase)
			}
		})
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	event := logic.Event{
		Timestamp: time.Date(2026, 4, 1, 11, 0, 0, 0, loc),
		Type:      logic.EventModeChanged,
		Mode:      logic.ModeRunning,
	}

	payload, err := FormatPayload(testRunID, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed EventPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Drybox.Timestamp != "2026-04-01T09:00:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Drybox.Timestamp)
	}
}

func TestFormatTelemetryPayload(t *testing.T) {
	tel := logic.Telemetry{
		Timestamp:           time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Temperature:         49.5,
		HasTemperature:      true,
		Humidity:            22.25,
		HasHumidity:         true,
		PlatformTemperature: 41,
		HasPlatform:         true,
		Setpoint:            50,
		HasSetpoint:         true,
		HeaterOn:            true,
		Recirculation:       "cycling",
		Mode:                logic.ModeTargetReached,
	}

	payload, err := FormatTelemetryPayload("r1", tel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"drybox":{"timestamp":"2026-04-01T09:00:00Z","run_id":"r1","mode":"TARGET_REACHED","temperature":49.5,"humidity":22.25,"platform_temperature":41,"setpoint":50,"heater":true,"recirculation":"cycling","exhaust":false}}`
	if string(payload) != want {
		t.Errorf("payload mismatch:\n got: %s\nwant: %s", payload, want)
	}
}

func TestFormatTelemetryPayloadMissingReadings(t *testing.T) {
	tel := logic.Telemetry{
		Timestamp:     time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Temperature:   99, // ignored without HasTemperature
		Recirculation: "off",
		ExhaustOn:     true,
		Mode:          logic.ModeExhausting,
	}

	payload, err := FormatTelemetryPayload("r1", tel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"drybox":{"timestamp":"2026-04-01T09:00:00Z","run_id":"r1","mode":"EXHAUSTING","temperature":null,"humidity":null,"platform_temperature":null,"setpoint":null,"heater":false,"recirculation":"off","exhaust":true}}`
	if string(payload) != want {
		t.Errorf("payload mismatch:\n got: %s\nwant: %s", payload, want)
	}
}

func TestTopics(t *testing.T) {
	if TopicEvents != "drybox/events" {
		t.Errorf("unexpected events topic: %s", TopicEvents)
	}
	if TopicTelemetry != "drybox/telemetry" {
		t.Errorf("unexpected telemetry topic: %s", TopicTelemetry)
	}
	if TopicSystem != "drybox/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestFormatSystemPayloadShutdownExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 4, 1, 18, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload("r1", event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"system":{"timestamp":"2026-04-01T18:30:00Z","run_id":"r1","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != want {
		t.Errorf("payload mismatch:\n got: %s\nwant: %s", payload, want)
	}
}

func TestFormatSystemPayloadShutdownReasons(t *testing.T) {
	for _, reason := range []string{"SIGINT", "SIGTERM", "PANIC", "FAULT"} {
		t.Run(reason, func(t *testing.T) {
			payload, err := FormatSystemPayload(testRunID, SystemEvent{
				Timestamp: time.Now(),
				Event:     "SHUTDOWN",
				Reason:    reason,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var parsed SystemPayload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.System.Reason != reason {
				t.Errorf("reason: got %s, want %s", parsed.System.Reason, reason)
			}
		})
	}
}

func TestFormatSystemPayloadStartup(t *testing.T) {
	payload, err := FormatSystemPayload("r1", SystemEvent{
		Timestamp: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Event:     "STARTUP",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"system":{"timestamp":"2026-04-01T09:00:00Z","run_id":"r1","event":"STARTUP"}}`
	if string(payload) != want {
		t.Errorf("payload mismatch:\n got: %s\nwant: %s", payload, want)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload("r1", SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload verbatim, got %s", payload)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	payload, err := FormatSystemPayload(testRunID, SystemEvent{
		Timestamp: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Event:     "OFFLINE",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "OFFLINE" {
		t.Errorf("event: got %s, want OFFLINE", parsed.System.Event)
	}
	if parsed.System.Reason != "" {
		t.Errorf("expected no reason, got %s", parsed.System.Reason)
	}
}

func TestFakePublisher(t *testing.T) {
	pub := NewFakePublisher()
	pub.RunID = "r1"

	event := logic.Event{Timestamp: time.Now(), Type: logic.EventModeChanged, Mode: logic.ModeHeating}
	if err := pub.Publish(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.Events))
	}
	if pub.Events[0].Mode != logic.ModeHeating {
		t.Errorf("unexpected mode: %v", pub.Events[0].Mode)
	}
	if len(pub.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(pub.Payloads))
	}

	var parsed EventPayload
	if err := json.Unmarshal(pub.Payloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Drybox.RunID != "r1" {
		t.Errorf("run id: got %s, want r1", parsed.Drybox.RunID)
	}
}

func TestFakePublisherError(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("connection lost")

	if err := pub.Publish(logic.Event{Type: logic.EventPanic}); err == nil {
		t.Error("expected error")
	}
	if err := pub.PublishTelemetry(logic.Telemetry{}); err == nil {
		t.Error("expected telemetry error")
	}
	if len(pub.Events) != 0 || len(pub.Telemetry) != 0 {
		t.Error("nothing should be recorded on error")
	}
}

func TestFakePublisherPublishSystemError(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishSystemError = errors.New("broker gone")

	if err := pub.PublishSystem(SystemEvent{Event: "SHUTDOWN"}); err == nil {
		t.Error("expected error")
	}
	if len(pub.SystemEvents) != 0 {
		t.Errorf("expected no system events, got %d", len(pub.SystemEvents))
	}
}

func TestFakePublisherRecordsRetainedFlag(t *testing.T) {
	pub := NewFakePublisher()
	if err := pub.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.SystemEvents[0].Retained {
		t.Error("expected retained flag to be recorded")
	}
}

func TestFakePublisherReset(t *testing.T) {
	pub := NewFakePublisher()
	pub.Connected = true
	_ = pub.Publish(logic.Event{Type: logic.EventModeChanged})
	_ = pub.PublishTelemetry(logic.Telemetry{})
	_ = pub.PublishSystem(SystemEvent{Event: "STARTUP"})
	_ = pub.Close()

	pub.Reset()

	if len(pub.Events) != 0 || len(pub.Payloads) != 0 {
		t.Error("events not cleared")
	}
	if len(pub.Telemetry) != 0 || len(pub.TelemetryPayloads) != 0 {
		t.Error("telemetry not cleared")
	}
	if len(pub.SystemEvents) != 0 || len(pub.SystemPayloads) != 0 {
		t.Error("system events not cleared")
	}
	if pub.Closed || pub.IsConnected() {
		t.Error("flags not cleared")
	}

	// Reusable after reset
	if err := pub.Publish(logic.Event{Type: logic.EventPanic}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.Events) != 1 {
		t.Errorf("expected 1 event after reset, got %d", len(pub.Events))
	}
}

func TestFakePublisherPreservesEventOrder(t *testing.T) {
	pub := NewFakePublisher()
	phases := []logic.Phase{logic.PhaseWarmUp, logic.PhasePreheat, logic.PhaseSettle, logic.PhaseAbsorb}
	for _, p := range phases {
		_ = pub.Publish(logic.Event{Type: logic.EventPhaseChanged, Phase: p})
	}

	if len(pub.Events) != len(phases) {
		t.Fatalf("expected %d events, got %d", len(phases), len(pub.Events))
	}
	for i, p := range phases {
		if pub.Events[i].Phase != p {
			t.Errorf("event %d: got %s, want %s", i, pub.Events[i].Phase, p)
		}
	}
}

func TestReporterForwardsEvents(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := NewFakePublisher()
	r := NewReporter(pub, time.Minute, logger)

	r.OnEvent(logic.Event{Type: logic.EventModeChanged, Mode: logic.ModeHeating})
	r.OnEvent(logic.Event{Type: logic.EventModeChanged, Mode: logic.ModeTargetReached})

	if len(pub.Events) != 2 {
		t.Errorf("expected 2 events, got %d", len(pub.Events))
	}
}

func TestReporterThrottlesTelemetry(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := NewFakePublisher()
	r := NewReporter(pub, time.Minute, logger)

	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i <= 150; i++ {
		r.OnTelemetry(logic.Telemetry{Timestamp: start.Add(time.Duration(i) * time.Second)})
	}

	// samples at 0s, 60s and 120s
	if len(pub.Telemetry) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(pub.Telemetry))
	}
	if got := pub.Telemetry[2].Timestamp.Sub(start); got != 2*time.Minute {
		t.Errorf("third sample at %v, want 2m0s", got)
	}
}

func TestReporterWithoutHeartbeatForwardsEverything(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := NewFakePublisher()
	r := NewReporter(pub, 0, logger)

	now := time.Now()
	for i := 0; i < 5; i++ {
		r.OnTelemetry(logic.Telemetry{Timestamp: now})
	}
	if len(pub.Telemetry) != 5 {
		t.Errorf("expected 5 samples, got %d", len(pub.Telemetry))
	}
}

func TestReporterLogsPublishErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pub := NewFakePublisher()
	pub.PublishError = errors.New("connection lost")
	r := NewReporter(pub, 0, logger)

	r.OnEvent(logic.Event{Type: logic.EventPanic})
	r.OnTelemetry(logic.Telemetry{Timestamp: time.Now()})

	if len(hook.Entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(hook.Entries))
	}
}
