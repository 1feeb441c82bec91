package mqtt

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/logic"
)

// Reporter is a logic.Observer that forwards every event and at most one
// telemetry sample per heartbeat to a Publisher. Publish errors are logged
// and otherwise ignored: losing the broker must never stop the chamber.
type Reporter struct {
	pub       Publisher
	heartbeat time.Duration
	log       logrus.FieldLogger

	last time.Time
	sent bool
}

// NewReporter creates a Reporter. A heartbeat <= 0 forwards every sample.
func NewReporter(pub Publisher, heartbeat time.Duration, log logrus.FieldLogger) *Reporter {
	return &Reporter{pub: pub, heartbeat: heartbeat, log: log}
}

// OnEvent publishes e.
func (r *Reporter) OnEvent(e logic.Event) {
	if err := r.pub.Publish(e); err != nil {
		r.log.Warnf("mqtt: publish %s: %v", e.Type, err)
	}
}

// OnTelemetry publishes t if a heartbeat has passed since the last sample.
func (r *Reporter) OnTelemetry(t logic.Telemetry) {
	if r.sent && t.Timestamp.Sub(r.last) < r.heartbeat {
		return
	}
	r.last = t.Timestamp
	r.sent = true
	if err := r.pub.PublishTelemetry(t); err != nil {
		r.log.Warnf("mqtt: publish telemetry: %v", err)
	}
}
