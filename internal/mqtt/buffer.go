package mqtt

import "github.com/sirupsen/logrus"

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// disposable reports whether msg may be dropped first when the outbox is
// full. QoS 0 telemetry is superseded by the next sample; events and system
// messages are not.
func (m bufferedMsg) disposable() bool {
	return m.qos == 0
}

// outbox holds messages while the broker is unreachable, oldest first.
// When full, the oldest telemetry sample goes before any event or system
// message. Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	log      logrus.FieldLogger

	// drops since the last drain, by kind
	droppedTelemetry int
	droppedEvents    int
}

func newOutbox(capacity int, log logrus.FieldLogger) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		log:      log,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if len(o.msgs) < o.capacity {
		o.msgs = append(o.msgs, msg)
		return
	}

	victim := o.oldestDisposable()
	switch {
	case victim >= 0:
	case msg.disposable():
		// nothing but events queued; the new sample is the one to lose
		o.drop(msg)
		return
	default:
		victim = 0
	}
	o.drop(o.msgs[victim])
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) oldestDisposable() int {
	for i, m := range o.msgs {
		if m.disposable() {
			return i
		}
	}
	return -1
}

func (o *outbox) drop(msg bufferedMsg) {
	if msg.disposable() {
		if o.droppedTelemetry == 0 {
			o.log.Warnf("mqtt: outbox full (%d messages), dropping oldest telemetry", o.capacity)
		}
		o.droppedTelemetry++
		return
	}
	if o.droppedEvents == 0 {
		o.log.Errorf("mqtt: outbox full of events (%d messages), dropping %s message", o.capacity, msg.topic)
	}
	o.droppedEvents++
}

// drain empties the outbox and returns its messages in publish order.
func (o *outbox) drain() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	if o.droppedTelemetry+o.droppedEvents > 0 {
		o.log.Warnf("mqtt: lost %d telemetry and %d event messages while offline", o.droppedTelemetry, o.droppedEvents)
	}
	result := o.msgs
	o.msgs = make([]bufferedMsg, 0, o.capacity)
	o.droppedTelemetry, o.droppedEvents = 0, 0
	return result
}

func (o *outbox) len() int {
	return len(o.msgs)
}
