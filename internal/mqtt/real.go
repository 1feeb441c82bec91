package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/drybox/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 256
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	RunID    string
	Log      logrus.FieldLogger
}

// RealPublisher publishes to an actual MQTT broker.
//
// Publishing never blocks the caller: messages are handed to the client and
// the delivery token is awaited in the background. While the connection is
// down, messages are held in an outbox and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	runID  string
	log    logrus.FieldLogger

	mu     sync.Mutex
	buffer *outbox
	wg     sync.WaitGroup
}

// NewRealPublisher creates a publisher connected to the given broker.
// The broker's last will marks the device OFFLINE on TopicSystem.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.ClientID == "" {
		o.ClientID = "drybox"
	}
	p := &RealPublisher{
		runID:  o.RunID,
		log:    o.Log,
		buffer: newOutbox(bufferCapacity, o.Log),
	}

	will, err := FormatSystemPayload(o.RunID, SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warnf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// ConnectRetry keeps trying in the background; messages buffer meanwhile.
		p.log.Warnf("mqtt: broker %s not reachable yet, buffering", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends a chamber event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(p.runID, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	p.send(bufferedMsg{topic: TopicEvents, payload: payload, qos: 1})
	return nil
}

// PublishTelemetry sends readings to the MQTT broker.
func (p *RealPublisher) PublishTelemetry(t logic.Telemetry) error {
	payload, err := FormatTelemetryPayload(p.runID, t)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	// QoS 0 (at-most-once): the next sample supersedes a lost one
	p.send(bufferedMsg{topic: TopicTelemetry, payload: payload})
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(p.runID, event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.client.IsConnectionOpen() {
		p.buffer.push(msg)
		return
	}
	p.deliver(msg)
}

// deliver must be called with mu held.
func (p *RealPublisher) deliver(msg bufferedMsg) {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warnf("mqtt: publish to %s timed out", msg.topic)
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warnf("mqtt: publish to %s: %v", msg.topic, err)
		}
	}()
}

func (p *RealPublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := p.buffer.drain()
	if len(pending) > 0 {
		p.log.Infof("mqtt: connected, replaying %d buffered messages", len(pending))
	}
	for _, msg := range pending {
		p.deliver(msg)
	}
}

// Close waits for in-flight publishes and disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.wg.Wait()
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
