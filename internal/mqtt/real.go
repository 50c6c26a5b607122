package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/payload-power/internal/logic"
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string // defaults to DefaultClientID()
	Prefix     string // defaults to DefaultPrefix
	BufferSize int    // defaults to DefaultBufferSize

	// OnConnect runs after every (re)connect, once buffered messages are
	// flushed. Other components sharing the client subscribe here.
	OnConnect func(paho.Client)

	Logger zerolog.Logger
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. It never blocks the
// caller on the network: while disconnected messages are held in a ring
// buffer and replayed on reconnect.
type RealPublisher struct {
	client    client
	onConnect func(paho.Client)
	log       zerolog.Logger

	topicEvents string
	topicSystem string

	mu          sync.Mutex
	connected   bool
	everOnline  bool
	buffer      *ringBuffer
	connectedAt time.Time
}

// NewRealPublisher creates a publisher and starts connecting in the
// background. A broker that is down at boot is not an error.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address required")
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := newPublisher(opts)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	copts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topicSystem, string(will), 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(p.handleConnectionLost)

	c := paho.NewClient(copts)
	p.client = c

	token := c.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Error().Err(err).Str("broker", opts.Broker).Msg("connect failed")
		}
	}()

	p.log.Info().Str("broker", opts.Broker).Str("client_id", opts.ClientID).Msg("connecting")
	return p, nil
}

func newPublisher(opts Options) *RealPublisher {
	return &RealPublisher{
		onConnect:   opts.OnConnect,
		log:         opts.Logger.With().Str("component", "mqtt").Logger(),
		topicEvents: opts.Prefix + TopicEvents,
		topicSystem: opts.Prefix + TopicSystem,
		buffer:      newRingBuffer(opts.BufferSize),
	}
}

// Publish sends a relay transition to the events topic.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0, not retained
	p.send(bufferedMsg{topic: p.topicEvents, payload: payload})
	return nil
}

// PublishSystem sends a system lifecycle event to the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 so lifecycle events survive a flaky link
	p.send(bufferedMsg{topic: p.topicSystem, payload: payload, qos: 1, retained: event.Retained})
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		if p.buffer.push(msg) {
			p.log.Warn().Int("capacity", len(p.buffer.buf)).Msg("offline buffer full, dropping oldest")
		}
		return
	}
	p.publish(msg)
}

// publish hands msg to the client and checks the result off the caller's
// goroutine. Caller must hold mu.
func (p *RealPublisher) publish(msg bufferedMsg) {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			p.log.Warn().Str("topic", msg.topic).Msg("publish timeout")
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", msg.topic).Msg("publish failed")
		}
	}()
}

func (p *RealPublisher) handleConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everOnline
	p.connected = true
	p.everOnline = true
	p.connectedAt = time.Now()
	pending := p.buffer.drainAll()
	for _, msg := range pending {
		p.publish(msg)
	}
	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: p.connectedAt, Event: "RECONNECTED"})
		if err == nil {
			p.publish(bufferedMsg{topic: p.topicSystem, payload: payload, qos: 1})
		}
	}
	p.mu.Unlock()

	p.log.Info().Int("replayed", len(pending)).Bool("reconnect", reconnect).Msg("connected")
	if p.onConnect != nil {
		p.onConnect(c)
	}
}

func (p *RealPublisher) handleConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warn().Err(err).Msg("connection lost")
}
