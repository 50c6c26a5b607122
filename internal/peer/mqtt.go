package peer

import (
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Topic suffixes under the configured prefix.
const (
	TopicRx  = "/peer/rx"  // peer -> controller command frames
	TopicReq = "/peer/req" // peer asks for a status byte
	TopicTx  = "/peer/tx"  // controller -> peer status byte
)

// publisher is the part of paho.Client used for replies.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTTTransport carries peer frames over MQTT topics.
type MQTTTransport struct {
	handler *Handler
	prefix  string
	log     zerolog.Logger

	pub atomic.Pointer[pubBox] // set on connect, read from callbacks
}

type pubBox struct{ p publisher }

// NewMQTTTransport creates a transport for handler under prefix.
func NewMQTTTransport(prefix string, handler *Handler, logger zerolog.Logger) *MQTTTransport {
	return &MQTTTransport{
		handler: handler,
		prefix:  prefix,
		log:     logger.With().Str("component", "peer-mqtt").Logger(),
	}
}

// OnConnect subscribes to the peer topics. It is installed as the paho
// OnConnect handler so subscriptions are restored after every reconnect.
func (t *MQTTTransport) OnConnect(c paho.Client) {
	t.pub.Store(&pubBox{c})
	filters := map[string]byte{
		t.prefix + TopicRx:  1,
		t.prefix + TopicReq: 0,
	}
	token := c.SubscribeMultiple(filters, t.dispatch)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			t.log.Warn().Msg("subscribe timeout")
			return
		}
		if err := token.Error(); err != nil {
			t.log.Error().Err(err).Msg("subscribe failed")
			return
		}
		t.log.Info().Str("prefix", t.prefix).Msg("peer topics subscribed")
	}()
}

func (t *MQTTTransport) dispatch(_ paho.Client, msg paho.Message) {
	switch msg.Topic() {
	case t.prefix + TopicRx:
		t.handler.OnReceive(msg.Payload())
	case t.prefix + TopicReq:
		t.reply(t.handler.OnRequest())
	default:
		t.log.Debug().Str("topic", msg.Topic()).Msg("unexpected topic")
	}
}

// reply publishes without waiting; the callback goroutine must not block.
func (t *MQTTTransport) reply(b byte) {
	box := t.pub.Load()
	if box == nil {
		return
	}
	box.p.Publish(t.prefix+TopicTx, 0, false, []byte{b})
}
