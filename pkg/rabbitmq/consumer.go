package rabbitmq

import (
	"context"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one delivery; topic is the concrete topic of the message.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and blocks until ctx is done.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(h Handler)
}

// QoSFor gives telemetry at-least-once delivery; everything else is QoS 0.
// Redeliveries are filtered by the consumer side (see pkg/dedup).
func QoSFor(topic string) byte {
	if strings.HasPrefix(strings.TrimSpace(topic), "telemetry/") {
		return 1
	}
	return 0
}

type Consumer struct {
	client  mqtt.Client
	topics  []string
	handler Handler
}

func NewConsumer(client mqtt.Client, topics []string, h Handler) *Consumer {
	return &Consumer{client: client, topics: topics, handler: h}
}

func (c *Consumer) SetHandler(h Handler) { c.handler = h }

// Deliver runs the handler on one message and logs its failure.
func (c *Consumer) Deliver(_ mqtt.Client, msg mqtt.Message) {
	if c.handler == nil {
		log.Printf("mqtt: no handler set, dropping message on %s", msg.Topic())
		return
	}
	if err := c.handler(msg.Topic(), msg); err != nil {
		log.Printf("mqtt: error handling message on %s: %v", msg.Topic(), err)
	}
}

// ConsumeMessage subscribes to every topic, then blocks until ctx is done
// and unsubscribes. A failed subscription is returned immediately.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	for _, topic := range c.topics {
		token := c.client.Subscribe(topic, QoSFor(topic), c.Deliver)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		log.Printf("mqtt: subscribed to %s", topic)
	}

	<-ctx.Done()

	if c.client.IsConnected() {
		c.client.Unsubscribe(c.topics...).Wait()
	}
	return nil
}
