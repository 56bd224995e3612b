package rabbitmq

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher sends one message to a topic.
type IPublisher interface {
	Publish(topic string, v any) error
}

// Publisher JSON-encodes values onto the shared MQTT client.
type Publisher struct {
	client mqtt.Client
}

func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends v (raw []byte and string are sent as is, anything else as JSON).
func (p *Publisher) Publish(topic string, v any) error {
	var body []byte
	switch m := v.(type) {
	case []byte:
		body = m
	case string:
		body = []byte(m)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", topic, err)
		}
		body = b
	}

	token := p.client.Publish(topic, QoSFor(topic), false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}
