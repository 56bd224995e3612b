package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config of the MQTT connection (RabbitMQ with the MQTT plugin, or any
// MQTT 3.1.1 broker).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string // empty -> "<prefix>-<uuid>"
	Retries  int
}

// BrokerURL is the tcp:// address of the broker.
func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

func (c Config) clientOptions(prefix string) *mqtt.ClientOptions {
	id := c.ClientID
	if id == "" {
		id = prefix + "-" + uuid.NewString()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.BrokerURL())
	opts.SetUsername(c.User)
	opts.SetPassword(c.Password)
	opts.SetClientID(id)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	})
	return opts
}

// Connect dials the broker with exponential backoff and disconnects when
// ctx is done. prefix names the client when Config.ClientID is empty.
func Connect(ctx context.Context, cfg Config, prefix string) (mqtt.Client, error) {
	opts := cfg.clientOptions(prefix)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	retries := cfg.Retries
	if retries < 1 {
		retries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("mqtt: connect to %s failed: %v", cfg.BrokerURL(), token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}
	log.Printf("mqtt: connected to %s as %s", cfg.BrokerURL(), opts.ClientID)

	go func() {
		<-ctx.Done()
		Close(client)
	}()
	return client, nil
}

func Close(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Println("mqtt: connection closed")
	}
}
