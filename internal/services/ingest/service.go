package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/iot_query/internal/readings"
	"github.com/LeonardoBeccarini/iot_query/pkg/dedup"
	"github.com/LeonardoBeccarini/iot_query/pkg/rabbitmq"
)

// Service bridges telemetry messages into the reading store.
type Service struct {
	sink         readings.Appender
	dedup        *dedup.Deduper
	boardField   string
	writeTimeout time.Duration
	now          func() time.Time

	messages *prometheus.CounterVec

	mu      sync.RWMutex
	lastErr time.Time
}

func NewService(sink readings.Appender, d *dedup.Deduper, boardField string, writeTimeout time.Duration, reg prometheus.Registerer) *Service {
	s := &Service{
		sink:         sink,
		dedup:        d,
		boardField:   boardField,
		writeTimeout: writeTimeout,
		now:          time.Now,
		lastErr:      time.Now().Add(-24 * time.Hour), // di default "lontano nel tempo"
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iot_ingest",
			Name:      "messages_total",
			Help:      "Telemetry messages by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(s.messages)
	}
	return s
}

// Handle stores one message. Undecodable messages are dropped (returning
// nil keeps the stream going); store failures are returned and the message
// is forgotten by the dedup filter so a redelivery is written again.
func (s *Service) Handle(topic string, msg mqtt.Message) error {
	key := dedup.Key(msg.Payload())
	if s.dedup != nil && !s.dedup.ShouldProcess(key) {
		s.messages.WithLabelValues("duplicate").Inc()
		return nil
	}

	doc, err := Decode(topic, msg.Payload(), s.boardField, s.now())
	if err != nil {
		s.messages.WithLabelValues("invalid").Inc()
		log.Printf("ingest-svc: %v", err)
		return nil
	}

	ctx := context.Background()
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	if err := s.sink.Append(ctx, doc); err != nil {
		if s.dedup != nil {
			s.dedup.Forget(key)
		}
		s.markError()
		s.messages.WithLabelValues("failed").Inc()
		return fmt.Errorf("store %s reading: %w", doc.Payload[s.boardField], err)
	}
	s.messages.WithLabelValues("stored").Inc()
	return nil
}

// Start wires the handler into the consumer and blocks until ctx is done.
func (s *Service) Start(ctx context.Context, consumer rabbitmq.IConsumer) error {
	consumer.SetHandler(s.Handle)
	return consumer.ConsumeMessage(ctx)
}

func (s *Service) markError() {
	s.mu.Lock()
	s.lastErr = time.Now()
	s.mu.Unlock()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (s *Service) LastErrorAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastErr)
}
