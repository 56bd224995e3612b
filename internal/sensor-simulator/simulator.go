package sensor_simulator

import (
	"context"
	"log"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model/messages"
	"github.com/LeonardoBeccarini/iot_query/pkg/rabbitmq"
)

// Simulator publishes one telemetry message per board every interval on
// "<prefix>/<board>".
type Simulator struct {
	boards     []*BoardGenerator
	publisher  rabbitmq.IPublisher
	prefix     string
	boardField string
	now        func() time.Time
}

func NewSimulator(plans []BoardPlan, pub rabbitmq.IPublisher, prefix, boardField string) *Simulator {
	s := &Simulator{publisher: pub, prefix: prefix, boardField: boardField, now: time.Now}
	for i, p := range plans {
		s.boards = append(s.boards, NewBoardGenerator(p, time.Now().UnixNano()+int64(i)))
	}
	return s
}

// Tick publishes the current reading of every board.
func (s *Simulator) Tick() {
	now := s.now().UTC()
	for _, b := range s.boards {
		msg := messages.Telemetry{Time: now, Payload: b.Next(now, s.boardField)}
		topic := s.prefix + "/" + b.Board()
		if err := s.publisher.Publish(topic, msg); err != nil {
			log.Printf("sensor-sim: publish error on %s: %v", topic, err)
			continue
		}
		log.Printf("sensor-sim: pub %s %v", topic, msg.Payload)
	}
}

// Start ticks until ctx is done.
func (s *Simulator) Start(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick()
		}
	}
}
