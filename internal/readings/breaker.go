package readings

import (
	"context"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSource guards a Source with a circuit breaker: after `failures`
// consecutive fetch errors it fails fast for `openFor`, then lets one probe through.
type BreakerSource struct {
	next Source
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerSource(name string, next Source, failures int, openFor time.Duration) *BreakerSource {
	if failures < 1 {
		failures = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("readings: breaker %s %s -> %s", name, from, to)
		},
	}
	return &BreakerSource{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerSource) Fetch(ctx context.Context, q Query) (Cursor, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Fetch(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return out.(Cursor), nil
}

// State exposes the breaker state (closed, half-open, open).
func (b *BreakerSource) State() gobreaker.State { return b.cb.State() }

func (b *BreakerSource) Ping(ctx context.Context) error {
	if p, ok := b.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
