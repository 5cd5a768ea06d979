package destination

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker placed in front of a destination.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. Zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe. Zero means 60s.
	OpenTimeout time.Duration
	Log         *slog.Logger
}

type breakerDestination struct {
	next Destination
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker fails deliveries fast while next keeps failing. An open breaker surfaces
// as a DeliverError wrapping gobreaker.ErrOpenState, so the message is dropped exactly
// like any other failed delivery.
func WithBreaker(next Destination, cfg BreakerConfig) Destination {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        next.String(),
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Destination breaker state changed", "destination", name, "from", from.String(), "to", to.String())
		},
	}

	return &breakerDestination{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerDestination) Deliver(ctx context.Context, text string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Deliver(ctx, text)
	})

	return NewDeliverError(b.next.String(), err)
}

func (b *breakerDestination) String() string {
	return b.next.String()
}
