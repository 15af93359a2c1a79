// Package resilience wraps every external provider call with the
// circuit-breaker and retry policy of component design §4.10.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rediai/broker/internal/logging"
)

// BreakerConfig configures one provider's circuit breaker.
type BreakerConfig struct {
	Name             string
	ErrorThreshold   uint32        // consecutive failures before opening
	OpenDuration     time.Duration // how long the breaker stays open before probing
	HalfOpenProbeMax uint32        // max concurrent probes while half-open
}

// DefaultBreakerConfig matches glyphoxa's hand-rolled circuit breaker
// defaults (5 failures, 30s open, 3 half-open probes), which this wrapper
// reproduces against the ecosystem gobreaker implementation instead of a
// hand-rolled state machine.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		ErrorThreshold:   5,
		OpenDuration:     30 * time.Second,
		HalfOpenProbeMax: 3,
	}
}

// Breaker wraps gobreaker.CircuitBreaker[T] for a single provider. T is the
// return type of the wrapped call (e.g. *llm.CompletionResponse).
type Breaker[T any] struct {
	cb  *gobreaker.CircuitBreaker[T]
	log *logging.Logger
}

// NewBreaker constructs a Breaker from cfg.
func NewBreaker[T any](cfg BreakerConfig, log *logging.Logger) *Breaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenProbeMax,
		Interval:    0, // never reset counts while closed; only on open->half-open cycle
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ErrorThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if log != nil {
				log.Infow("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &Breaker[T]{
		cb:  gobreaker.NewCircuitBreaker[T](settings),
		log: log,
	}
}

// ErrCircuitOpen is returned (wrapped) when the breaker refuses a call
// because the circuit is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// Execute runs fn through the breaker. When the circuit is open, the
// orchestrator should treat the returned error (errors.Is ErrCircuitOpen)
// as the signal to publish tts_fallback or equivalent to the client.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

// State returns the breaker's current state name for health reporting.
func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}

// IsOpenError reports whether err represents a circuit-open refusal.
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// CallWithContext is a convenience for provider calls that take a context;
// it lets the caller short-circuit immediately if ctx is already done.
func CallWithContext[T any](ctx context.Context, b *Breaker[T], fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}
	return b.Execute(fn)
}
