// Package breaker wraps a backend in a circuit breaker so that a failing
// hosted API is skipped quickly instead of timing out on every chunk.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"ai-lecture-transcriber/internal/service/stt"
)

// Config tunes when the breaker opens and how long it stays open.
type Config struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultConfig opens after 5 consecutive failures for 30 s.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Backend is an stt.Backend guarded by a circuit breaker.
type Backend struct {
	next   stt.Backend
	cb     *gobreaker.CircuitBreaker[stt.Result]
	logger zerolog.Logger
}

// Wrap guards next with a breaker. Only unavailability and timeouts count
// as failures; rejected requests and missing configuration do not.
func Wrap(next stt.Backend, cfg Config, logger zerolog.Logger) *Backend {
	def := DefaultConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	logger = logger.With().Str("component", "breaker").Str("backend", next.Name()).Logger()

	b := &Backend{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[stt.Result](gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, stt.ErrUnavailable) || errors.Is(err, stt.ErrTimeout))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return b
}

// Name implements stt.Backend.
func (b *Backend) Name() string { return b.next.Name() }

// Kind implements stt.Backend.
func (b *Backend) Kind() stt.Kind { return b.next.Kind() }

// State returns the breaker state label.
func (b *Backend) State() string { return b.cb.State().String() }

// Transcribe implements stt.Backend. While the breaker is open calls fail
// immediately with stt.ErrUnavailable.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	res, err := b.cb.Execute(func() (stt.Result, error) {
		return b.next.Transcribe(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return stt.Result{}, stt.NewError(b.next.Name(), stt.ErrUnavailable, err)
	}
	return res, err
}
