// Package resilience wraps outbound HTTP calls to Earth Engine, the OAuth
// token endpoint and the model server with a circuit breaker, a client-side
// rate limit, per-attempt timeouts and retries.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit of one upstream. Zero fields take the
// defaults of DefaultBreakerConfig.
type BreakerConfig struct {
	// HalfOpenRequests are admitted while probing a recovering upstream.
	HalfOpenRequests uint32

	// Window clears the closed-state counts periodically. Zero keeps them
	// until the state changes.
	Window time.Duration

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// The circuit opens once MinRequests were made and at least FailureRatio
	// of them failed.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig opens after half of at least five requests failed and
// lets a trial request through after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		HalfOpenRequests: 1,
		Cooldown:         time.Minute,
		MinRequests:      5,
		FailureRatio:     0.5,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = d.HalfOpenRequests
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MinRequests == 0 {
		c.MinRequests = d.MinRequests
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = d.FailureRatio
	}
	return c
}

// ShouldTrip reports whether counts open the circuit.
func (c BreakerConfig) ShouldTrip(counts gobreaker.Counts) bool {
	c = c.withDefaults()
	if counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func newBreaker[T any](name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: cfg.ShouldTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			ev := logger.Info()
			if to == gobreaker.StateOpen {
				ev = logger.Warn()
			}
			ev.Str("provider", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state changed")
		},
	})
}
