package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker placed around an engine.
type BreakerConfig struct {
	Enabled     bool
	MaxFailures uint32        // consecutive failures before opening
	OpenTimeout time.Duration // time spent open before probing again
	HalfOpenMax uint32
}

// DefaultBreakerConfig returns the breaker settings used by the CLI and server.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Enabled: true, MaxFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenMax: 1}
}

type guardedEngine struct {
	next    Engine
	breaker *gobreaker.CircuitBreaker[string]
}

// WithBreaker wraps next in a circuit breaker. Timeouts and caller
// cancellation do not count as engine failures. When the breaker is open,
// calls fail fast with ErrEngineUnavailable.
func WithBreaker(next Engine, cfg BreakerConfig) Engine {
	if !cfg.Enabled {
		return next
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = 1
	}
	settings := gobreaker.Settings{
		Name:        "ocr-engine",
		MaxRequests: cfg.HalfOpenMax,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}
	return &guardedEngine{next: next, breaker: gobreaker.NewCircuitBreaker[string](settings)}
}

func (g *guardedEngine) Recognize(ctx context.Context, img image.Image, cfg PassConfig) (string, error) {
	text, err := g.breaker.Execute(func() (string, error) {
		return g.next.Recognize(ctx, img, cfg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return text, err
}

// State reports the breaker state of an engine returned by WithBreaker.
func State(e Engine) (string, bool) {
	g, ok := e.(*guardedEngine)
	if !ok {
		return "", false
	}
	return g.breaker.State().String(), true
}
