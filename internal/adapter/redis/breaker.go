package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/crxwnd/digitalizacionTV/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// CircuitBreakerHook short-circuits every Redis operation while Redis is
// failing, so content pulls fall through to the store instead of waiting on
// timeouts.
type CircuitBreakerHook struct {
	cb *gobreaker.CircuitBreaker
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// BreakerSettings trips at a 60% failure rate over at least 5 requests, stays
// open 30s and closes after 3 half-open successes. Cache misses and callers
// that gave up are not failures of Redis.
func BreakerSettings(m *metrics.CacheMetrics) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: redisHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.BreakerState.Set(stateToFloat(to))
			}
		},
	}
}

func redisHealthy(err error) bool {
	return err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled)
}

func NewCircuitBreakerHook(settings gobreaker.Settings) *CircuitBreakerHook {
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = redisHealthy
	}
	return &CircuitBreakerHook{cb: gobreaker.NewCircuitBreaker(settings)}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// guard runs fn through the breaker. Errors from fn come back unchanged; a
// rejection by the breaker is wrapped and reported to each command.
func (h *CircuitBreakerHook) guard(fn func() error, cmds ...goredis.Cmder) error {
	_, err := h.cb.Execute(func() (any, error) { return nil, fn() })
	if rejected(err) {
		err = fmt.Errorf("redis circuit breaker open: %w", err)
		for _, cmd := range cmds {
			cmd.SetErr(err)
		}
	}
	return err
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var conn net.Conn
		err := h.guard(func() error {
			var err error
			conn, err = next(ctx, network, addr)
			return err
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return h.guard(func() error { return next(ctx, cmd) }, cmd)
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return h.guard(func() error { return next(ctx, cmds) }, cmds...)
	}
}

func (h *CircuitBreakerHook) State() gobreaker.State {
	return h.cb.State()
}

func (h *CircuitBreakerHook) Counts() gobreaker.Counts {
	return h.cb.Counts()
}

func rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
