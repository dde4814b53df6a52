package stt

import (
	"context"
	"time"

	"github.com/lexiqai/transcription-gateway/internal/config"
	"github.com/lexiqai/transcription-gateway/internal/observability"
	"github.com/lexiqai/transcription-gateway/internal/resilience"
)

// ErrCircuitOpen is returned while the provider's breaker rejects calls.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// GuardedBackend runs a shared provider client behind a circuit breaker.
type GuardedBackend struct {
	backend Backend
	breaker *resilience.CircuitBreaker
}

// NewCircuitBreaker builds the per-provider breaker and keeps its metrics current.
func NewCircuitBreaker(name string, cfg *config.Config) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(
		name,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	cb.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	}
	observability.UpdateCircuitBreakerState(name, int(resilience.StateClosed))
	return cb
}

// NewGuardedBackend wraps backend with breaker
func NewGuardedBackend(backend Backend, breaker *resilience.CircuitBreaker) *GuardedBackend {
	return &GuardedBackend{backend: backend, breaker: breaker}
}

func (g *GuardedBackend) Name() string { return g.backend.Name() }

// Transcribe delegates through the breaker. A call aborted because the
// session went away is not counted against the provider.
func (g *GuardedBackend) Transcribe(ctx context.Context, audio []byte, mimeType string, diarize bool) (Result, error) {
	var (
		result  Result
		callErr error
	)
	err := g.breaker.Call(func() error {
		result, callErr = g.backend.Transcribe(ctx, audio, mimeType, diarize)
		if callErr != nil && ctx.Err() == context.Canceled {
			return nil
		}
		return callErr
	})
	if err != nil {
		observability.IncrementCircuitBreakerFailures(g.breaker.Name())
		return Result{}, err
	}
	return result, callErr
}

// Breaker exposes the breaker for readiness checks.
func (g *GuardedBackend) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
