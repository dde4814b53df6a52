package stt

import (
	"context"
	"fmt"

	"github.com/lexiqai/transcription-gateway/internal/config"
	"github.com/lexiqai/transcription-gateway/internal/resilience"
)

// Factory hands each session its Backend. Real provider clients are shared
// across sessions behind one breaker; the mock is per session so its script
// position is never shared.
type Factory struct {
	provider string
	shared   *GuardedBackend
}

// NewFactory selects the provider from configuration.
func NewFactory(cfg *config.Config) (*Factory, error) {
	provider := cfg.ResolvedProvider()

	var backend Backend
	switch provider {
	case config.ProviderMock:
		return &Factory{provider: provider}, nil
	case config.ProviderDeepgram:
		backend = NewDeepgramBackend(cfg)
	case config.ProviderOpenAI:
		backend = NewOpenAIBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", provider)
	}

	return &Factory{
		provider: provider,
		shared:   NewGuardedBackend(backend, NewCircuitBreaker(provider, cfg)),
	}, nil
}

// NewFactoryWithBackend shares backend across sessions behind breaker.
func NewFactoryWithBackend(backend Backend, breaker *resilience.CircuitBreaker) *Factory {
	return &Factory{provider: backend.Name(), shared: NewGuardedBackend(backend, breaker)}
}

// Provider returns the resolved provider name
func (f *Factory) Provider() string { return f.provider }

// New returns the backend for one session.
func (f *Factory) New() Backend {
	if f.shared == nil {
		return NewMockBackend()
	}
	return f.shared
}

// Check reports the backend unready while its breaker is open.
func (f *Factory) Check(ctx context.Context) (bool, error) {
	if f.shared == nil {
		return true, nil
	}
	if state := f.shared.Breaker().GetState(); state == resilience.StateOpen {
		return false, fmt.Errorf("%s circuit breaker is %s", f.provider, state)
	}
	return true, nil
}
