package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lexiqai/transcription-gateway/internal/config"
	"github.com/lexiqai/transcription-gateway/internal/resilience"
)

func TestNewFactory_Selection(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		expected string
	}{
		{"no credentials uses mock", config.Config{STTProvider: "auto"}, config.ProviderMock},
		{"deepgram key", config.Config{STTProvider: "auto", DeepgramAPIKey: "dg"}, config.ProviderDeepgram},
		{"openai key", config.Config{STTProvider: "auto", OpenAIAPIKey: "oa", OpenAIModel: "whisper-1"}, config.ProviderOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.CircuitBreakerMaxFailures = 5
			cfg.CircuitBreakerResetTimeout = 30

			f, err := NewFactory(&cfg)
			if err != nil {
				t.Fatalf("NewFactory failed: %v", err)
			}
			if f.Provider() != tt.expected {
				t.Errorf("Expected provider %s, got %s", tt.expected, f.Provider())
			}
			if got := f.New().Name(); got != tt.expected {
				t.Errorf("Expected backend %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestFactory_MockPerSession(t *testing.T) {
	f, err := NewFactory(&config.Config{STTProvider: "mock"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	a, b := f.New(), f.New()
	if a == b {
		t.Fatal("Expected a fresh mock per session")
	}

	ra, _ := a.Transcribe(context.Background(), nil, "", false)
	a.Transcribe(context.Background(), nil, "", false)
	rb, _ := b.Transcribe(context.Background(), nil, "", false)
	if ra.Segments[0].Text != rb.Segments[0].Text {
		t.Error("Expected independent script positions per session")
	}
	if ok, err := f.Check(context.Background()); !ok || err != nil {
		t.Errorf("Expected mock to be ready, got %v %v", ok, err)
	}
}

func TestFactory_CheckReportsOpenBreaker(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("stub", 1, time.Minute)
	f := NewFactoryWithBackend(&stubBackend{err: errors.New("down")}, breaker)

	f.New().Transcribe(context.Background(), nil, "", false)
	if ok, err := f.Check(context.Background()); ok || err == nil {
		t.Error("Expected not ready while breaker is open")
	}
}
