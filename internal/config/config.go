package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transcription providers accepted by STT_PROVIDER.
const (
	ProviderAuto     = "auto"
	ProviderDeepgram = "deepgram"
	ProviderOpenAI   = "openai"
	ProviderMock     = "mock"
)

// Config holds all configuration for the transcription session server
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"` // "0" disables the gRPC health server

	// Comma separated list of allowed WebSocket origins. Empty allows any origin.
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Transcription backend selection: auto, deepgram, openai, mock.
	// With auto, the first configured credential wins and the mock is used when none is set.
	STTProvider string `envconfig:"STT_PROVIDER" default:"auto"`

	// Deepgram pre-recorded API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// OpenAI Whisper configuration
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"whisper-1"`

	// Session configuration
	DefaultMimeType  string `envconfig:"DEFAULT_MIME_TYPE" default:"audio/webm;codecs=opus"`
	SessionStopGrace int    `envconfig:"SESSION_STOP_GRACE" default:"300"`    // milliseconds
	BackendTimeout   int    `envconfig:"BACKEND_TIMEOUT" default:"30"`        // seconds, 0 disables
	MaxMessageBytes  int64  `envconfig:"MAX_MESSAGE_BYTES" default:"8388608"` // inbound frame limit

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	switch c.STTProvider {
	case ProviderAuto, ProviderMock:
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when STT_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider)
	}
	if c.SessionStopGrace < 0 {
		return fmt.Errorf("SESSION_STOP_GRACE must not be negative")
	}
	if c.BackendTimeout < 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must not be negative")
	}
	return nil
}

// ResolvedProvider returns the backend that will serve sessions, resolving
// "auto" by credential presence.
func (c *Config) ResolvedProvider() string {
	if c.STTProvider != ProviderAuto && c.STTProvider != "" {
		return c.STTProvider
	}
	switch {
	case c.DeepgramAPIKey != "":
		return ProviderDeepgram
	case c.OpenAIAPIKey != "":
		return ProviderOpenAI
	default:
		return ProviderMock
	}
}

// Origins returns the parsed ALLOWED_ORIGINS list.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.SessionStopGrace) * time.Millisecond
}

func (c *Config) BackendTimeoutDuration() time.Duration {
	return time.Duration(c.BackendTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
