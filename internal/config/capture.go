package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// CaptureConfig holds configuration for the capture client
type CaptureConfig struct {
	ServerURL string `envconfig:"SERVER_URL" default:"ws://localhost:8080/streams/transcribe"`
	Diarize   bool   `envconfig:"DIARIZE" default:"false"`

	// Audio capture
	ChunkInterval int    `envconfig:"CHUNK_INTERVAL" default:"1500"` // milliseconds between chunks
	SampleRate    int    `envconfig:"SAMPLE_RATE" default:"16000"`
	InputFile     string `envconfig:"INPUT_FILE" default:""` // raw s16le or WAV file; empty uses the microphone
	FFmpeg        string `envconfig:"FFMPEG" default:"ffmpeg"`
	InputFormat   string `envconfig:"INPUT_FORMAT" default:"pulse"`
	InputDevice   string `envconfig:"INPUT_DEVICE" default:"default"`

	// Transcript history
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"1000"`

	// Reconnection
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`      // milliseconds
	ReconnectMaxBackoff  int `envconfig:"RECONNECT_MAX_BACKOFF" default:"30000"` // milliseconds

	// Level meter
	LevelSmoothing float64 `envconfig:"LEVEL_SMOOTHING" default:"0.8"`
	LevelInterval  int     `envconfig:"LEVEL_INTERVAL" default:"16"` // milliseconds

	StopTimeout int  `envconfig:"STOP_TIMEOUT" default:"10000"` // milliseconds
	Headless    bool `envconfig:"HEADLESS" default:"false"`

	// Observability
	LogFile   string `envconfig:"LOG_FILE" default:"capture.log"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// LoadCapture reads CAPTURE_* variables, loading .env first when present.
func LoadCapture() (*CaptureConfig, error) {
	_ = godotenv.Load()

	var cfg CaptureConfig
	if err := envconfig.Process("capture", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load capture config: %w", err)
	}
	if cfg.ChunkInterval <= 0 {
		return nil, fmt.Errorf("CAPTURE_CHUNK_INTERVAL must be positive")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}
	if cfg.LevelSmoothing < 0 || cfg.LevelSmoothing >= 1 {
		return nil, fmt.Errorf("CAPTURE_LEVEL_SMOOTHING must be in [0,1)")
	}
	return &cfg, nil
}

func (c *CaptureConfig) ChunkIntervalDuration() time.Duration {
	return time.Duration(c.ChunkInterval) * time.Millisecond
}

func (c *CaptureConfig) LevelIntervalDuration() time.Duration {
	return time.Duration(c.LevelInterval) * time.Millisecond
}

func (c *CaptureConfig) StopTimeoutDuration() time.Duration {
	return time.Duration(c.StopTimeout) * time.Millisecond
}
