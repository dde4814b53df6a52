package resilience

import (
	"math"
	"time"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Attempts allowed before giving up
	Backoff     time.Duration // Delay before the first attempt
	Multiplier  float64       // Growth factor per attempt
	MaxBackoff  time.Duration // Upper bound for any single delay
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Delay returns how long to wait before reconnect attempt number attempt
// (zero based), or false once attempts are exhausted.
func (c ReconnectConfig) Delay(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= c.MaxAttempts {
		return 0, false
	}
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return CalculateBackoff(attempt, c.Backoff, c.MaxBackoff, multiplier), true
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && (backoff > maxBackoff || backoff < 0) {
		return maxBackoff
	}
	return backoff
}
