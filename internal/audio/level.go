package audio

import "math"

// DefaultLevelCeiling is the RMS mapped to a full-scale (100) meter reading.
const DefaultLevelCeiling = 8000.0

// LevelMeter turns per-frame energy into a smoothed 0-100 meter value using a
// one-pole low-pass filter: level = s*level + (1-s)*raw.
type LevelMeter struct {
	smoothing float64
	ceiling   float64
	level     float64
}

// NewLevelMeter creates a meter with the given smoothing factor in [0,1).
func NewLevelMeter(smoothing float64) *LevelMeter {
	if smoothing < 0 || smoothing >= 1 {
		smoothing = 0.8
	}
	return &LevelMeter{smoothing: smoothing, ceiling: DefaultLevelCeiling}
}

// Update feeds one frame's RMS and returns the new smoothed level.
func (m *LevelMeter) Update(rms float64) float64 {
	raw := math.Min(100, math.Max(0, rms/m.ceiling*100))
	m.level = m.smoothing*m.level + (1-m.smoothing)*raw
	return m.level
}

// Level returns the current smoothed value.
func (m *LevelMeter) Level() float64 { return m.level }

// Reset drops the meter to zero.
func (m *LevelMeter) Reset() { m.level = 0 }
