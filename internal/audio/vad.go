package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy above which a frame counts as speech
	HangoverFrames  int     // Consecutive quiet frames before speech is considered over
}

// DefaultVADConfig returns a default VAD configuration tuned for 16-bit
// microphone input sampled at the level monitor cadence (~60 Hz).
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		HangoverFrames:  12,
	}
}

// VADDetector is an energy gate with hangover, used to flag whether the
// speaker is currently talking.
type VADDetector struct {
	config     VADConfig
	quietCount int
	speaking   bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config VADConfig) *VADDetector {
	if config.HangoverFrames <= 0 {
		config.HangoverFrames = 1
	}
	return &VADDetector{config: config}
}

// Update feeds the RMS energy of one frame and reports whether speech is active.
func (v *VADDetector) Update(rms float64) bool {
	if rms > v.config.EnergyThreshold {
		v.quietCount = 0
		v.speaking = true
		return true
	}

	v.quietCount++
	if v.speaking && v.quietCount >= v.config.HangoverFrames {
		v.speaking = false
		v.quietCount = 0
	}
	return v.speaking
}

// ProcessFrame is Update over raw samples.
func (v *VADDetector) ProcessFrame(samples []int16) bool {
	return v.Update(CalculateRMS(samples))
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.quietCount = 0
	v.speaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.speaking
}
