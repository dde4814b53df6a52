package capture

import (
	"sync"
	"time"

	"github.com/lexiqai/transcription-gateway/internal/audio"
)

// LevelMonitor samples the capture tap on a fixed cadence and reports a
// smoothed 0-100 level plus a voice activity flag. Stop always drops the
// level back to zero.
type LevelMonitor struct {
	tap      *audio.RingBuffer
	interval time.Duration
	meter    *audio.LevelMeter
	vad      *audio.VADDetector
	window   []int16
	onLevel  func(level float64, speaking bool)

	startOnce sync.Once
	running   bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewLevelMonitor creates a monitor reading the most recent windowSamples from tap.
func NewLevelMonitor(tap *audio.RingBuffer, interval time.Duration, smoothing float64, windowSamples int, onLevel func(float64, bool)) *LevelMonitor {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	if windowSamples <= 0 {
		windowSamples = 800
	}
	return &LevelMonitor{
		tap:      tap,
		interval: interval,
		meter:    audio.NewLevelMeter(smoothing),
		vad:      audio.NewVADDetector(audio.DefaultVADConfig()),
		window:   make([]int16, windowSamples),
		onLevel:  onLevel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop
func (m *LevelMonitor) Start() {
	m.startOnce.Do(func() {
		m.running = true
		go m.loop()
	})
}

func (m *LevelMonitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			level, speaking := m.sample()
			if m.onLevel != nil {
				m.onLevel(level, speaking)
			}
		}
	}
}

func (m *LevelMonitor) sample() (float64, bool) {
	n := m.tap.Latest(m.window)
	rms := audio.CalculateRMS(m.window[:n])
	return m.meter.Update(rms), m.vad.Update(rms)
}

// Stop ends the loop, waits for it and reports a zero level. A monitor that
// was never started only reports the reset.
func (m *LevelMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.startOnce.Do(func() {})
		close(m.stop)
		if m.running {
			<-m.done
		}
		m.meter.Reset()
		m.vad.Reset()
		if m.onLevel != nil {
			m.onLevel(0, false)
		}
	})
}
