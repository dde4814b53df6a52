package stt

import (
	"context"
	"sync"
)

// MockSegmentDuration is the chunk-relative span of every mock segment.
const MockSegmentDuration = 1.5

var mockScript = []string{
	"Thanks everyone for joining, let's get started.",
	"First item is the release schedule for next week.",
	"We still have two open issues on the capture client.",
	"I can take the reconnection bug after lunch.",
	"Great, let's sync again on Thursday.",
}

// MockBackend returns a canned utterance per call, cycling through a fixed
// script. Two instances fed the same number of chunks produce the same output.
type MockBackend struct {
	mu    sync.Mutex
	index int
}

// NewMockBackend creates a mock positioned at the start of its script
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Name() string { return "mock" }

// Transcribe ignores the audio and emits the next scripted line spanning
// [0, MockSegmentDuration]. No duration is reported.
func (m *MockBackend) Transcribe(ctx context.Context, audio []byte, mimeType string, diarize bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	i := m.index
	m.index++
	m.mu.Unlock()

	speaker := DefaultSpeaker
	if diarize {
		speaker = SpeakerLabel(i % 2)
	}

	confidence := 0.9
	return Result{
		Segments: []RawSegment{{
			Speaker:    speaker,
			Start:      0,
			End:        MockSegmentDuration,
			Text:       mockScript[i%len(mockScript)],
			Confidence: &confidence,
		}},
	}, nil
}
