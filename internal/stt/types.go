package stt

import (
	"context"
	"fmt"
)

// DefaultSpeaker is the label every segment carries when diarization is off
// or the backend cannot attribute speakers.
const DefaultSpeaker = "Speaker 1"

// SpeakerLabel formats a zero-based speaker index as a display label.
func SpeakerLabel(index int) string {
	return fmt.Sprintf("Speaker %d", index+1)
}

// RawSegment is one utterance in chunk-relative seconds.
type RawSegment struct {
	Speaker    string
	Start      float64
	End        float64
	Text       string
	Confidence *float64
}

// Result is the outcome of transcribing a single chunk.
type Result struct {
	Segments []RawSegment

	// Duration is the chunk length reported by the backend, if it reports one.
	Duration *float64
}

// Backend transcribes one self-contained audio chunk at a time.
// A session never calls Transcribe concurrently on the same Backend.
type Backend interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string, diarize bool) (Result, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}
