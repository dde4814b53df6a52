package stt

import (
	"context"
	"testing"
)

func TestMockBackend_Deterministic(t *testing.T) {
	a, b := NewMockBackend(), NewMockBackend()
	ctx := context.Background()

	for i := 0; i < len(mockScript)+2; i++ {
		ra, err := a.Transcribe(ctx, []byte("x"), "audio/wav", false)
		if err != nil {
			t.Fatalf("Transcribe failed: %v", err)
		}
		rb, _ := b.Transcribe(ctx, []byte("y"), "audio/webm", false)

		if len(ra.Segments) != 1 || len(rb.Segments) != 1 {
			t.Fatalf("Expected one segment per call, got %d and %d", len(ra.Segments), len(rb.Segments))
		}
		if ra.Segments[0].Text != rb.Segments[0].Text {
			t.Errorf("Call %d: expected identical text, got %q and %q", i, ra.Segments[0].Text, rb.Segments[0].Text)
		}
		if ra.Segments[0].Text != mockScript[i%len(mockScript)] {
			t.Errorf("Call %d: expected script line %d, got %q", i, i%len(mockScript), ra.Segments[0].Text)
		}
		if ra.Segments[0].Speaker != DefaultSpeaker {
			t.Errorf("Expected %q without diarization, got %q", DefaultSpeaker, ra.Segments[0].Speaker)
		}
		if ra.Segments[0].Start != 0 || ra.Segments[0].End != MockSegmentDuration {
			t.Errorf("Expected span [0, %v], got [%v, %v]", MockSegmentDuration, ra.Segments[0].Start, ra.Segments[0].End)
		}
		if ra.Duration != nil {
			t.Error("Expected mock to report no duration")
		}
	}
}

func TestMockBackend_Diarize(t *testing.T) {
	m := NewMockBackend()
	want := []string{"Speaker 1", "Speaker 2", "Speaker 1", "Speaker 2"}

	for i, speaker := range want {
		res, err := m.Transcribe(context.Background(), nil, "", true)
		if err != nil {
			t.Fatalf("Transcribe failed: %v", err)
		}
		if res.Segments[0].Speaker != speaker {
			t.Errorf("Call %d: expected %q, got %q", i, speaker, res.Segments[0].Speaker)
		}
	}
}

func TestMockBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockBackend().Transcribe(ctx, nil, "", false); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
