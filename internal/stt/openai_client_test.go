package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func newWhisperServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart upload: %v", err)
		} else if _, fh, err := r.FormFile("file"); err != nil || fh.Filename != "chunk.wav" {
			t.Errorf("Expected file chunk.wav, got %v (%v)", fh, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAIBackend(srv *httptest.Server) *OpenAIBackend {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewOpenAIBackendWithClient(openai.NewClientWithConfig(cfg), "")
}

func TestOpenAIBackend_Segments(t *testing.T) {
	srv := newWhisperServer(t, http.StatusOK, `{
		"task": "transcribe", "language": "english", "duration": 1.5,
		"text": "hello world. second",
		"segments": [
			{"id": 0, "start": 0.0, "end": 0.9, "text": " hello world.", "avg_logprob": -0.2},
			{"id": 1, "start": 0.9, "end": 1.4, "text": " second", "avg_logprob": -0.5}
		]
	}`)
	backend := newTestOpenAIBackend(srv)

	res, err := backend.Transcribe(context.Background(), []byte("RIFF"), "audio/wav", true)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Duration == nil || *res.Duration != 1.5 {
		t.Fatalf("Expected duration 1.5, got %v", res.Duration)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(res.Segments))
	}
	for _, seg := range res.Segments {
		if seg.Speaker != DefaultSpeaker {
			t.Errorf("Expected %q, got %q", DefaultSpeaker, seg.Speaker)
		}
		if seg.Confidence == nil || *seg.Confidence <= 0 || *seg.Confidence > 1 {
			t.Errorf("Expected confidence in (0,1], got %v", seg.Confidence)
		}
	}
	if res.Segments[0].Text != "hello world." {
		t.Errorf("Expected trimmed text, got %q", res.Segments[0].Text)
	}
}

func TestOpenAIBackend_ProviderError(t *testing.T) {
	srv := newWhisperServer(t, http.StatusInternalServerError, `{"error": {"message": "boom", "type": "server_error"}}`)
	backend := newTestOpenAIBackend(srv)

	if _, err := backend.Transcribe(context.Background(), []byte("RIFF"), "audio/wav", false); err == nil {
		t.Error("Expected provider error")
	}
}
