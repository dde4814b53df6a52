package stt

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/transcription-gateway/internal/audio"
	"github.com/lexiqai/transcription-gateway/internal/config"
)

// OpenAIBackend transcribes chunks with the Whisper transcription endpoint.
// Whisper does not diarize, so every segment carries DefaultSpeaker.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a Whisper backend
func NewOpenAIBackend(cfg *config.Config) *OpenAIBackend {
	return NewOpenAIBackendWithClient(openai.NewClient(cfg.OpenAIAPIKey), cfg.OpenAIModel)
}

// NewOpenAIBackendWithClient uses a preconfigured client, e.g. one pointed at a proxy.
func NewOpenAIBackendWithClient(client *openai.Client, model string) *OpenAIBackend {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{client: client, model: model}
}

func (o *OpenAIBackend) Name() string { return "openai" }

func (o *OpenAIBackend) Transcribe(ctx context.Context, chunk []byte, mimeType string, diarize bool) (Result, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		Reader:   bytes.NewReader(chunk),
		FilePath: "chunk." + audio.Extension(mimeType),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("whisper transcription failed: %w", err)
	}

	var result Result
	if resp.Duration > 0 {
		duration := resp.Duration
		result.Duration = &duration
	}

	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		// avg_logprob is a log probability; exp maps it into [0,1]
		confidence := math.Min(1, math.Exp(s.AvgLogprob))
		result.Segments = append(result.Segments, RawSegment{
			Speaker:    DefaultSpeaker,
			Start:      s.Start,
			End:        s.End,
			Text:       text,
			Confidence: &confidence,
		})
	}

	if len(result.Segments) == 0 {
		if text := strings.TrimSpace(resp.Text); text != "" {
			seg := RawSegment{Speaker: DefaultSpeaker, Text: text}
			if result.Duration != nil {
				seg.End = *result.Duration
			}
			result.Segments = append(result.Segments, seg)
		}
	}
	return result, nil
}
