package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/transcription-gateway/internal/config"
)

// DeepgramBackend transcribes each chunk with Deepgram's pre-recorded API.
// Chunks are self-contained containers, so no streaming connection is held.
type DeepgramBackend struct {
	client   *api.Client
	model    string
	language string
}

// NewDeepgramBackend creates a Deepgram REST backend
func NewDeepgramBackend(cfg *config.Config) *DeepgramBackend {
	c := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	return &DeepgramBackend{
		client:   api.New(c),
		model:    cfg.DeepgramModel,
		language: cfg.DeepgramLanguage,
	}
}

func (d *DeepgramBackend) Name() string { return "deepgram" }

// Transcribe sends one chunk and converts utterances to chunk-relative segments.
func (d *DeepgramBackend) Transcribe(ctx context.Context, audio []byte, mimeType string, diarize bool) (Result, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    d.language,
		Punctuate:   true,
		SmartFormat: true,
		Utterances:  true,
		Diarize:     diarize,
	}

	resp, err := d.client.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram transcription failed: %w", err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read deepgram response: %w", err)
	}
	return parseDeepgramResponse(raw, diarize)
}

// deepgramResponse is the subset of the pre-recorded response we consume.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Confidence float64 `json:"confidence"`
			Transcript string  `json:"transcript"`
			Speaker    *int    `json:"speaker"`
		} `json:"utterances"`
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Start float64 `json:"start"`
					End   float64 `json:"end"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func parseDeepgramResponse(raw []byte, diarize bool) (Result, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("failed to decode deepgram response: %w", err)
	}

	var result Result
	if resp.Metadata.Duration > 0 {
		duration := resp.Metadata.Duration
		result.Duration = &duration
	}

	for _, u := range resp.Results.Utterances {
		text := strings.TrimSpace(u.Transcript)
		if text == "" {
			continue
		}
		speaker := DefaultSpeaker
		if diarize && u.Speaker != nil {
			speaker = SpeakerLabel(*u.Speaker)
		}
		confidence := u.Confidence
		result.Segments = append(result.Segments, RawSegment{
			Speaker:    speaker,
			Start:      u.Start,
			End:        u.End,
			Text:       text,
			Confidence: &confidence,
		})
	}
	if len(result.Segments) > 0 || len(resp.Results.Channels) == 0 {
		return result, nil
	}

	// No utterances: fall back to the first alternative as a single segment.
	alts := resp.Results.Channels[0].Alternatives
	if len(alts) == 0 || strings.TrimSpace(alts[0].Transcript) == "" {
		return result, nil
	}
	alt := alts[0]
	seg := RawSegment{Speaker: DefaultSpeaker, Text: strings.TrimSpace(alt.Transcript)}
	if n := len(alt.Words); n > 0 {
		seg.Start = alt.Words[0].Start
		seg.End = alt.Words[n-1].End
	} else if result.Duration != nil {
		seg.End = *result.Duration
	}
	confidence := alt.Confidence
	seg.Confidence = &confidence
	result.Segments = append(result.Segments, seg)
	return result, nil
}
