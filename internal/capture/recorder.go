package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/transcription-gateway/internal/audio"
)

const readBlockBytes = 3200 // 100ms of 16kHz mono s16le

// Chunk is one self-contained unit of captured audio.
type Chunk struct {
	ID       string
	MimeType string
	Data     []byte
	Duration time.Duration
}

// Recorder cuts a PCM stream into WAV chunks of a fixed audio duration and
// feeds every sample to the level tap.
type Recorder struct {
	source     io.Reader
	sampleRate int
	interval   time.Duration
	tap        *audio.RingBuffer

	// OnStart fires once when the recorder begins consuming audio.
	OnStart func()
	// OnChunk receives each chunk in capture order, including the final partial one.
	OnChunk func(Chunk)

	newID func() string
}

// NewRecorder creates a recorder over a mono 16-bit PCM source
func NewRecorder(source io.Reader, sampleRate int, interval time.Duration, tap *audio.RingBuffer) *Recorder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &Recorder{
		source:     source,
		sampleRate: sampleRate,
		interval:   interval,
		tap:        tap,
		newID:      func() string { return uuid.New().String() },
	}
}

// ChunkBytes returns the PCM size of a full chunk.
func (r *Recorder) ChunkBytes() int {
	n := int(int64(r.sampleRate) * 2 * int64(r.interval) / int64(time.Second))
	return n &^ 1
}

// Run reads until the source ends or ctx is cancelled. The remaining audio
// is emitted as a final short chunk. A source closed by Stop or reaching EOF
// returns nil; any other read failure is returned.
func (r *Recorder) Run(ctx context.Context) error {
	if r.OnStart != nil {
		r.OnStart()
	}

	chunkBytes := r.ChunkBytes()
	pending := make([]byte, 0, chunkBytes+readBlockBytes)
	tapped := 0
	block := make([]byte, readBlockBytes)

	for {
		n, err := r.source.Read(block)
		if n > 0 {
			pending = append(pending, block[:n]...)

			if r.tap != nil {
				even := (len(pending) - tapped) &^ 1
				r.tap.Write(audio.BytesToSamples(pending[tapped : tapped+even]))
				tapped += even
			}

			for len(pending) >= chunkBytes {
				r.emit(pending[:chunkBytes])
				pending = append(pending[:0], pending[chunkBytes:]...)
				tapped -= chunkBytes
				if tapped < 0 {
					tapped = 0
				}
			}
		}

		if err != nil || ctx.Err() != nil {
			if tail := len(pending) &^ 1; tail > 0 {
				r.emit(pending[:tail])
			}
			if err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

func (r *Recorder) emit(pcm []byte) {
	if r.OnChunk == nil {
		return
	}
	r.OnChunk(Chunk{
		ID:       r.newID(),
		MimeType: audio.MimeWAV,
		Data:     audio.EncodeWAV(pcm, r.sampleRate, 1),
		Duration: time.Duration(audio.WAVDuration(len(pcm), r.sampleRate, 1) * float64(time.Second)),
	})
}
