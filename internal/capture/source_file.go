package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lexiqai/transcription-gateway/internal/audio"
)

// FileDevice replays a WAV or raw s16le file as if it were a microphone,
// optionally paced at real time.
type FileDevice struct {
	Path     string
	Realtime bool
}

func NewFileDevice(path string, realtime bool) *FileDevice {
	return &FileDevice{Path: path, Realtime: realtime}
}

func (d *FileDevice) Open(ctx context.Context, cfg AudioConfig) (AudioStream, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return NewPCMStream(audio.StripWAVHeader(data), cfg.SampleRate, d.Realtime), nil
}

// pcmStream serves an in-memory PCM buffer in 100ms blocks.
type pcmStream struct {
	data   []byte
	pos    int
	block  int
	ticker *time.Ticker

	mu      sync.Mutex
	stopped chan struct{}
	once    sync.Once
}

// NewPCMStream returns an AudioStream over pcm. When realtime is set each
// read waits for the matching wall-clock time.
func NewPCMStream(pcm []byte, sampleRate int, realtime bool) AudioStream {
	s := &pcmStream{
		data:    pcm,
		block:   (sampleRate * 2 / 10) &^ 1,
		stopped: make(chan struct{}),
	}
	if s.block <= 0 {
		s.block = readBlockBytes
	}
	if realtime {
		s.ticker = time.NewTicker(100 * time.Millisecond)
	}
	return s
}

func (s *pcmStream) Read(p []byte) (int, error) {
	if s.ticker != nil {
		select {
		case <-s.ticker.C:
		case <-s.stopped:
			return 0, io.EOF
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopped:
		return 0, io.EOF
	default:
	}
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := s.block
	if n > len(p) {
		n = len(p)
	}
	if rem := len(s.data) - s.pos; n > rem {
		n = rem
	}
	copy(p, s.data[s.pos:s.pos+n])
	s.pos += n
	return n, nil
}

func (s *pcmStream) Stop() error {
	s.once.Do(func() {
		close(s.stopped)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	return nil
}

func (s *pcmStream) Close() error { return s.Stop() }
