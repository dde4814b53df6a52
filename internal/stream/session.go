package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcription-gateway/internal/audio"
	"github.com/lexiqai/transcription-gateway/internal/observability"
	"github.com/lexiqai/transcription-gateway/internal/protocol"
	"github.com/lexiqai/transcription-gateway/internal/stt"
)

// Conn is the duplex channel a session owns. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options tunes a single session.
type Options struct {
	SessionID       string
	DefaultMimeType string
	StopGrace       time.Duration // delay between finalizing and closed
	BackendTimeout  time.Duration // per chunk, 0 disables
}

type chunkJob struct {
	seq        int
	id         string
	audio      []byte
	mimeType   string
	receivedAt time.Time
}

// Session is the server side of one transcription connection. Chunks are
// transcribed strictly one at a time in arrival order and their segments are
// rebased onto a single session timeline.
type Session struct {
	conn    Conn
	backend stt.Backend
	opts    Options
	logger  zerolog.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu             sync.Mutex
	started        bool
	diarize        bool
	jobs           []chunkJob
	nextSeq        int
	processing     bool
	closed         bool
	timelineCursor float64
	worker         sync.WaitGroup
}

// NewSession creates a session for an accepted connection
func NewSession(conn Conn, backend stt.Backend, opts Options, logger zerolog.Logger, metrics *observability.Metrics) *Session {
	if opts.DefaultMimeType == "" {
		opts.DefaultMimeType = "audio/webm;codecs=opus"
	}
	if metrics == nil {
		metrics = observability.NewSessionMetrics(backend.Name())
	}
	return &Session{
		conn:    conn,
		backend: backend,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Run sends ready and serves the connection until the client stops, the
// connection fails, or ctx is cancelled. It always closes the connection.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.metrics.RecordSessionStart()
	defer s.metrics.RecordSessionEnd()

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	if err := s.send(protocol.Ready()); err != nil {
		s.abort()
		return fmt.Errorf("failed to send ready: %w", err)
	}
	s.logger.Info().Str("backend", s.backend.Name()).Msg("Session opened")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.abort()
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("Session connection closed")
				return nil
			}
			s.logger.Warn().Err(err).Msg("Session connection lost")
			return fmt.Errorf("session connection lost: %w", err)
		}

		if s.handleMessage(data) {
			return nil
		}
	}
}

// handleMessage dispatches one client frame and reports whether the session ended.
func (s *Session) handleMessage(data []byte) bool {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected client message")
		s.metrics.RecordError("malformed", "stream")
		s.send(protocol.Error(err.Error()))
		return false
	}

	switch msg.Type {
	case protocol.TypeStart:
		s.handleStart(msg.Diarize)
	case protocol.TypeAudioChunk:
		s.handleAudioChunk(msg)
	case protocol.TypeCommit:
		// chunks are self-contained
	case protocol.TypeStop:
		s.handleStop()
		return true
	}
	return false
}

func (s *Session) handleStart(diarize bool) {
	s.mu.Lock()
	if s.started {
		diarize = s.diarize
		s.mu.Unlock()
		s.logger.Debug().Msg("Repeated start ignored, diarize is fixed for the session")
	} else {
		s.started = true
		s.diarize = diarize
		s.mu.Unlock()
		s.logger.Info().Bool("diarize", diarize).Msg("Session streaming")
	}
	s.send(protocol.Status(protocol.StateStreaming))
}

func (s *Session) handleAudioChunk(msg protocol.ClientMessage) {
	data, err := protocol.DecodeAudio(msg)
	if err != nil {
		s.logger.Warn().Err(err).Str("chunk_id", msg.ID).Msg("Rejected audio chunk")
		s.metrics.RecordError("malformed", "stream")
		s.send(protocol.Error(err.Error()))
		return
	}

	mimeType := msg.MimeType
	if mimeType == "" {
		mimeType = audio.SniffMIME(data, "", s.opts.DefaultMimeType)
	}

	s.enqueue(chunkJob{
		id:         msg.ID,
		audio:      data,
		mimeType:   mimeType,
		receivedAt: time.Now(),
	})
}

// enqueue appends a job and starts the worker unless one is already draining.
func (s *Session) enqueue(job chunkJob) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	job.seq = s.nextSeq
	s.nextSeq++
	s.jobs = append(s.jobs, job)
	depth := len(s.jobs)
	startWorker := !s.processing
	if startWorker {
		s.processing = true
		s.worker.Add(1)
	}
	s.mu.Unlock()

	s.metrics.RecordChunkQueued(len(job.audio))
	s.logger.Debug().
		Str("chunk_id", job.id).
		Int("bytes", len(job.audio)).
		Str("mime_type", job.mimeType).
		Int("queue_depth", depth).
		Msg("Chunk queued")

	if startWorker {
		go s.drain()
	}
}

// drain processes queued jobs one at a time until the queue is empty or the
// session is closed.
func (s *Session) drain() {
	defer s.worker.Done()

	for {
		s.mu.Lock()
		if s.closed || len(s.jobs) == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}
		job := s.jobs[0]
		s.jobs[0] = chunkJob{}
		s.jobs = s.jobs[1:]
		diarize := s.diarize
		s.mu.Unlock()

		s.metrics.RecordChunkDequeued()
		s.process(job, diarize)
	}
}

func (s *Session) process(job chunkJob, diarize bool) {
	ctx := s.ctx
	if s.opts.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.opts.BackendTimeout)
		defer cancel()
	}

	logger := s.logger.With().Str("chunk_id", job.id).Logger()

	s.metrics.RecordBackendStart()
	result, err := s.backend.Transcribe(ctx, job.audio, job.mimeType, diarize)
	s.metrics.RecordBackendEnd(err == nil)

	if err != nil {
		if s.ctx.Err() != nil {
			// connection is gone, nobody to tell
			return
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", s.opts.BackendTimeout, err)
		}
		logger.Warn().Err(err).Dur("queued_for", time.Since(job.receivedAt)).Msg("Chunk transcription failed")
		s.metrics.RecordError("backend", "stream")
		s.send(protocol.Error(fmt.Sprintf("transcription failed for chunk %s: %v", job.id, err)))
		return
	}

	segments, cursor := s.rebase(job.seq, result)
	for _, seg := range segments {
		s.send(protocol.SegmentMessage(seg))
	}
	s.metrics.RecordSegments(len(segments))

	logger.Debug().
		Int("segments", len(segments)).
		Float64("timeline_cursor", cursor).
		Dur("latency", time.Since(job.receivedAt)).
		Msg("Chunk transcribed")
}

// rebase places chunk-relative segments on the session timeline and advances
// the cursor by the chunk's duration. It returns the new cursor.
func (s *Session) rebase(seq int, result stt.Result) ([]protocol.Segment, float64) {
	raw := make([]stt.RawSegment, len(result.Segments))
	copy(raw, result.Segments)
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Start < raw[j].Start })

	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.timelineCursor
	segments := make([]protocol.Segment, 0, len(raw))
	maxEnd := 0.0
	for i, r := range raw {
		start := math.Max(0, r.Start)
		end := math.Max(start, r.End)
		maxEnd = math.Max(maxEnd, end)

		seg := protocol.Segment{
			ID:      fmt.Sprintf("%s:%d:%d", s.opts.SessionID, seq, i),
			Speaker: r.Speaker,
			Start:   offset + start,
			End:     offset + end,
			Text:    r.Text,
			IsFinal: true,
		}
		if seg.Speaker == "" {
			seg.Speaker = stt.DefaultSpeaker
		}
		if r.Confidence != nil {
			seg.Confidence = protocol.Float64Ptr(math.Min(1, math.Max(0, *r.Confidence)))
		}
		segments = append(segments, seg)
	}

	switch {
	case result.Duration != nil && *result.Duration > 0:
		s.timelineCursor += *result.Duration
	default:
		s.timelineCursor += maxEnd
	}
	return segments, s.timelineCursor
}

// handleStop discards queued work, lets the in-flight chunk finish, then
// closes the connection after the grace period.
func (s *Session) handleStop() {
	dropped := s.markClosed()
	s.logger.Info().Int("dropped_chunks", dropped).Msg("Session stopping")

	s.send(protocol.Status(protocol.StateFinalizing))
	s.worker.Wait()

	if s.opts.StopGrace > 0 {
		timer := time.NewTimer(s.opts.StopGrace)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
		}
	}

	s.send(protocol.Status(protocol.StateClosed))
	s.conn.Close()
	s.logger.Info().Float64("timeline_cursor", s.TimelineCursor()).Msg("Session closed")
}

// abort is the connection-loss path: same cleanup as stop, nothing sent.
func (s *Session) abort() {
	dropped := s.markClosed()
	if dropped > 0 {
		s.logger.Info().Int("dropped_chunks", dropped).Msg("Discarded queued chunks")
	}
	s.cancel()
	s.worker.Wait()
	s.conn.Close()
}

func (s *Session) markClosed() int {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.jobs)
	s.jobs = nil
	s.mu.Unlock()

	s.metrics.RecordChunksDropped(dropped)
	return dropped
}

func (s *Session) send(msg protocol.ServerMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to send message")
		return err
	}
	return nil
}

// TimelineCursor returns the seconds of audio consumed so far.
func (s *Session) TimelineCursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timelineCursor
}

// Diarize reports the diarization flag fixed by start.
func (s *Session) Diarize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diarize
}
