package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/transcription-gateway/internal/audio"
	"github.com/lexiqai/transcription-gateway/internal/config"
	"github.com/lexiqai/transcription-gateway/internal/protocol"
	"github.com/lexiqai/transcription-gateway/internal/resilience"
)

// Config controls capture, chunking and reconnection behavior.
type Config struct {
	ServerURL      string
	Diarize        bool
	Audio          AudioConfig
	ChunkInterval  time.Duration
	HistoryLimit   int
	Reconnect      resilience.ReconnectConfig
	LevelInterval  time.Duration
	LevelSmoothing float64
	StopTimeout    time.Duration
	Logger         zerolog.Logger
}

// ConfigFromEnv maps the capture client's environment configuration.
func ConfigFromEnv(cfg *config.CaptureConfig, logger zerolog.Logger) Config {
	return Config{
		ServerURL: cfg.ServerURL,
		Diarize:   cfg.Diarize,
		Audio: AudioConfig{
			SampleRate:  cfg.SampleRate,
			Channels:    1,
			InputFormat: cfg.InputFormat,
			InputDevice: cfg.InputDevice,
		},
		ChunkInterval: cfg.ChunkIntervalDuration(),
		HistoryLimit:  cfg.HistoryLimit,
		Reconnect: resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  time.Duration(cfg.ReconnectMaxBackoff) * time.Millisecond,
		},
		LevelInterval:  cfg.LevelIntervalDuration(),
		LevelSmoothing: cfg.LevelSmoothing,
		StopTimeout:    cfg.StopTimeoutDuration(),
		Logger:         logger,
	}
}

// run holds the resources of one connection attempt. Everything in it is
// torn down together.
type run struct {
	gen      int
	channel  Channel
	stream   AudioStream
	monitor  *LevelMonitor
	recorder *Recorder
	cancel   context.CancelFunc

	recorderDone chan struct{}
	captureOnce  sync.Once
	closeOnce    sync.Once
}

// stopCapture stops the device and level monitor and waits for the recorder
// to flush its last chunk.
func (r *run) stopCapture() {
	r.captureOnce.Do(func() {
		r.monitor.Stop()
		_ = r.stream.Stop()
		<-r.recorderDone
	})
}

func (r *run) close() {
	r.closeOnce.Do(func() {
		r.cancel()
		r.monitor.Stop()
		_ = r.stream.Close()
		_ = r.channel.Close()
	})
}

// Controller is the client side of a transcription session. It owns the
// audio device and the channel, cuts audio into chunks, tracks the input
// level, applies arriving segments and reconnects after channel loss while
// recording.
//
// Every asynchronous callback carries the generation of the run that
// produced it; callbacks from a run that has since been torn down are ignored.
type Controller struct {
	device   AudioDevice
	dialer   Dialer
	listener Listener
	cfg      Config
	logger   zerolog.Logger
	segments *SegmentLog

	root   context.Context
	cancel context.CancelFunc

	events     chan Event
	levels     chan Event
	done       chan struct{}
	dispatched chan struct{}

	mu               sync.Mutex
	status           Status
	lastErr          error
	generation       int
	current          *run
	recordingActive  bool
	diarize          bool
	reconnectAttempt int
	reconnectTimer   *time.Timer
	stopTimer        *time.Timer
	level            float64
	speaking         bool
	closed           bool
}

// NewController creates an idle controller. listener may be nil.
func NewController(device AudioDevice, dialer Dialer, listener Listener, cfg Config) *Controller {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 1500 * time.Millisecond
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Reconnect.Backoff <= 0 {
		cfg.Reconnect = resilience.DefaultReconnectConfig()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if listener == nil {
		listener = ListenerFunc(func(Event) {})
	}

	root, cancel := context.WithCancel(context.Background())
	c := &Controller{
		device:     device,
		dialer:     dialer,
		listener:   listener,
		cfg:        cfg,
		logger:     cfg.Logger,
		segments:   NewSegmentLog(cfg.HistoryLimit),
		root:       root,
		cancel:     cancel,
		events:     make(chan Event, 256),
		levels:     make(chan Event, 1),
		done:       make(chan struct{}),
		dispatched: make(chan struct{}),
		diarize:    cfg.Diarize,
	}
	go c.dispatch()
	return c
}

// dispatch delivers events to the listener in order. Level updates are
// coalesced so a slow listener only ever sees the latest level. Once done is
// closed, events already queued are delivered and the rest are dropped.
func (c *Controller) dispatch() {
	defer close(c.dispatched)
	for {
		select {
		case e := <-c.events:
			c.listener.OnEvent(e)
		case e := <-c.levels:
			c.listener.OnEvent(e)
		case <-c.done:
			for {
				select {
				case e := <-c.events:
					c.listener.OnEvent(e)
				default:
					return
				}
			}
		}
	}
}

// emit must not be called with c.mu held. It never blocks after Close.
func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

func (c *Controller) emitLevel(level float64, speaking bool) {
	c.mu.Lock()
	c.level, c.speaking = level, speaking
	c.mu.Unlock()

	e := Event{Kind: EventLevel, Level: level, Speaking: speaking}
	for {
		select {
		case c.levels <- e:
			return
		default:
		}
		select {
		case <-c.levels:
		default:
		}
	}
}

// setStatusLocked updates status and returns the event to emit once c.mu is released.
func (c *Controller) setStatusLocked(status Status, err error) Event {
	c.status = status
	c.lastErr = err
	return Event{
		Kind:     EventStatus,
		Status:   status,
		Err:      err,
		Retrying: status == StatusError && c.reconnectTimer != nil,
	}
}

// SetDiarize sets the diarization flag sent with the next start.
func (c *Controller) SetDiarize(diarize bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusConnecting || c.status == StatusRecording || c.status == StatusStopping {
		return ErrAlreadyActive
	}
	c.diarize = diarize
	return nil
}

// Start opens the audio device and the channel and begins recording.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.status {
	case StatusConnecting, StatusRecording, StatusStopping:
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.cancelTimersLocked()
	c.recordingActive = false
	c.reconnectAttempt = 0
	c.mu.Unlock()

	return c.connect(ctx)
}

// connect runs the start sequence: device, channel, start message, recorder
// and level monitor.
func (c *Controller) connect(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	diarize := c.diarize
	ev := c.setStatusLocked(StatusConnecting, nil)
	c.mu.Unlock()
	c.emit(ev)

	stream, err := c.device.Open(ctx, c.cfg.Audio)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDevice, err)
		c.logger.Error().Err(err).Msg("Failed to open audio device")
		c.fail(gen, err)
		return err
	}

	channel, err := c.dialer.Dial(ctx, c.cfg.ServerURL)
	if err != nil {
		_ = stream.Close()
		c.logger.Warn().Err(err).Str("url", c.cfg.ServerURL).Msg("Failed to connect to session server")
		c.channelLost(gen, err)
		return err
	}

	runCtx, cancel := context.WithCancel(c.root)
	tap := audio.NewRingBuffer(c.cfg.Audio.SampleRate)
	r := &run{
		gen:          gen,
		channel:      channel,
		stream:       stream,
		cancel:       cancel,
		recorderDone: make(chan struct{}),
	}
	r.monitor = NewLevelMonitor(tap, c.cfg.LevelInterval, c.cfg.LevelSmoothing, c.cfg.Audio.SampleRate/20, func(level float64, speaking bool) {
		// the reset on teardown is reported even after the run is detached
		if c.isCurrent(gen) || (level == 0 && !speaking) {
			c.emitLevel(level, speaking)
		}
	})
	r.recorder = NewRecorder(stream, c.cfg.Audio.SampleRate, c.cfg.ChunkInterval, tap)
	r.recorder.OnStart = func() { c.recorderStarted(gen) }
	r.recorder.OnChunk = func(chunk Chunk) { c.sendChunk(r, chunk) }

	c.mu.Lock()
	if gen != c.generation || c.closed {
		// stopped while connecting
		c.mu.Unlock()
		close(r.recorderDone)
		r.close()
		return nil
	}
	c.current = r
	c.mu.Unlock()

	if err := channel.Send(protocol.Start(diarize)); err != nil {
		close(r.recorderDone)
		c.channelLost(gen, err)
		return err
	}

	go c.readLoop(r)
	go func() {
		defer close(r.recorderDone)
		if err := r.recorder.Run(runCtx); err != nil {
			c.captureFailed(gen, err)
			return
		}
		c.captureEnded(gen)
	}()
	r.monitor.Start()
	return nil
}

func (c *Controller) isCurrent(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation && c.current != nil
}

func (c *Controller) recorderStarted(gen int) {
	c.mu.Lock()
	if gen != c.generation || c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.recordingActive = true
	ev := c.setStatusLocked(StatusRecording, nil)
	c.mu.Unlock()

	c.logger.Info().Msg("Recording")
	c.emit(ev)
}

func (c *Controller) sendChunk(r *run, chunk Chunk) {
	c.mu.Lock()
	live := r.gen == c.generation && (c.status == StatusRecording || c.status == StatusStopping || c.status == StatusConnecting)
	c.mu.Unlock()
	if !live {
		return
	}

	if err := r.channel.Send(protocol.AudioChunk(chunk.ID, chunk.MimeType, chunk.Data)); err != nil {
		c.logger.Debug().Err(err).Str("chunk_id", chunk.ID).Msg("Failed to send chunk")
		return
	}
	_ = r.channel.Send(protocol.Commit())
	c.logger.Debug().Str("chunk_id", chunk.ID).Int("bytes", len(chunk.Data)).Dur("duration", chunk.Duration).Msg("Chunk sent")
}

func (c *Controller) readLoop(r *run) {
	for {
		msg, err := r.channel.Receive()
		if err != nil {
			if isMalformed(err) {
				c.logger.Warn().Err(err).Msg("Ignoring malformed server message")
				continue
			}
			c.channelLost(r.gen, err)
			return
		}
		c.handleServer(r.gen, msg)
	}
}

func (c *Controller) handleServer(gen int, msg protocol.ServerMessage) {
	if !c.isCurrent(gen) {
		return
	}

	switch msg.Type {
	case protocol.TypeReady:
		c.mu.Lock()
		c.reconnectAttempt = 0
		c.mu.Unlock()
		c.logger.Debug().Msg("Server ready")

	case protocol.TypeStatus:
		c.logger.Debug().Str("state", string(msg.State)).Msg("Server status")
		if msg.State == protocol.StateClosed {
			c.finish(gen)
		}

	case protocol.TypeSegment:
		replaced := c.segments.Apply(*msg.Segment)
		c.emit(Event{Kind: EventSegment, Segment: *msg.Segment, Replaced: replaced})

	case protocol.TypeSegments:
		c.segments.ReplaceAll(msg.Segments)
		c.emit(Event{Kind: EventSegments})

	case protocol.TypeError:
		c.logger.Warn().Str("message", msg.Message).Msg("Server reported an error")
		c.emit(Event{Kind: EventNotice, Message: msg.Message})

	case protocol.TypeInfo:
		c.logger.Debug().Str("message", msg.Message).Msg("Server info")
	}
}

// Stop ends recording: the device stops, the final chunk is flushed, stop is
// sent and the channel stays open until the server reports closed or the
// stop timeout elapses. A pending reconnect is cancelled.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.status {
	case StatusStopping:
		c.mu.Unlock()
		return nil
	case StatusIdle, StatusError:
		if c.reconnectTimer == nil {
			c.mu.Unlock()
			return ErrNotRecording
		}
		c.cancelTimersLocked()
		c.recordingActive = false
		c.generation++
		ev := c.setStatusLocked(StatusIdle, nil)
		c.mu.Unlock()
		c.emit(ev)
		return nil
	}

	c.recordingActive = false
	r := c.current
	if r == nil {
		// still opening the device or dialing; connect sees the new generation
		c.generation++
		ev := c.setStatusLocked(StatusIdle, nil)
		c.mu.Unlock()
		c.emit(ev)
		return nil
	}
	gen := c.generation
	ev := c.setStatusLocked(StatusStopping, nil)
	c.mu.Unlock()
	c.emit(ev)

	c.logger.Info().Msg("Stopping")
	r.stopCapture()

	if err := r.channel.Send(protocol.Stop()); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send stop")
		c.finish(gen)
		return nil
	}

	c.mu.Lock()
	if gen == c.generation && c.status == StatusStopping {
		c.stopTimer = time.AfterFunc(c.cfg.StopTimeout, func() {
			c.logger.Warn().Dur("timeout", c.cfg.StopTimeout).Msg("Server did not acknowledge stop")
			c.finish(gen)
		})
	}
	c.mu.Unlock()
	return nil
}

// finish completes a stop: tear down the run and go idle.
func (c *Controller) finish(gen int) {
	c.mu.Lock()
	if gen != c.generation || c.status != StatusStopping {
		c.mu.Unlock()
		return
	}
	r := c.detachLocked()
	ev := c.setStatusLocked(StatusIdle, nil)
	c.mu.Unlock()

	if r != nil {
		r.close()
	}
	c.logger.Info().Msg("Stopped")
	c.emit(ev)
}

// channelLost handles a dial failure or the channel closing. While the
// controller is actively recording it schedules a reconnect.
func (c *Controller) channelLost(gen int, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	wasStopping := c.status == StatusStopping
	r := c.detachLocked()

	var events []Event
	switch {
	case wasStopping:
		events = append(events, c.setStatusLocked(StatusIdle, nil))
	case c.recordingActive && !c.closed:
		events = append(events, c.scheduleReconnectLocked(cause)...)
	default:
		events = append(events, c.setStatusLocked(StatusError, cause))
	}
	c.mu.Unlock()

	if r != nil {
		r.close()
	}
	if !wasStopping {
		c.logger.Warn().Err(cause).Msg("Channel lost")
	}
	for _, ev := range events {
		c.emit(ev)
	}
}

// scheduleReconnectLocked moves to error and arms the backoff timer, or gives
// up once attempts are exhausted.
func (c *Controller) scheduleReconnectLocked(cause error) []Event {
	delay, ok := c.cfg.Reconnect.Delay(c.reconnectAttempt)
	if !ok {
		c.recordingActive = false
		err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, c.reconnectAttempt, cause)
		return []Event{c.setStatusLocked(StatusError, err)}
	}

	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	gen := c.generation
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnect(gen) })

	c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnect scheduled")
	return []Event{
		c.setStatusLocked(StatusError, cause),
		{Kind: EventReconnect, Attempt: attempt, Delay: delay},
	}
}

func (c *Controller) reconnect(gen int) {
	c.mu.Lock()
	if gen != c.generation || !c.recordingActive || c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	_ = c.connect(c.root)
}

// captureFailed is a local device failure mid-recording: no reconnect.
func (c *Controller) captureFailed(gen int, err error) {
	c.mu.Lock()
	if gen != c.generation || c.status == StatusStopping {
		c.mu.Unlock()
		return
	}
	c.recordingActive = false
	r := c.detachLocked()
	err = fmt.Errorf("%w: %v", ErrDevice, err)
	ev := c.setStatusLocked(StatusError, err)
	c.mu.Unlock()

	if r != nil {
		r.close()
	}
	c.logger.Error().Err(err).Msg("Audio capture failed")
	c.emit(ev)
}

// captureEnded handles the source running dry (end of an input file) by
// stopping gracefully.
func (c *Controller) captureEnded(gen int) {
	c.mu.Lock()
	ended := gen == c.generation && c.status == StatusRecording
	c.mu.Unlock()
	if ended {
		c.logger.Info().Msg("Audio source ended")
		go c.Stop()
	}
}

// fail moves to error without reconnecting.
func (c *Controller) fail(gen int, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.recordingActive = false
	r := c.detachLocked()
	ev := c.setStatusLocked(StatusError, err)
	c.mu.Unlock()

	if r != nil {
		r.close()
	}
	c.emit(ev)
}

// detachLocked invalidates the current generation and returns its run for
// teardown outside the lock.
func (c *Controller) detachLocked() *run {
	r := c.current
	c.current = nil
	c.generation++
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
	return r
}

func (c *Controller) cancelTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Status:           c.status,
		Segments:         c.segments.Segments(),
		ReconnectAttempt: c.reconnectAttempt,
		AudioLevel:       c.level,
		Speaking:         c.speaking,
		Diarize:          c.diarize,
		Err:              c.lastErr,
	}
}

// Close tears everything down without waiting for the server and stops
// event delivery. The controller cannot be restarted.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.recordingActive = false
	c.cancelTimersLocked()
	r := c.detachLocked()
	c.status = StatusIdle
	c.mu.Unlock()

	if r != nil {
		r.close()
		<-r.recorderDone
	}
	c.cancel()
	close(c.done)
	<-c.dispatched
}

// IsTerminal reports whether err ended the session for good (as opposed to a
// transient failure the controller will retry).
func IsTerminal(err error) bool {
	return errors.Is(err, ErrDevice) || errors.Is(err, ErrReconnectExhausted)
}
