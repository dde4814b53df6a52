package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/transcription-gateway/internal/protocol"
	"github.com/lexiqai/transcription-gateway/internal/stt"
)

var errConnClosed = errors.New("connection closed")

// fakeConn feeds client frames from in and records decoded server frames.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	out       chan protocol.ServerMessage

	mu   sync.Mutex
	sent []protocol.ServerMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
		out:    make(chan protocol.ServerMessage, 256),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	c.out <- msg
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sendClient(t *testing.T, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.in <- data
}

func (c *fakeConn) expect(t *testing.T, msgType string) protocol.ServerMessage {
	t.Helper()
	select {
	case msg := <-c.out:
		if msg.Type != msgType {
			t.Fatalf("Expected %s message, got %+v", msgType, msg)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s message", msgType)
	}
	return protocol.ServerMessage{}
}

func (c *fakeConn) expectStatus(t *testing.T, state protocol.SessionState) {
	t.Helper()
	if msg := c.expect(t, protocol.TypeStatus); msg.State != state {
		t.Fatalf("Expected status %s, got %s", state, msg.State)
	}
}

func (c *fakeConn) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-c.out:
		t.Fatalf("Expected no message, got %+v", msg)
	case <-time.After(wait):
	}
}

// scriptedBackend returns one segment per call, optionally blocking until released.
type scriptedBackend struct {
	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
	diarize   []bool
	mimeTypes []string

	started chan int      // receives the call index when a call begins
	release chan struct{} // when set, each call waits for a token
	delay   time.Duration
	result  func(call int) (stt.Result, error)
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Transcribe(ctx context.Context, audio []byte, mimeType string, diarize bool) (stt.Result, error) {
	b.mu.Lock()
	call := b.calls
	b.calls++
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.diarize = append(b.diarize, diarize)
	b.mimeTypes = append(b.mimeTypes, mimeType)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()

	if b.started != nil {
		b.started <- call
	}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.result != nil {
		return b.result(call)
	}
	return stt.Result{Segments: []stt.RawSegment{{
		Speaker: stt.DefaultSpeaker,
		Start:   0,
		End:     1,
		Text:    fmt.Sprintf("chunk %d", call),
	}}}, nil
}

func (b *scriptedBackend) stats() (calls, maxActive int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.maxActive
}

type runningSession struct {
	session *Session
	conn    *fakeConn
	done    chan error
	cancel  context.CancelFunc
}

func startSession(t *testing.T, backend stt.Backend, opts Options) *runningSession {
	t.Helper()
	if opts.SessionID == "" {
		opts.SessionID = "test"
	}
	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	session := NewSession(conn, backend, opts, zerolog.Nop(), nil)

	rs := &runningSession{session: session, conn: conn, done: make(chan error, 1), cancel: cancel}
	go func() { rs.done <- session.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-rs.done:
		case <-time.After(2 * time.Second):
			t.Error("session did not exit")
		}
	})

	conn.expect(t, protocol.TypeReady)
	return rs
}

func (rs *runningSession) start(t *testing.T, diarize bool) {
	t.Helper()
	rs.conn.sendClient(t, protocol.Start(diarize))
	rs.conn.expectStatus(t, protocol.StateStreaming)
}

func (rs *runningSession) sendChunk(t *testing.T, i int) {
	t.Helper()
	rs.conn.sendClient(t, protocol.AudioChunk(fmt.Sprintf("c%d", i), "audio/wav", []byte{byte(i), 1, 2, 3}))
	rs.conn.sendClient(t, protocol.Commit())
}

func (rs *runningSession) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rs.done:
		rs.done <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for session to end")
	}
	return nil
}

func TestSession_ReadyAndStart(t *testing.T) {
	backend := &scriptedBackend{}
	rs := startSession(t, backend, Options{})
	rs.start(t, true)

	if !rs.session.Diarize() {
		t.Error("Expected diarize to be recorded")
	}

	// diarize is fixed by the first start
	rs.conn.sendClient(t, protocol.Start(false))
	rs.conn.expectStatus(t, protocol.StateStreaming)
	if !rs.session.Diarize() {
		t.Error("Expected diarize to stay true after a second start")
	}

	rs.sendChunk(t, 0)
	rs.conn.expect(t, protocol.TypeSegment)
	if backend.diarize[0] != true {
		t.Error("Expected backend to receive diarize=true")
	}
}

func TestSession_RebasesOntoTimeline(t *testing.T) {
	rs := startSession(t, stt.NewMockBackend(), Options{})
	rs.start(t, false)

	const chunks = 6
	for i := 0; i < chunks; i++ {
		rs.sendChunk(t, i)
	}

	prevStart := -1.0
	ids := make(map[string]bool)
	for i := 0; i < chunks; i++ {
		seg := rs.conn.expect(t, protocol.TypeSegment).Segment
		want := float64(i) * stt.MockSegmentDuration
		if seg.Start != want || seg.End != want+stt.MockSegmentDuration {
			t.Errorf("Segment %d: expected [%v, %v], got [%v, %v]", i, want, want+stt.MockSegmentDuration, seg.Start, seg.End)
		}
		if seg.Start < prevStart {
			t.Errorf("Segment %d: start %v decreased from %v", i, seg.Start, prevStart)
		}
		prevStart = seg.Start
		if ids[seg.ID] {
			t.Errorf("Duplicate segment id %s", seg.ID)
		}
		ids[seg.ID] = true
		if !seg.IsFinal {
			t.Error("Expected isFinal true")
		}
	}

	if got := rs.session.TimelineCursor(); got != chunks*stt.MockSegmentDuration {
		t.Errorf("Expected cursor %v, got %v", chunks*stt.MockSegmentDuration, got)
	}
}

func TestSession_CursorAdvance(t *testing.T) {
	two := 2.0
	tests := []struct {
		name     string
		result   stt.Result
		expected float64
	}{
		{
			name:     "reported duration wins",
			result:   stt.Result{Duration: &two, Segments: []stt.RawSegment{{Start: 0, End: 1, Text: "a"}}},
			expected: 6,
		},
		{
			name: "max end fallback",
			result: stt.Result{Segments: []stt.RawSegment{
				{Start: 0.5, End: 1.25, Text: "b"},
				{Start: 0, End: 0.5, Text: "a"},
			}},
			expected: 3.75,
		},
		{
			name:     "empty result with duration still advances",
			result:   stt.Result{Duration: &two},
			expected: 6,
		},
		{
			name:     "empty result without duration",
			result:   stt.Result{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{result: func(int) (stt.Result, error) { return tt.result, nil }}
			rs := startSession(t, backend, Options{})
			rs.start(t, false)

			for i := 0; i < 3; i++ {
				rs.sendChunk(t, i)
			}
			for i := 0; i < 3*len(tt.result.Segments); i++ {
				rs.conn.expect(t, protocol.TypeSegment)
			}

			deadline := time.Now().Add(2 * time.Second)
			for {
				calls, _ := backend.stats()
				if calls == 3 && rs.session.TimelineCursor() == tt.expected {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("Expected cursor %v after 3 chunks, got %v (%d calls)", tt.expected, rs.session.TimelineCursor(), calls)
				}
				time.Sleep(5 * time.Millisecond)
			}
		})
	}
}

func TestSession_SegmentsWithinChunkOrdered(t *testing.T) {
	backend := &scriptedBackend{result: func(int) (stt.Result, error) {
		return stt.Result{Segments: []stt.RawSegment{
			{Speaker: "Speaker 2", Start: 0.6, End: 1.0, Text: "second"},
			{Speaker: "Speaker 1", Start: 0.0, End: 0.5, Text: "first"},
		}}, nil
	}}
	rs := startSession(t, backend, Options{})
	rs.start(t, true)
	rs.sendChunk(t, 0)

	first := rs.conn.expect(t, protocol.TypeSegment).Segment
	second := rs.conn.expect(t, protocol.TypeSegment).Segment
	if first.Text != "first" || second.Text != "second" {
		t.Errorf("Expected segments ordered by start, got %q then %q", first.Text, second.Text)
	}
}

func TestSession_AtMostOneConcurrentBackendCall(t *testing.T) {
	backend := &scriptedBackend{delay: 5 * time.Millisecond}
	rs := startSession(t, backend, Options{})
	rs.start(t, false)

	const chunks = 12
	for i := 0; i < chunks; i++ {
		rs.sendChunk(t, i)
	}
	for i := 0; i < chunks; i++ {
		seg := rs.conn.expect(t, protocol.TypeSegment).Segment
		if want := fmt.Sprintf("chunk %d", i); seg.Text != want {
			t.Errorf("Expected FIFO order %q, got %q", want, seg.Text)
		}
	}

	calls, maxActive := backend.stats()
	if calls != chunks {
		t.Errorf("Expected %d backend calls, got %d", chunks, calls)
	}
	if maxActive != 1 {
		t.Errorf("Expected at most 1 concurrent backend call, got %d", maxActive)
	}
}

func TestSession_StopDiscardsQueuedChunks(t *testing.T) {
	backend := &scriptedBackend{
		started: make(chan int, 8),
		release: make(chan struct{}),
	}
	rs := startSession(t, backend, Options{StopGrace: 10 * time.Millisecond})
	rs.start(t, false)

	for i := 0; i < 4; i++ {
		rs.sendChunk(t, i)
	}
	<-backend.started // chunk 0 in flight, 1-3 queued

	rs.conn.sendClient(t, protocol.Stop())
	rs.conn.expectStatus(t, protocol.StateFinalizing)

	close(backend.release)
	rs.conn.expect(t, protocol.TypeSegment)
	rs.conn.expectStatus(t, protocol.StateClosed)

	if err := rs.waitDone(t); err != nil {
		t.Errorf("Expected clean stop, got %v", err)
	}
	if !rs.conn.isClosed() {
		t.Error("Expected connection to be closed after stop")
	}
	if calls, _ := backend.stats(); calls != 1 {
		t.Errorf("Expected only the in-flight chunk to reach the backend, got %d calls", calls)
	}
	rs.conn.expectNothing(t, 50*time.Millisecond)
}

func TestSession_StopWhenIdle(t *testing.T) {
	rs := startSession(t, &scriptedBackend{}, Options{})
	rs.start(t, false)

	rs.conn.sendClient(t, protocol.Stop())
	rs.conn.expectStatus(t, protocol.StateFinalizing)
	rs.conn.expectStatus(t, protocol.StateClosed)
	rs.waitDone(t)
}

func TestSession_BackendErrorIsNotFatal(t *testing.T) {
	backend := &scriptedBackend{result: func(call int) (stt.Result, error) {
		if call == 0 {
			return stt.Result{}, errors.New("provider unavailable")
		}
		return stt.Result{Segments: []stt.RawSegment{{Start: 0, End: 1, Text: "recovered"}}}, nil
	}}
	rs := startSession(t, backend, Options{})
	rs.start(t, false)

	rs.sendChunk(t, 0)
	rs.sendChunk(t, 1)

	errMsg := rs.conn.expect(t, protocol.TypeError)
	if !strings.Contains(errMsg.Message, "c0") || !strings.Contains(errMsg.Message, "provider unavailable") {
		t.Errorf("Expected error naming chunk and cause, got %q", errMsg.Message)
	}
	seg := rs.conn.expect(t, protocol.TypeSegment).Segment
	if seg.Text != "recovered" || seg.Start != 0 {
		t.Errorf("Expected recovered segment at 0 (failed chunk does not advance), got %+v", seg)
	}
	if seg.Speaker != stt.DefaultSpeaker {
		t.Errorf("Expected empty speaker to default to %q, got %q", stt.DefaultSpeaker, seg.Speaker)
	}
}

func TestSession_BackendTimeout(t *testing.T) {
	backend := &scriptedBackend{release: make(chan struct{})} // never released
	rs := startSession(t, backend, Options{BackendTimeout: 20 * time.Millisecond})
	rs.start(t, false)

	rs.sendChunk(t, 0)
	errMsg := rs.conn.expect(t, protocol.TypeError)
	if !strings.Contains(errMsg.Message, "timed out") {
		t.Errorf("Expected timeout error, got %q", errMsg.Message)
	}
}

func TestSession_MalformedInput(t *testing.T) {
	rs := startSession(t, &scriptedBackend{}, Options{})

	rs.conn.in <- []byte("not json")
	rs.conn.expect(t, protocol.TypeError)

	rs.conn.in <- []byte(`{"type":"pause"}`)
	if msg := rs.conn.expect(t, protocol.TypeError); !strings.Contains(msg.Message, "unknown message type") {
		t.Errorf("Expected unknown type error, got %q", msg.Message)
	}

	rs.conn.in <- []byte(`{"type":"audio-chunk","id":"x","data":"!!!"}`)
	rs.conn.expect(t, protocol.TypeError)

	// session keeps working
	rs.start(t, false)
	rs.sendChunk(t, 0)
	rs.conn.expect(t, protocol.TypeSegment)
}

func TestSession_MimeTypeDefaulting(t *testing.T) {
	backend := &scriptedBackend{}
	rs := startSession(t, backend, Options{DefaultMimeType: "audio/webm;codecs=opus"})
	rs.start(t, false)

	rs.conn.sendClient(t, protocol.AudioChunk("ogg", "", []byte("OggS\x00\x02")))
	rs.conn.expect(t, protocol.TypeSegment)
	rs.conn.sendClient(t, protocol.AudioChunk("raw", "", []byte{0, 1, 2}))
	rs.conn.expect(t, protocol.TypeSegment)
	rs.conn.sendClient(t, protocol.AudioChunk("hinted", "audio/mp4", []byte("OggS")))
	rs.conn.expect(t, protocol.TypeSegment)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	want := []string{"audio/ogg", "audio/webm;codecs=opus", "audio/mp4"}
	for i, mt := range want {
		if backend.mimeTypes[i] != mt {
			t.Errorf("Chunk %d: expected mime %q, got %q", i, mt, backend.mimeTypes[i])
		}
	}
}

func TestSession_ConnectionLossCancelsInFlight(t *testing.T) {
	backend := &scriptedBackend{
		started: make(chan int, 8),
		release: make(chan struct{}),
	}
	rs := startSession(t, backend, Options{})
	rs.start(t, false)

	rs.sendChunk(t, 0)
	rs.sendChunk(t, 1)
	<-backend.started

	close(rs.conn.in) // client vanished
	if err := rs.waitDone(t); err == nil {
		t.Error("Expected connection loss to be reported")
	}
	if calls, _ := backend.stats(); calls != 1 {
		t.Errorf("Expected queued chunk to be dropped, got %d calls", calls)
	}
	rs.conn.expectNothing(t, 30*time.Millisecond)
}

func TestSession_MockDeterminismAcrossSessions(t *testing.T) {
	run := func() []protocol.Segment {
		rs := startSession(t, stt.NewMockBackend(), Options{})
		rs.start(t, false)
		for i := 0; i < 7; i++ {
			rs.sendChunk(t, i)
		}
		segs := make([]protocol.Segment, 0, 7)
		for i := 0; i < 7; i++ {
			segs = append(segs, *rs.conn.expect(t, protocol.TypeSegment).Segment)
		}
		rs.conn.sendClient(t, protocol.Stop())
		rs.waitDone(t)
		return segs
	}

	first, second := run(), run()
	for i := range first {
		if first[i].Text != second[i].Text {
			t.Errorf("Segment %d: %q != %q", i, first[i].Text, second[i].Text)
		}
		if first[i].Speaker != stt.DefaultSpeaker || second[i].Speaker != stt.DefaultSpeaker {
			t.Errorf("Segment %d: expected constant speaker label, got %q/%q", i, first[i].Speaker, second[i].Speaker)
		}
	}
}
