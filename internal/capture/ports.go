package capture

import (
	"context"
	"io"
	"time"

	"github.com/lexiqai/transcription-gateway/internal/protocol"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioStream is a live capture producing 16-bit little-endian PCM.
type AudioStream interface {
	io.ReadCloser
	Stop() error
}

// AudioDevice opens capture streams. Open failing is a local capture error
// (permission denied, missing device) and never triggers reconnection.
type AudioDevice interface {
	Open(ctx context.Context, cfg AudioConfig) (AudioStream, error)
}

// Channel is the duplex message channel to the session server.
type Channel interface {
	Send(msg protocol.ClientMessage) error
	Receive() (protocol.ServerMessage, error)
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventStatus    EventKind = iota // Status and Err changed
	EventSegment                    // Segment was applied to the log
	EventSegments                   // the log was bulk replaced
	EventLevel                      // Level and Speaking changed
	EventReconnect                  // a reconnect was scheduled
	EventNotice                     // server reported a non-fatal error
)

// Event is a controller notification. Only the fields for Kind are set.
type Event struct {
	Kind   EventKind
	Status Status
	Err    error
	// Retrying is set on an error status when a reconnect is pending.
	Retrying bool
	Segment  protocol.Segment
	Replaced bool
	Level    float64
	Speaking bool
	Attempt  int
	Delay    time.Duration
	Message  string
}

// Listener receives controller events in order on a single goroutine.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }
