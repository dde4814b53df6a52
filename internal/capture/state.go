package capture

import (
	"errors"

	"github.com/lexiqai/transcription-gateway/internal/protocol"
)

var (
	ErrAlreadyActive      = errors.New("capture is already active")
	ErrNotRecording       = errors.New("capture is not recording")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrDevice             = errors.New("audio device error")
	ErrClosed             = errors.New("controller is closed")
)

// Status is the controller's coarse lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusRecording
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusRecording:
		return "recording"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a point-in-time copy of the controller's state.
type State struct {
	Status           Status
	Segments         []protocol.Segment
	ReconnectAttempt int
	AudioLevel       float64
	Speaking         bool
	Diarize          bool
	Err              error
}
