package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are not valid JSON messages.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownType is returned for messages with an unrecognized type.
	ErrUnknownType = errors.New("unknown message type")
)

// DecodeClient parses and validates a client frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Type {
	case TypeStart, TypeCommit, TypeStop:
		return msg, nil
	case TypeAudioChunk:
		if msg.ID == "" {
			return ClientMessage{}, fmt.Errorf("%w: audio-chunk missing id", ErrMalformed)
		}
		if msg.Data == "" {
			return ClientMessage{}, fmt.Errorf("%w: audio-chunk %s missing data", ErrMalformed, msg.ID)
		}
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// DecodeAudio returns the raw audio bytes carried by an audio-chunk message.
func DecodeAudio(msg ClientMessage) ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s is not valid base64: %v", ErrMalformed, msg.ID, err)
	}
	return audio, nil
}

// DecodeServer parses a server frame. Unknown types are returned as-is so the
// client can ignore them.
func DecodeServer(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return ServerMessage{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if msg.Type == TypeSegment && msg.Segment == nil {
		return ServerMessage{}, fmt.Errorf("%w: segment message without segment", ErrMalformed)
	}
	return msg, nil
}

// Encode marshals any protocol message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

func Ready() ServerMessage { return ServerMessage{Type: TypeReady} }

func Status(state SessionState) ServerMessage {
	return ServerMessage{Type: TypeStatus, State: state}
}

func SegmentMessage(seg Segment) ServerMessage {
	return ServerMessage{Type: TypeSegment, Segment: &seg}
}

func SegmentsMessage(segs []Segment) ServerMessage {
	return ServerMessage{Type: TypeSegments, Segments: segs}
}

func Error(message string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: message}
}

func Info(message string) ServerMessage {
	return ServerMessage{Type: TypeInfo, Message: message}
}

func Start(diarize bool) ClientMessage {
	return ClientMessage{Type: TypeStart, Diarize: diarize}
}

// AudioChunk base64-frames one self-contained chunk.
func AudioChunk(id, mimeType string, audio []byte) ClientMessage {
	return ClientMessage{
		Type:     TypeAudioChunk,
		ID:       id,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(audio),
	}
}

func Commit() ClientMessage { return ClientMessage{Type: TypeCommit} }

func Stop() ClientMessage { return ClientMessage{Type: TypeStop} }
