// Package protocol defines the JSON messages exchanged over the transcription
// WebSocket between the capture client and the session server.
package protocol

// Client -> server message types
const (
	TypeStart      = "start"
	TypeAudioChunk = "audio-chunk"
	TypeCommit     = "commit"
	TypeStop       = "stop"
)

// Server -> client message types
const (
	TypeReady    = "ready"
	TypeStatus   = "status"
	TypeSegment  = "segment"
	TypeSegments = "segments"
	TypeError    = "error"
	TypeInfo     = "info"
)

// SessionState is the coarse lifecycle carried by a status message.
type SessionState string

const (
	StateStreaming  SessionState = "streaming"
	StateFinalizing SessionState = "finalizing"
	StateClosed     SessionState = "closed"
)

// Segment is one finalized speaker utterance on the session timeline.
type Segment struct {
	ID         string   `json:"id"`
	Speaker    string   `json:"speaker"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	IsFinal    bool     `json:"isFinal"`
}

// ClientMessage is sent from the capture client to the server.
type ClientMessage struct {
	Type     string `json:"type"`
	Diarize  bool   `json:"diarize,omitempty"`
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64 encoded audio
}

// ServerMessage is sent from the server to the capture client.
type ServerMessage struct {
	Type     string       `json:"type"`
	State    SessionState `json:"state,omitempty"`
	Segment  *Segment     `json:"segment,omitempty"`
	Segments []Segment    `json:"segments,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Float64Ptr returns a pointer to v. Convenience for optional confidences.
func Float64Ptr(v float64) *float64 { return &v }
