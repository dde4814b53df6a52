package audio

import (
	"bytes"
	"strings"
)

const (
	MimeWebM = "audio/webm"
	MimeOgg  = "audio/ogg"
	MimeWAV  = "audio/wav"
	MimeFLAC = "audio/flac"
	MimeMP3  = "audio/mpeg"
	MimeMP4  = "audio/mp4"
)

// SniffMIME identifies a chunk's container from its magic bytes. When the
// bytes are not recognized it falls back to hint, then to def.
func SniffMIME(data []byte, hint, def string) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return MimeWebM
	case bytes.HasPrefix(data, []byte("OggS")):
		return MimeOgg
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return MimeWAV
	case bytes.HasPrefix(data, []byte("fLaC")):
		return MimeFLAC
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) >= 2 && data[0] == 0xff && data[1]&0xe0 == 0xe0:
		return MimeMP3
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return MimeMP4
	}
	if hint != "" {
		return hint
	}
	return def
}

// Extension maps a MIME type (parameters allowed) to a file extension for
// backends that infer the format from a filename.
func Extension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case MimeWebM, "video/webm":
		return "webm"
	case MimeOgg:
		return "ogg"
	case MimeWAV, "audio/x-wav", "audio/wave":
		return "wav"
	case MimeFLAC:
		return "flac"
	case MimeMP3, "audio/mp3":
		return "mp3"
	case MimeMP4, "audio/m4a", "audio/x-m4a":
		return "m4a"
	default:
		return "webm"
	}
}
