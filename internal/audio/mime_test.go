package audio

import "testing"

func TestSniffMIME(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		hint     string
		expected string
	}{
		{"webm", []byte{0x1a, 0x45, 0xdf, 0xa3, 0x01}, "", MimeWebM},
		{"ogg", []byte("OggS\x00\x02"), "", MimeOgg},
		{"wav", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), "", MimeWAV},
		{"flac", []byte("fLaC\x00"), "", MimeFLAC},
		{"mp3 id3", []byte("ID3\x04"), "", MimeMP3},
		{"mp3 frame sync", []byte{0xff, 0xfb, 0x90}, "", MimeMP3},
		{"mp4", []byte("\x00\x00\x00\x20ftypM4A "), "", MimeMP4},
		{"magic beats hint", []byte("OggS"), "audio/webm", MimeOgg},
		{"unknown uses hint", []byte{0x00, 0x01}, "audio/x-custom", "audio/x-custom"},
		{"unknown uses default", []byte{0x00, 0x01}, "", "audio/webm;codecs=opus"},
		{"empty uses default", nil, "", "audio/webm;codecs=opus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffMIME(tt.data, tt.hint, "audio/webm;codecs=opus"); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"audio/webm;codecs=opus": "webm",
		"audio/wav":              "wav",
		"audio/ogg":              "ogg",
		"audio/mpeg":             "mp3",
		"audio/mp4":              "m4a",
		"application/unknown":    "webm",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}
