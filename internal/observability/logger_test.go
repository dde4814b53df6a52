package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLoggerWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerWithWriter("debug", false, &buf)

	logger := WithCorrelationID("abc-123")
	logger.Info().Str("session_id", "s1").Msg("session opened")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["correlation_id"] != "abc-123" {
		t.Errorf("Expected correlation_id abc-123, got %v", entry["correlation_id"])
	}
	if entry["session_id"] != "s1" {
		t.Errorf("Expected session_id s1, got %v", entry["session_id"])
	}
	if entry["message"] != "session opened" {
		t.Errorf("Expected message 'session opened', got %v", entry["message"])
	}
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerWithWriter("info", false, &buf)

	logger := WithCorrelationID("")
	logger.Info().Msg("x")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if id, _ := entry["correlation_id"].(string); len(id) != 36 {
		t.Errorf("Expected generated uuid correlation_id, got %v", entry["correlation_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"info":    zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
