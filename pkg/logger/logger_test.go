package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "auto", false)
	log.Debug().Str("host", "10.0.0.5").Msg("Result applied")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["host"] != "10.0.0.5" || entry["message"] != "Result applied" {
		t.Errorf("entry: got %v", entry)
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "console", false)
	log.Info().Msg("Dispatcher started")

	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "Dispatcher started") {
		t.Errorf("expected console output, got %q", out)
	}
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", "json", true)
	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
	log.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Error("warn not logged at warn level")
	}
}
