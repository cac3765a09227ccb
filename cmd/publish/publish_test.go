package publish

import (
	"strings"
	"testing"

	"autofleet/internal/dispatcher"
)

func TestReadPayload_Goodbye(t *testing.T) {
	data, err := readPayload(Options{Goodbye: true, Payload: "ignored"})
	if err != nil {
		t.Fatalf("readPayload: %v", err)
	}
	rec, err := dispatcher.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Type != "goodbye" {
		t.Errorf("Type: got %s, want goodbye", rec.Type)
	}
}

func TestReadPayload_Stdin(t *testing.T) {
	data, err := readPayload(Options{Stdin: strings.NewReader("  {\"type\":\"REGISTER\"}\n")})
	if err != nil {
		t.Fatalf("readPayload: %v", err)
	}
	if string(data) != `{"type":"REGISTER"}` {
		t.Errorf("payload: got %q", data)
	}
}

func TestReadPayload_Empty(t *testing.T) {
	if _, err := readPayload(Options{Stdin: strings.NewReader("\n")}); err == nil {
		t.Error("expected error for an empty payload")
	}
	if _, err := readPayload(Options{}); err == nil {
		t.Error("expected error without a payload source")
	}
}
