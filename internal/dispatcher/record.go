package dispatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"autofleet/internal/bus"
)

// ErrMalformed is returned for payloads that do not decode into a Record.
var ErrMalformed = errors.New("dispatcher: malformed message")

// Record is a decoded channel message. Fleet results carry Host and Result;
// control messages carry Type, and monitor orders add Hosts, Rules and Delay.
type Record struct {
	Type   string         `json:"type,omitempty"`
	Host   string         `json:"host,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Hosts  []string       `json:"hosts,omitempty"`
	Rules  []string       `json:"rules,omitempty"`
	Delay  float64        `json:"delay,omitempty"`
}

// Module returns result.invocation.module_name.
func (r Record) Module() (string, bool) {
	inv, ok := r.Result["invocation"].(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := inv["module_name"].(string)
	return name, ok && name != ""
}

// Decode parses a payload strictly: unknown fields, trailing data and records
// that are neither a control message nor a host result are rejected. A bare
// JSON string is only accepted when it names a stop sentinel.
func Decode(data []byte) (Record, error) {
	trimmed := bytes.TrimSpace(data)
	// Bare sentinel text, as published by older transports.
	if string(trimmed) == bus.Goodbye {
		return Record{Type: bus.Goodbye}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		// A quoted sentinel is accepted as a bare type; other strings are not.
		var s string
		if json.Unmarshal(trimmed, &s) == nil && (s == bus.Goodbye || s == MonitorDone) {
			return Record{Type: s}, nil
		}
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if rec.Type == "" && (rec.Host == "" || rec.Result == nil) {
		return Record{}, fmt.Errorf("%w: neither a control message nor a host result", ErrMalformed)
	}
	return rec, nil
}

// EncodeResult builds the payload a transport publishes after running module
// on host. body holds the module's output; invocation.module_name is set.
func EncodeResult(host, module string, body map[string]any) ([]byte, error) {
	result := make(map[string]any, len(body)+1)
	for k, v := range body {
		result[k] = v
	}
	inv := map[string]any{}
	if existing, ok := result["invocation"].(map[string]any); ok {
		for k, v := range existing {
			inv[k] = v
		}
	}
	inv["module_name"] = module
	result["invocation"] = inv

	data, err := json.Marshal(Record{Host: host, Result: result})
	if err != nil {
		return nil, fmt.Errorf("encoding %s result for %s: %w", module, host, err)
	}
	return data, nil
}
