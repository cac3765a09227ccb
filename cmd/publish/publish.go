// Package publish implements the autofleet publish CLI: hand a result payload
// produced by an external transport to the running autofleet.
package publish

import (
	"bytes"
	"fmt"
	"io"

	"autofleet/internal/bus"
	"autofleet/internal/rpc"
	"autofleet/pkg/config"
)

// Options selects the payload and destination.
type Options struct {
	Channel string
	Goodbye bool
	// Payload is sent as-is. Empty reads it from Stdin.
	Payload string
	Stdin   io.Reader
}

// Run publishes one payload and prints its sequence number.
func Run(configPath string, opts Options) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	payload, err := readPayload(opts)
	if err != nil {
		return err
	}

	client, err := rpc.NewClient(cfg.RPC.Socket)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs 'autofleet run' running?", err)
	}
	defer client.Close()

	seq, err := client.Publish(opts.Channel, payload)
	if err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	fmt.Printf("Published seq %d\n", seq)
	return nil
}

func readPayload(opts Options) ([]byte, error) {
	switch {
	case opts.Goodbye:
		return []byte(`{"type":"` + bus.Goodbye + `"}`), nil
	case opts.Payload != "":
		return []byte(opts.Payload), nil
	case opts.Stdin != nil:
		data, err := io.ReadAll(opts.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			return nil, fmt.Errorf("empty payload")
		}
		return data, nil
	}
	return nil, fmt.Errorf("no payload given")
}
