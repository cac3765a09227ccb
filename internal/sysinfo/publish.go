package sysinfo

import (
	"fmt"

	"github.com/rs/zerolog"

	"autofleet/internal/compound"
	"autofleet/internal/dispatcher"
	"autofleet/internal/node"
)

// LocalConnection is the connection name of nodes served by this machine.
const LocalConnection = "local"

// Publisher is the part of a bus channel the local publisher needs.
type Publisher interface {
	Put(item any) error
}

// PublishLocal publishes a setup result carrying facts for every node using
// the local connection, and returns how many were published.
func PublishLocal(q Publisher, nodes *compound.Compound[node.Node], facts node.Facts, log zerolog.Logger) (int, error) {
	local := nodes.Filter(map[string]any{"connection": LocalConnection})

	published := 0
	for _, n := range local.Items() {
		data, err := dispatcher.EncodeResult(n.Address(), "setup", map[string]any{
			"ansible_facts": map[string]any(facts),
			"changed":       false,
		})
		if err != nil {
			return published, err
		}
		if err := q.Put(data); err != nil {
			return published, fmt.Errorf("publishing facts for %s: %w", n.Address(), err)
		}
		published++
		log.Debug().Str("host", n.Address()).Int("facts", len(facts)).Msg("Local facts published")
	}
	return published, nil
}
