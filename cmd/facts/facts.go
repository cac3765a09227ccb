// Package facts implements the autofleet facts CLI: collect the local
// machine's facts and optionally publish them for the inventory's local nodes.
package facts

import (
	"encoding/json"
	"fmt"
	"os"

	"autofleet/internal/inventory"
	"autofleet/internal/rpc"
	"autofleet/internal/sysinfo"
	"autofleet/pkg/config"
	"autofleet/pkg/logger"
)

// Run collects local facts and prints them as JSON. With publish set, a setup
// result is sent to the running autofleet for every local-connection node.
func Run(configPath string, publish bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	facts, err := sysinfo.Collect(cfg.Facts.NetworkRange)
	if err != nil {
		return fmt.Errorf("collecting facts: %w", err)
	}

	if !publish {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"ansible_facts": facts})
	}

	fleetCtx, err := inventory.Load(cfg.Inventory.Path)
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}

	client, err := rpc.NewClient(cfg.RPC.Socket)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs 'autofleet run' running?", err)
	}
	defer client.Close()

	n, err := sysinfo.PublishLocal(client, fleetCtx.All(), facts, log)
	if err != nil {
		return fmt.Errorf("publishing facts: %w", err)
	}
	if n == 0 {
		fmt.Printf("No nodes with connection=%s in %s.\n", sysinfo.LocalConnection, cfg.Inventory.Path)
		return nil
	}
	fmt.Printf("Published facts for %d local node(s).\n", n)
	return nil
}
