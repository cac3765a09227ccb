package run

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `[bus]
  path            = "/var/lib/autofleet/bus.db"
  channel         = "autostackqueue:results"
  monitor_channel = "autostackqueue:monitor"
  shared_secret   = ""
  poll_interval   = "10ms"
  retain          = 0

[inventory]
  path     = "/etc/autofleet/inventory.yaml"
  ini_path = ""

[cache]
  path            = "/var/lib/autofleet/facts.db"
  expiry_interval = "1m"
  stale_threshold = "24h"

[rpc]
  socket = "/run/autofleet/autofleet.sock"

[log]
  level  = "info"
  format = "auto"

[facts]
  network_range = ""
`

// EditConfig opens the configuration file in the system editor, writing the
// default template first when the file does not exist.
func EditConfig(path string) error {
	created, err := ensureConfig(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created new config file at %s\n", path)
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ensureConfig writes the default template to path unless a file exists.
func ensureConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, fmt.Errorf("writing default config: %w", err)
	}
	return true, nil
}

// findEditor returns $EDITOR, or the first of vi, nano and vim on PATH.
func findEditor() (string, error) {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found ($EDITOR not set, and vi/nano/vim not in PATH)")
}
