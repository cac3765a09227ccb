// Package watch implements the autofleet watch CLI: a live table of the
// fleet as seen by a running autofleet process.
package watch

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"autofleet/internal/rpc"
	"autofleet/pkg/config"
)

// Options selects what watch shows.
type Options struct {
	Group    string
	Interval time.Duration
	Watches  bool
}

// Run prints the node table once, or every Interval until interrupted.
func Run(configPath string, opts Options) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := rpc.NewClient(cfg.RPC.Socket)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs 'autofleet run' running?", err)
	}
	defer client.Close()

	if opts.Interval <= 0 {
		return show(os.Stdout, client, opts)
	}

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		if tty {
			// Clear screen and home the cursor
			fmt.Print("\033[H\033[2J")
		}
		if err := show(os.Stdout, client, opts); err != nil {
			return err
		}
		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
		}
	}
}

func show(w io.Writer, client *rpc.Client, opts Options) error {
	nodes, err := client.ListNodes(opts.Group)
	if err != nil {
		return fmt.Errorf("fetching nodes: %w", err)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No nodes in inventory.")
	} else {
		fmt.Fprintf(w, "\n  Nodes (%d)\n\n", len(nodes))
		renderNodes(w, nodes)
	}

	if !opts.Watches {
		return nil
	}
	watches, err := client.Watches()
	if err != nil {
		return fmt.Errorf("fetching watches: %w", err)
	}
	fmt.Fprintf(w, "\n  Watches (%d)\n\n", len(watches))
	renderWatches(w, watches)
	return nil
}

func renderNodes(w io.Writer, nodes []rpc.NodeSnapshot) {
	fmt.Fprintf(w, "  %-4s %-20s %-12s %-10s %-14s %-10s %-25s\n",
		"#", "Address", "Group", "User", "Class", "State", "Distribution")
	fmt.Fprintf(w, "  %s %s %s %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 20),
		strings.Repeat("─", 12),
		strings.Repeat("─", 10),
		strings.Repeat("─", 14),
		strings.Repeat("─", 10),
		strings.Repeat("─", 25))

	for i, n := range nodes {
		fmt.Fprintf(w, "  %-4d %-20s %-12s %-10s %-14s %-10s %-25s\n",
			i+1,
			truncate(n.Address, 20),
			truncate(n.Group, 12),
			truncate(n.User, 10),
			truncate(n.Class, 14),
			n.State,
			truncate(distribution(n.Facts), 25),
		)
	}
}

func renderWatches(w io.Writer, watches []rpc.Watch) {
	for _, wt := range watches {
		fmt.Fprintf(w, "  %-20s %-20s every %s\n", truncate(wt.Host, 20), truncate(wt.Rule, 20), wt.Delay)
	}
}

// distribution formats the distribution facts of a snapshot, or "-".
func distribution(facts map[string]any) string {
	name, _ := facts["ansible_distribution"].(string)
	if name == "" {
		return "-"
	}
	if v, ok := facts["ansible_distribution_version"].(string); ok && v != "" {
		return name + " " + v
	}
	return name
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
