package inventory

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"autofleet/internal/compound"
	"autofleet/internal/node"
)

const (
	beginMarker = "# BEGIN AUTOFLEET MANAGED INVENTORY"
	endMarker   = "# END AUTOFLEET MANAGED INVENTORY"

	// Ungrouped is the section used for nodes without a group.
	Ungrouped = "ungrouped"
)

// RenderINI renders nodes as INI sections, one per node group in order of
// first appearance, each listing the nodes' stripes.
func RenderINI(nodes *compound.Compound[node.Node]) string {
	var order []string
	groups := make(map[string][]string)
	nodes.Each(func(_ int, n node.Node) {
		g := n.Group()
		if g == "" {
			g = Ungrouped
		}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], n.Stripe())
	})

	var b strings.Builder
	for _, g := range order {
		fmt.Fprintf(&b, "[%s]\n%s\n", g, strings.Join(groups[g], "\n"))
	}
	return b.String()
}

// WriteINI writes the rendered inventory into a managed block of the file at
// path, keeping every line outside the block. The file is created if missing.
func WriteINI(path string, nodes *compound.Compound[node.Node]) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	inManagedSection := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, beginMarker) {
			inManagedSection = true
			continue
		}
		if strings.HasPrefix(trimmed, endMarker) {
			inManagedSection = false
			continue
		}
		if !inManagedSection {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}

	// Keep a blank line between preserved content and the block
	if len(lines) > 0 && lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}
	lines = append(lines, beginMarker)
	if rendered := strings.TrimRight(RenderINI(nodes), "\n"); rendered != "" {
		lines = append(lines, rendered)
	}
	lines = append(lines, endMarker)

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
