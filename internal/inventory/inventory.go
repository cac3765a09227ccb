// Package inventory builds a fleet context from a YAML inventory and renders
// nodes back into INI inventory stripes for an execution transport.
package inventory

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"autofleet/internal/fleet"
	"autofleet/internal/node"
)

var (
	ErrNoAddress   = errors.New("inventory: record without address")
	ErrReservedVar = errors.New("inventory: reserved variable name")
)

// Record is one node entry of an inventory group.
type Record struct {
	Address    string         `yaml:"address"`
	Connection string         `yaml:"connection,omitempty"`
	User       string         `yaml:"user,omitempty"`
	Group      string         `yaml:"group,omitempty"`
	Vars       map[string]any `yaml:",inline"`
}

// Load reads and parses the inventory file at path.
func Load(path string) (*fleet.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a context from inventory YAML. The top level maps group names
// to lists of records; a mapping in place of a list is a nested context.
// Group order follows the document. Records sharing an address resolve to
// one node: the first record sets its connection parameters and later
// records only add vars that are not yet set.
func Parse(data []byte) (*fleet.Context, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	ctx := fleet.New()
	if len(doc.Content) == 0 {
		return ctx, nil
	}
	b := &builder{nodes: make(map[string]*node.Generic)}
	if err := b.context(ctx, doc.Content[0], ""); err != nil {
		return nil, err
	}
	return ctx, nil
}

type builder struct {
	nodes map[string]*node.Generic
}

func (b *builder) context(ctx *fleet.Context, m *yaml.Node, path string) error {
	if m.Kind != yaml.MappingNode {
		return fmt.Errorf("inventory%s: expected a mapping of groups, got %s", at(path, m), kindName(m.Kind))
	}

	for i := 0; i+1 < len(m.Content); i += 2 {
		name := m.Content[i].Value
		value := m.Content[i+1]
		groupPath := path + "/" + name

		switch value.Kind {
		case yaml.MappingNode:
			sub := fleet.New()
			if err := b.context(sub, value, groupPath); err != nil {
				return err
			}
			if err := ctx.Set(name, sub); err != nil {
				return err
			}
		case yaml.SequenceNode:
			var records []Record
			if err := value.Decode(&records); err != nil {
				return fmt.Errorf("inventory%s: %w", at(groupPath, value), err)
			}
			nodes := make([]node.Node, 0, len(records))
			for j, rec := range records {
				if rec.Address == "" {
					return fmt.Errorf("%w%s (entry %d)", ErrNoAddress, at(groupPath, value), j)
				}
				n, err := b.node(rec, name)
				if err != nil {
					return fmt.Errorf("inventory%s (entry %d): %w", at(groupPath, value), j, err)
				}
				nodes = append(nodes, n)
			}
			if err := ctx.Set(name, nodes); err != nil {
				return err
			}
		default:
			if value.Tag == "!!null" {
				if err := ctx.Set(name, nil); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("inventory%s: expected a list of records, got %s", at(groupPath, value), kindName(value.Kind))
		}
	}
	return nil
}

func (b *builder) node(rec Record, group string) (*node.Generic, error) {
	// class, family and state are derived from facts and cannot be assigned.
	for k := range rec.Vars {
		switch k {
		case "class", "family", "state":
			return nil, fmt.Errorf("%w: %s", ErrReservedVar, k)
		}
	}

	if rec.Group != "" {
		group = rec.Group
	}
	if n, ok := b.nodes[rec.Address]; ok {
		current := n.Vars()
		for k, v := range rec.Vars {
			if _, set := current[k]; set {
				continue
			}
			if err := n.SetAttr(k, v); err != nil {
				return nil, err
			}
		}
		return n, nil
	}

	n := node.NewGeneric(rec.Address,
		node.WithConnection(rec.Connection),
		node.WithUser(rec.User),
		node.WithGroup(group),
		node.WithVars(rec.Vars),
	)
	b.nodes[rec.Address] = n
	return n, nil
}

func at(path string, n *yaml.Node) string {
	if path == "" {
		return fmt.Sprintf(" (line %d)", n.Line)
	}
	return fmt.Sprintf(" %s (line %d)", path, n.Line)
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
