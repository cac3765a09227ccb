// Package fleet holds the group registry: named groups of nodes, possibly
// nested, with a deduplicated view over all of them.
package fleet

import (
	"errors"
	"fmt"
	"sync"

	"autofleet/internal/compound"
	"autofleet/internal/node"
)

var (
	ErrUnsupportedValue = errors.New("fleet: unsupported group value")
	ErrEmptyName        = errors.New("fleet: empty group name")
	ErrCycle            = errors.New("fleet: context cannot contain itself")
)

type entry struct {
	nodes *compound.Compound[node.Node]
	sub   *Context
}

// Context maps group names to compounds of nodes or to nested contexts.
// Group order is insertion order. It is safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	names  []string
	groups map[string]entry
}

// New returns an empty context.
func New() *Context {
	return &Context{groups: make(map[string]entry)}
}

// Set stores value under name. A *Context is stored as a nested context;
// nil, a node, a slice of nodes or a compound of nodes becomes a compound.
// Replacing an existing group keeps its position.
func (c *Context) Set(name string, value any) error {
	if name == "" {
		return ErrEmptyName
	}

	e, err := coerce(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", name, err)
	}
	if e.sub != nil && e.sub.contains(c) {
		return fmt.Errorf("set %q: %w", name, ErrCycle)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[name]; !ok {
		c.names = append(c.names, name)
	}
	c.groups[name] = e
	return nil
}

func coerce(value any) (entry, error) {
	switch v := value.(type) {
	case nil:
		return entry{nodes: compound.New[node.Node]()}, nil
	case *Context:
		if v == nil {
			return entry{nodes: compound.New[node.Node]()}, nil
		}
		return entry{sub: v}, nil
	case node.Node:
		return entry{nodes: compound.New(v)}, nil
	case []node.Node:
		return entry{nodes: compound.From(v)}, nil
	case *compound.Compound[node.Node]:
		return entry{nodes: compound.From(v.Items())}, nil
	case *compound.Compound[any]:
		return fromAny(v.Items())
	case []any:
		return fromAny(v)
	}
	return entry{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
}

func fromAny(items []any) (entry, error) {
	nodes := make([]node.Node, 0, len(items))
	for i, item := range items {
		n, ok := item.(node.Node)
		if !ok {
			return entry{}, fmt.Errorf("%w: element %d is %T", ErrUnsupportedValue, i, item)
		}
		nodes = append(nodes, n)
	}
	return entry{nodes: compound.From(nodes)}, nil
}

// contains reports whether target is c or nested anywhere below it.
func (c *Context) contains(target *Context) bool {
	if c == target {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.groups {
		if e.sub != nil && e.sub.contains(target) {
			return true
		}
	}
	return false
}

// Get returns the compound stored under name. Nested contexts are not returned.
func (c *Context) Get(name string) (*compound.Compound[node.Node], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.groups[name]
	if !ok || e.sub != nil {
		return nil, false
	}
	return e.nodes, true
}

// Sub returns the nested context stored under name.
func (c *Context) Sub(name string) (*Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.groups[name]
	if !ok || e.sub == nil {
		return nil, false
	}
	return e.sub, true
}

// Delete removes name and reports whether it was present.
func (c *Context) Delete(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[name]; !ok {
		return false
	}
	delete(c.groups, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			break
		}
	}
	return true
}

// Names returns group names in insertion order.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of groups, nested contexts included.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// All returns every node in every group, nested contexts included, once per
// address. The first occurrence wins and group order is preserved. The
// result is computed on each call.
func (c *Context) All() *compound.Compound[node.Node] {
	seen := make(map[string]bool)
	var out []node.Node
	c.collect(seen, &out)
	return compound.From(out)
}

func (c *Context) collect(seen map[string]bool, out *[]node.Node) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range c.names {
		e := c.groups[name]
		if e.sub != nil {
			e.sub.collect(seen, out)
			continue
		}
		e.nodes.Each(func(_ int, n node.Node) {
			if n == nil || seen[n.Address()] {
				return
			}
			seen[n.Address()] = true
			*out = append(*out, n)
		})
	}
}

// Lookup returns the first node in All with the given address.
func (c *Context) Lookup(address string) (node.Node, bool) {
	for _, n := range c.All().Items() {
		if n.Address() == address {
			return n, true
		}
	}
	return nil, false
}

// Addresses returns the flat address list of All.
func (c *Context) Addresses() []string {
	all := c.All()
	out := make([]string, 0, all.Len())
	all.Each(func(_ int, n node.Node) {
		out = append(out, n.Address())
	})
	return out
}

// PromoteAll replaces every node that implements node.Promoter with its
// promotion result. Within one pass an address is promoted once and every
// group holding it receives the same replacement. It returns the number of
// distinct addresses whose class or state changed.
func (c *Context) PromoteAll(r *node.Registry) int {
	memo := make(map[string]node.Node)
	changed := make(map[string]bool)
	c.promote(r, memo, changed)
	return len(changed)
}

func (c *Context) promote(r *node.Registry, memo map[string]node.Node, changed map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range c.names {
		e := c.groups[name]
		if e.sub != nil {
			e.sub.promote(r, memo, changed)
			continue
		}
		items := e.nodes.Items()
		for i, n := range items {
			p, ok := n.(node.Promoter)
			if !ok {
				continue
			}
			got, ok := memo[n.Address()]
			if !ok {
				got = p.Promote(r)
				memo[n.Address()] = got
				if got.Class() != n.Class() || got.State() != n.State() {
					changed[n.Address()] = true
				}
			}
			items[i] = got
		}
		c.groups[name] = entry{nodes: compound.From(items)}
	}
}
