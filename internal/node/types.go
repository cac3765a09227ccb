package node

import "fmt"

// Generic is a node whose family is not yet known.
type Generic struct {
	Base
}

// NewGeneric returns a generic node for address.
func NewGeneric(address string, opts ...Option) *Generic {
	return &Generic{Base: newBase(address, opts...)}
}

func (g *Generic) Class() string  { return ClassGeneric }
func (g *Generic) Family() string { return "" }
func (g *Generic) State() State   { return StateGeneric }

func (g *Generic) Attr(name string) (any, bool) { return g.lookup(name, g) }

// Promote returns the node that should replace g according to r.
func (g *Generic) Promote(r *Registry) Node { return r.Promote(g) }

func (g *Generic) String() string {
	return fmt.Sprintf("<%s %s>", ClassGeneric, g.address)
}

// Concrete is a node promoted to a family, and possibly to a candidate within
// that family. Traits of the candidate shadow those of the family.
type Concrete struct {
	Base
	family    string
	candidate string
	traits    map[string]any
}

func newConcrete(b Base, fam *Family, cand *Candidate) *Concrete {
	c := &Concrete{Base: b, family: fam.Name, traits: make(map[string]any)}
	for k, v := range fam.Traits {
		c.traits[k] = v
	}
	if cand != nil {
		c.candidate = cand.Name
		for k, v := range cand.Traits {
			c.traits[k] = v
		}
	}
	return c
}

// Class returns the candidate name, or the family name for a family-level node.
func (c *Concrete) Class() string {
	if c.candidate != "" {
		return c.candidate
	}
	return c.family
}

func (c *Concrete) Family() string { return c.family }

func (c *Concrete) State() State {
	if c.candidate != "" {
		return StateSpecific
	}
	return StateFamily
}

// Attr resolves traits before the base attributes.
func (c *Concrete) Attr(name string) (any, bool) {
	if v, ok := c.traits[name]; ok {
		return v, true
	}
	return c.lookup(name, c)
}

// Promote returns the node that should replace c according to r.
func (c *Concrete) Promote(r *Registry) Node { return r.Promote(c) }

func (c *Concrete) String() string {
	return fmt.Sprintf("<%s %s>", c.Class(), c.address)
}
