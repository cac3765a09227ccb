// Package node models a single addressable fleet target and the registry that
// promotes generic nodes to family- and version-specific implementations once
// their facts are known.
package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"autofleet/internal/compound"
)

const (
	DefaultConnection = "smart"
	DefaultUser       = "root"

	ClassGeneric = "generic"
)

var (
	ErrReadOnly    = errors.New("node: attribute is read-only")
	ErrNoAttribute = errors.New("node: no such attribute")
	ErrNoFacts     = errors.New("node: setup result carries no ansible_facts")
)

// State is a node's position in the promotion state machine.
type State int

const (
	StateGeneric State = iota
	StateFamily
	StateSpecific
)

func (s State) String() string {
	switch s {
	case StateGeneric:
		return "generic"
	case StateFamily:
		return "family"
	case StateSpecific:
		return "specific"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Node is a single addressable target. Two nodes with the same address are the
// same target.
type Node interface {
	compound.Identifier
	compound.Attributer
	Address() string
	Connection() string
	User() string
	Group() string
	Facts() Facts
	Class() string
	Family() string
	State() State
	Stripe() string
}

// Promoter is implemented by nodes that can be replaced by a more specific node.
type Promoter interface {
	Promote(r *Registry) Node
}

// Handler applies one operation result to a node.
type Handler func(result map[string]any) error

// HandlerProvider resolves the handler for an operation kind.
type HandlerProvider interface {
	Handler(kind string) (Handler, bool)
}

// FactLoader merges facts into a node.
type FactLoader interface {
	LoadFacts(f Facts)
}

// state is shared by a node and every node that replaces it during promotion.
type state struct {
	mu          sync.RWMutex
	connection  string
	user        string
	group       string
	vars        map[string]any
	facts       Facts
	lastContact time.Time
}

// Base carries identity, connection parameters and facts. It is embedded by
// every node type in this package.
type Base struct {
	address string
	s       *state
}

// Option configures a new node.
type Option func(*state)

// WithConnection sets the connection transport name.
func WithConnection(c string) Option {
	return func(s *state) {
		if c != "" {
			s.connection = c
		}
	}
}

// WithUser sets the remote user.
func WithUser(u string) Option {
	return func(s *state) {
		if u != "" {
			s.user = u
		}
	}
}

// WithGroup sets the group the node is addressed under.
func WithGroup(g string) Option {
	return func(s *state) {
		s.group = g
	}
}

// WithVars attaches extra inventory variables.
func WithVars(vars map[string]any) Option {
	return func(s *state) {
		for k, v := range vars {
			s.vars[k] = v
		}
	}
}

// WithFacts seeds the fact set.
func WithFacts(f Facts) Option {
	return func(s *state) {
		s.facts = s.facts.Merge(f)
	}
}

func newBase(address string, opts ...Option) Base {
	s := &state{
		connection: DefaultConnection,
		user:       DefaultUser,
		vars:       make(map[string]any),
		facts:      Facts{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return Base{address: address, s: s}
}

func (b Base) nodeBase() Base { return b }

// Address returns the node's network address.
func (b Base) Address() string { return b.address }

// Identity implements compound.Identifier.
func (b Base) Identity() string { return b.address }

func (b Base) Connection() string {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.connection
}

func (b Base) User() string {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.user
}

func (b Base) Group() string {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.group
}

// Vars returns a copy of the node's inventory variables.
func (b Base) Vars() map[string]any {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	out := make(map[string]any, len(b.s.vars))
	for k, v := range b.s.vars {
		out[k] = v
	}
	return out
}

// Facts returns a snapshot of the node's facts.
func (b Base) Facts() Facts {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.facts.Clone()
}

// LoadFacts merges f into the node's facts. Later values win.
func (b Base) LoadFacts(f Facts) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.facts = b.s.facts.Merge(f)
}

// LastContact returns when the node last produced a result, zero if never.
func (b Base) LastContact() time.Time {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.lastContact
}

// Stripe renders the node as one inventory line.
func (b Base) Stripe() string {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return fmt.Sprintf("%s connection=%s ansible_ssh_user=%s", b.address, b.s.connection, b.s.user)
}

// Handler resolves the result handler for an operation kind.
func (b Base) Handler(kind string) (Handler, bool) {
	switch kind {
	case "setup":
		return b.loadSetup, true
	case "ping":
		return b.loadPing, true
	}
	return nil, false
}

func (b Base) loadSetup(result map[string]any) error {
	raw, ok := result["ansible_facts"].(map[string]any)
	if !ok {
		return ErrNoFacts
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.facts = b.s.facts.Merge(Facts(raw))
	b.s.lastContact = time.Now()
	return nil
}

func (b Base) loadPing(map[string]any) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.lastContact = time.Now()
	return nil
}

// lookup resolves fixed attributes, then vars, then facts.
func (b Base) lookup(name string, n Node) (any, bool) {
	switch name {
	case "address":
		return b.address, true
	case "connection":
		return b.Connection(), true
	case "user":
		return b.User(), true
	case "group":
		return b.Group(), true
	case "class":
		return n.Class(), true
	case "family":
		return n.Family(), true
	case "state":
		return n.State().String(), true
	}

	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	if v, ok := b.s.vars[name]; ok {
		return v, true
	}
	return b.s.facts.Get(name)
}

// SetAttr writes a connection parameter or an inventory variable.
func (b Base) SetAttr(name string, value any) error {
	switch name {
	case "address", "class", "family", "state":
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}

	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	switch name {
	case "connection", "user", "group":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("node: %s must be a string, got %T", name, value)
		}
		switch name {
		case "connection":
			b.s.connection = str
		case "user":
			b.s.user = str
		default:
			b.s.group = str
		}
	default:
		b.s.vars[name] = value
	}
	return nil
}

// DelAttr removes an inventory variable.
func (b Base) DelAttr(name string) error {
	switch name {
	case "address", "connection", "user", "group", "class", "family", "state":
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}

	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, ok := b.s.vars[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoAttribute, name)
	}
	delete(b.s.vars, name)
	return nil
}
