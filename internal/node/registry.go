package node

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var ErrUnknownFamily = errors.New("node: unknown family")

// Predicate decides whether a candidate applies to a set of facts.
type Predicate func(Facts) bool

// Candidate is a specific implementation within a family.
type Candidate struct {
	Name    string
	Applies Predicate
	Traits  map[string]any
}

// Family groups candidates under one discriminator value.
type Family struct {
	Name       string
	Traits     map[string]any
	candidates []Candidate
}

// Registry maps discriminator values to families and their ordered
// candidates. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*Family
	order    []string
	log      zerolog.Logger
}

// Default is the process-wide registry. Call RegisterDefaults to populate it.
var Default = NewRegistry(zerolog.Nop())

// NewRegistry returns an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		families: make(map[string]*Family),
		log:      log,
	}
}

// SetLogger replaces the logger used to report failing predicates.
func (r *Registry) SetLogger(log zerolog.Logger) {
	r.mu.Lock()
	r.log = log
	r.mu.Unlock()
}

func familyKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterFamily adds a family or replaces its traits. Existing candidates
// are kept.
func (r *Registry) RegisterFamily(name string, traits map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := familyKey(name)
	if f, ok := r.families[key]; ok {
		f.Traits = traits
		return
	}
	r.families[key] = &Family{Name: name, Traits: traits}
	r.order = append(r.order, key)
}

// Register adds c to family. A candidate with the same name is replaced in
// place, keeping its position.
func (r *Registry) Register(family string, c Candidate) error {
	if c.Name == "" || c.Applies == nil {
		return fmt.Errorf("node: candidate needs a name and a predicate")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[familyKey(family)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	for i := range f.candidates {
		if strings.EqualFold(f.candidates[i].Name, c.Name) {
			f.candidates[i] = c
			return nil
		}
	}
	f.candidates = append(f.candidates, c)
	return nil
}

// Families returns family names in registration order.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.families[key].Name)
	}
	return out
}

// Candidates returns the candidate names of family in evaluation order.
func (r *Registry) Candidates(family string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.families[familyKey(family)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c.Name)
	}
	return out
}

// Promote returns the node that should replace n:
//
//   - a specific node is returned unchanged
//   - a generic node with no or an unknown discriminator is returned unchanged
//   - otherwise the first candidate whose predicate holds wins, falling back
//     to a family-level node
//
// Family-level nodes are re-evaluated, so a later fact refresh can move them
// to a candidate. The returned node shares identity and facts with n.
func (r *Registry) Promote(n Node) Node {
	if n == nil || n.State() == StateSpecific {
		return n
	}
	nb, ok := n.(interface{ nodeBase() Base })
	if !ok {
		return n
	}

	facts := n.Facts()
	discriminator := n.Family()
	if n.State() == StateGeneric {
		discriminator = facts.String(DiscriminatorKey)
	}
	if discriminator == "" {
		return n
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.families[familyKey(discriminator)]
	if !ok {
		return n
	}
	for i := range f.candidates {
		c := &f.candidates[i]
		if r.applies(c, n.Address(), facts) {
			return newConcrete(nb.nodeBase(), f, c)
		}
	}
	if n.State() == StateFamily {
		return n
	}
	return newConcrete(nb.nodeBase(), f, nil)
}

// applies evaluates a predicate. A panicking predicate counts as false.
func (r *Registry) applies(c *Candidate, address string, facts Facts) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn().
				Str("candidate", c.Name).
				Str("address", address).
				Interface("panic", rec).
				Msg("candidate predicate failed")
			ok = false
		}
	}()
	return c.Applies(facts)
}
