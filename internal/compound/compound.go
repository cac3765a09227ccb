// Package compound provides an ordered container that fans operations out to
// every element it holds and collects the results, in order, into a new
// container.
//
// Broadcasts are strict: an element that cannot perform the operation stops
// the broadcast with a *CapabilityError naming the element. Filter is the one
// forgiving operation and silently excludes elements missing an attribute.
package compound

import (
	"fmt"
	"reflect"
)

// Identifier is implemented by elements that carry a stable identity.
// Equality, Difference and Contains compare identities when both sides have one.
type Identifier interface {
	Identity() string
}

// Attributer exposes named attributes for GetAttr and Filter.
type Attributer interface {
	Attr(name string) (any, bool)
}

// AttrSetter is the capability required by SetAttr.
type AttrSetter interface {
	SetAttr(name string, value any) error
}

// AttrDeleter is the capability required by DelAttr.
type AttrDeleter interface {
	DelAttr(name string) error
}

// broadcaster lets nested compounds receive Invoke recursively.
type broadcaster interface {
	broadcast(method string, args []any) (any, error)
}

// Compound is an ordered sequence of elements. The zero value is an empty compound.
type Compound[T any] struct {
	items []T
}

// New returns a compound holding the given elements in order.
func New[T any](items ...T) *Compound[T] {
	return From(items)
}

// From copies items into a new compound. Elements themselves are shared.
func From[T any](items []T) *Compound[T] {
	out := make([]T, len(items))
	copy(out, items)
	return &Compound[T]{items: out}
}

// Len returns the number of elements.
func (c *Compound[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// At returns the i-th element. Negative indices count from the end.
func (c *Compound[T]) At(i int) T {
	if i < 0 {
		i += c.Len()
	}
	return c.items[i]
}

// First returns the first element, if any.
func (c *Compound[T]) First() (T, bool) {
	var zero T
	if c.Len() == 0 {
		return zero, false
	}
	return c.items[0], true
}

// Items returns a copy of the element slice.
func (c *Compound[T]) Items() []T {
	out := make([]T, c.Len())
	if c != nil {
		copy(out, c.items)
	}
	return out
}

// Each calls fn for every element in order.
func (c *Compound[T]) Each(fn func(i int, v T)) {
	if c == nil {
		return
	}
	for i, v := range c.items {
		fn(i, v)
	}
}

// Slice returns elements [i, j) as a new compound. Negative bounds count from
// the end and out-of-range bounds are clamped.
func (c *Compound[T]) Slice(i, j int) *Compound[T] {
	n := c.Len()
	i, j = clamp(i, n), clamp(j, n)
	if i >= j {
		return New[T]()
	}
	return From(c.items[i:j])
}

func clamp(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// Union concatenates c and other into a new compound.
func (c *Compound[T]) Union(other *Compound[T]) *Compound[T] {
	out := make([]T, 0, c.Len()+other.Len())
	out = append(out, c.Items()...)
	out = append(out, other.Items()...)
	return &Compound[T]{items: out}
}

// Difference returns the elements of c not present in other, order preserved.
func (c *Compound[T]) Difference(other *Compound[T]) *Compound[T] {
	out := make([]T, 0, c.Len())
	for _, v := range c.Items() {
		if !other.Contains(v) {
			out = append(out, v)
		}
	}
	return &Compound[T]{items: out}
}

// Contains reports whether an element equal to v is present.
func (c *Compound[T]) Contains(v T) bool {
	if c == nil {
		return false
	}
	for _, item := range c.items {
		if equal(item, v) {
			return true
		}
	}
	return false
}

// Filter keeps the elements whose attributes equal every value in preds.
// Elements without the attribute, or without attributes at all, are excluded.
func (c *Compound[T]) Filter(preds map[string]any) *Compound[T] {
	out := make([]T, 0, c.Len())
	for _, v := range c.Items() {
		if matches(v, preds) {
			out = append(out, v)
		}
	}
	return &Compound[T]{items: out}
}

func matches(v any, preds map[string]any) bool {
	if len(preds) == 0 {
		return true
	}
	a, ok := v.(Attributer)
	if !ok {
		return false
	}
	for key, want := range preds {
		got, ok := a.Attr(key)
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// GetAttr reads name from every element.
func (c *Compound[T]) GetAttr(name string) (*Compound[any], error) {
	out := make([]any, 0, c.Len())
	for i, v := range c.Items() {
		a, ok := any(v).(Attributer)
		if !ok {
			return nil, missing(i, v, name, nil)
		}
		got, ok := a.Attr(name)
		if !ok {
			return nil, missing(i, v, name, nil)
		}
		out = append(out, got)
	}
	return &Compound[any]{items: out}, nil
}

// SetAttr writes name on every element in order, stopping at the first failure.
func (c *Compound[T]) SetAttr(name string, value any) error {
	for i, v := range c.Items() {
		s, ok := any(v).(AttrSetter)
		if !ok {
			return missing(i, v, name, nil)
		}
		if err := s.SetAttr(name, value); err != nil {
			return missing(i, v, name, err)
		}
	}
	return nil
}

// DelAttr deletes name from every element in order, stopping at the first failure.
func (c *Compound[T]) DelAttr(name string) error {
	for i, v := range c.Items() {
		d, ok := any(v).(AttrDeleter)
		if !ok {
			return missing(i, v, name, nil)
		}
		if err := d.DelAttr(name); err != nil {
			return missing(i, v, name, err)
		}
	}
	return nil
}

// Attr lets a compound nest inside another compound.
func (c *Compound[T]) Attr(name string) (any, bool) {
	out, err := c.GetAttr(name)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Map applies fn to every element and collects the results in order. The
// first error aborts the broadcast.
func Map[T, R any](c *Compound[T], fn func(T) (R, error)) (*Compound[R], error) {
	out := make([]R, 0, c.Len())
	for i, v := range c.Items() {
		r, err := fn(v)
		if err != nil {
			return nil, fmt.Errorf("compound: element %d (%s): %w", i, identityOf(v), err)
		}
		out = append(out, r)
	}
	return &Compound[R]{items: out}, nil
}

func (c *Compound[T]) String() string {
	return fmt.Sprintf("compound%v", c.Items())
}

func identityOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case Identifier:
		return x.Identity()
	case interface{ Len() int }:
		return fmt.Sprintf("%T(len=%d)", v, x.Len())
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%T", v)
}

func equal(a, b any) bool {
	ia, okA := a.(Identifier)
	ib, okB := b.(Identifier)
	if okA && okB {
		return ia.Identity() == ib.Identity()
	}
	return valuesEqual(a, b)
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() == vb.Type() && va.Comparable() && vb.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
