package compound

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type host struct {
	addr  string
	attrs map[string]any
}

func newHost(addr string, attrs map[string]any) *host {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &host{addr: addr, attrs: attrs}
}

func (h *host) Identity() string { return h.addr }

func (h *host) Attr(name string) (any, bool) {
	v, ok := h.attrs[name]
	return v, ok
}

func (h *host) SetAttr(name string, value any) error {
	if name == "addr" {
		return errors.New("read-only")
	}
	h.attrs[name] = value
	return nil
}

func (h *host) DelAttr(name string) error {
	if _, ok := h.attrs[name]; !ok {
		return errors.New("no such attribute")
	}
	delete(h.attrs, name)
	return nil
}

func (h *host) Ping() string { return "pong " + h.addr }

func (h *host) Scale(n int) int { return n * len(h.addr) }

func (h *host) Join(sep string, parts ...string) string {
	out := h.addr
	for _, p := range parts {
		out += sep + p
	}
	return out
}

func (h *host) Check() (bool, error) {
	if h.addr == "bad" {
		return false, errors.New("unreachable")
	}
	return true, nil
}

// mute has an identity but none of the broadcast capabilities.
type mute struct{ addr string }

func (m mute) Identity() string { return m.addr }

func hosts(addrs ...string) *Compound[*host] {
	items := make([]*host, 0, len(addrs))
	for _, a := range addrs {
		items = append(items, newHost(a, map[string]any{"addr": a}))
	}
	return From(items)
}

func TestInvokePreservesOrderAndLength(t *testing.T) {
	c := hosts("a", "bb", "ccc")

	out, err := c.Invoke("Ping")
	require.NoError(t, err)
	assert.Equal(t, c.Len(), out.Len())
	assert.Equal(t, []any{"pong a", "pong bb", "pong ccc"}, out.Items())

	out, err = c.Invoke("Scale", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{2, 4, 6}, out.Items())
}

func TestInvokeVariadic(t *testing.T) {
	c := hosts("x")

	out, err := c.Invoke("Join", "-", "y", "z")
	require.NoError(t, err)
	assert.Equal(t, []any{"x-y-z"}, out.Items())

	out, err = c.Invoke("Join", "-")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, out.Items())
}

func TestInvokeMissingMethod(t *testing.T) {
	c := New[any](newHost("a", nil), mute{addr: "m"}, newHost("c", nil))

	_, err := c.Invoke("Ping")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCapability))

	var capErr *CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 1, capErr.Index)
	assert.Equal(t, "m", capErr.Identity)
	assert.Equal(t, "Ping", capErr.Capability)
}

func TestInvokeBadArguments(t *testing.T) {
	_, err := hosts("a").Invoke("Scale", "two")
	assert.ErrorIs(t, err, ErrBadArguments)

	_, err = hosts("a").Invoke("Scale")
	assert.ErrorIs(t, err, ErrBadArguments)
}

func TestInvokePropagatesMethodError(t *testing.T) {
	c := hosts("good", "bad")

	_, err := c.Invoke("Check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.False(t, errors.Is(err, ErrMissingCapability))

	out, err := hosts("good").Invoke("Check")
	require.NoError(t, err)
	assert.Equal(t, []any{true}, out.Items())
}

func TestInvokeNested(t *testing.T) {
	inner := hosts("b", "c")
	outer := New[any](newHost("a", nil), inner)

	out, err := outer.Invoke("Ping")
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "pong a", out.At(0))

	nested, ok := out.At(1).(*Compound[any])
	require.True(t, ok)
	assert.Equal(t, []any{"pong b", "pong c"}, nested.Items())
}

func TestGetAttr(t *testing.T) {
	c := From([]*host{
		newHost("a", map[string]any{"role": "web"}),
		newHost("b", map[string]any{"role": "db"}),
	})

	out, err := c.GetAttr("role")
	require.NoError(t, err)
	assert.Equal(t, []any{"web", "db"}, out.Items())

	_, err = c.GetAttr("missing")
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 0, capErr.Index)
	assert.Equal(t, "a", capErr.Identity)
}

func TestSetAttrAndDelAttr(t *testing.T) {
	c := hosts("a", "b")

	require.NoError(t, c.SetAttr("env", "prod"))
	out, err := c.GetAttr("env")
	require.NoError(t, err)
	assert.Equal(t, []any{"prod", "prod"}, out.Items())

	require.NoError(t, c.DelAttr("env"))
	_, err = c.GetAttr("env")
	assert.ErrorIs(t, err, ErrMissingCapability)

	err = c.DelAttr("env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such attribute")

	err = c.SetAttr("addr", "z")
	assert.ErrorIs(t, err, ErrMissingCapability)

	plain := New[any](mute{addr: "m"})
	assert.ErrorIs(t, plain.SetAttr("env", "prod"), ErrMissingCapability)
	assert.ErrorIs(t, plain.DelAttr("env"), ErrMissingCapability)
}

func TestFilter(t *testing.T) {
	c := New[any](
		newHost("a", map[string]any{"role": "web", "major": 7}),
		newHost("b", map[string]any{"role": "db", "major": 7}),
		newHost("c", map[string]any{"role": "web", "major": 6}),
		mute{addr: "m"},
		newHost("d", nil),
	)

	web := c.Filter(map[string]any{"role": "web"})
	assert.Equal(t, []string{"a", "c"}, identities(web))

	// Numbers compare by value regardless of their Go type.
	web7 := c.Filter(map[string]any{"role": "web", "major": 7.0})
	assert.Equal(t, []string{"a"}, identities(web7))

	assert.Equal(t, 0, c.Filter(map[string]any{"role": "cache"}).Len())
}

func TestFilterEmptyPredicatesKeepsEverything(t *testing.T) {
	c := New[any](newHost("a", nil), mute{addr: "m"})

	assert.Equal(t, c.Items(), c.Filter(nil).Items())
	assert.Equal(t, c.Items(), c.Filter(map[string]any{}).Items())
}

func TestFilterIsIdempotent(t *testing.T) {
	c := New[any](
		newHost("a", map[string]any{"role": "web"}),
		newHost("b", map[string]any{"role": "db"}),
		newHost("c", map[string]any{"role": "web"}),
	)
	preds := map[string]any{"role": "web"}

	once := c.Filter(preds)
	twice := once.Filter(preds)
	assert.Equal(t, once.Items(), twice.Items())
}

func TestUnionAndDifference(t *testing.T) {
	a := hosts("1", "2", "3")
	b := hosts("2", "4")

	u := a.Union(b)
	assert.Equal(t, []string{"1", "2", "3", "2", "4"}, identities(u))

	d := a.Difference(b)
	assert.Equal(t, []string{"1", "3"}, identities(d))

	// Nothing in the difference belongs to the subtrahend.
	for _, v := range d.Items() {
		assert.False(t, b.Contains(v), "difference still contains %s", v.addr)
	}
	assert.Equal(t, 0, a.Difference(a).Len())
}

func TestDifferenceByValue(t *testing.T) {
	a := New(1, 2, 3, 4)
	b := New(2, 4)
	assert.Equal(t, []int{1, 3}, a.Difference(b).Items())
}

func TestSlice(t *testing.T) {
	c := New("a", "b", "c", "d")

	tests := []struct {
		i, j int
		want []string
	}{
		{0, 2, []string{"a", "b"}},
		{1, 4, []string{"b", "c", "d"}},
		{-2, 4, []string{"c", "d"}},
		{0, -1, []string{"a", "b", "c"}},
		{-10, 10, []string{"a", "b", "c", "d"}},
		{3, 1, []string{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d:%d", tt.i, tt.j), func(t *testing.T) {
			assert.Equal(t, tt.want, c.Slice(tt.i, tt.j).Items())
		})
	}
}

func TestAtAndFirst(t *testing.T) {
	c := New("a", "b", "c")
	assert.Equal(t, "a", c.At(0))
	assert.Equal(t, "c", c.At(-1))

	first, ok := c.First()
	assert.True(t, ok)
	assert.Equal(t, "a", first)

	_, ok = New[string]().First()
	assert.False(t, ok)
}

func TestMap(t *testing.T) {
	c := hosts("a", "bb")

	out, err := Map(c, func(h *host) (int, error) { return len(h.addr), nil })
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, out.Items())

	_, err = Map(c, func(h *host) (int, error) {
		if h.addr == "bb" {
			return 0, errors.New("boom")
		}
		return 1, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element 1 (bb)")
}

func TestNilCompoundIsEmpty(t *testing.T) {
	var c *Compound[int]
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Items())
	assert.False(t, c.Contains(1))
}

func identities[T any](c *Compound[T]) []string {
	out := make([]string, 0, c.Len())
	c.Each(func(_ int, v T) {
		out = append(out, identityOf(v))
	})
	return out
}

func TestDifferenceOfUnionWithDisjointSets(t *testing.T) {
	a := hosts("1", "2", "3")
	b := hosts("4", "5")

	assert.Equal(t, identities(a.Difference(b)), identities(a.Union(b).Difference(b)))
}
