package dispatcher

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autofleet/internal/bus"
	"autofleet/internal/fleet"
	"autofleet/internal/node"
)

func testQueue(t *testing.T) *bus.Queue {
	t.Helper()
	q, err := bus.Open(filepath.Join(t.TempDir(), "bus.db"), bus.Options{PollInterval: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func testContext(t *testing.T, addrs ...string) *fleet.Context {
	t.Helper()
	nodes := make([]node.Node, 0, len(addrs))
	for _, a := range addrs {
		nodes = append(nodes, node.NewGeneric(a))
	}
	ctx := fleet.New()
	require.NoError(t, ctx.Set("all", nodes))
	return ctx
}

func publishResult(t *testing.T, q *bus.Queue, host, module string, body map[string]any) {
	t.Helper()
	data, err := EncodeResult(host, module, body)
	require.NoError(t, err)
	require.NoError(t, q.Put(data))
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.WaitForDrain(ctx))
}

func TestSetupResultPromotesNode(t *testing.T) {
	q := testQueue(t)
	ctx := testContext(t, "10.0.0.5")
	reg := node.NewRegistry(zerolog.Nop())
	require.NoError(t, node.RegisterDefaults(reg))

	d, err := New(q, NewFleetRouter(ctx, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	d.Start()
	defer d.Close()

	publishResult(t, q, "10.0.0.5", "setup", map[string]any{
		"ansible_facts": map[string]any{"os_family": "RedHat"},
	})
	drain(t, d)

	n, ok := ctx.Lookup("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "RedHat", n.Facts().String("os_family"))

	ctx.PromoteAll(reg)
	n, _ = ctx.Lookup("10.0.0.5")
	assert.Equal(t, "RedHat", n.Class())
}

func TestMessagesBeforeNewAreNotSeen(t *testing.T) {
	q := testQueue(t)
	ctx := testContext(t, "10.0.0.5")

	publishResult(t, q, "10.0.0.5", "setup", map[string]any{
		"ansible_facts": map[string]any{"os_family": "Debian"},
	})

	d, err := New(q, NewFleetRouter(ctx, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	d.Start()
	defer d.Close()
	drain(t, d)

	n, _ := ctx.Lookup("10.0.0.5")
	assert.Empty(t, n.Facts())
}

func TestSentinelStopsLoop(t *testing.T) {
	q := testQueue(t)
	ctx := testContext(t, "10.0.0.5")

	d, err := New(q, NewFleetRouter(ctx, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	d.Start()

	require.NoError(t, q.Join())
	publishResult(t, q, "10.0.0.5", "setup", map[string]any{
		"ansible_facts": map[string]any{"os_family": "RedHat"},
	})

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop after the sentinel")
	}
	assert.False(t, d.Active())

	n, _ := ctx.Lookup("10.0.0.5")
	assert.Empty(t, n.Facts(), "messages after the sentinel must not be applied")

	wctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, d.WaitForDrain(wctx), ErrStopped)
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	q := testQueue(t)
	ctx := testContext(t, "10.0.0.5")

	d, err := New(q, NewFleetRouter(ctx, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	d.Start()
	defer d.Close()

	require.NoError(t, q.Put("__import__('os').system('true')"))
	require.NoError(t, q.Put(`{"host":"10.0.0.5","result":{},"extra":1}`))
	require.NoError(t, q.Put(`{"host":"10.0.0.5"}`))
	require.NoError(t, q.Put(`"hello"`))
	publishResult(t, q, "10.0.0.5", "setup", map[string]any{
		"ansible_facts": map[string]any{"hostname": "web1"},
	})
	drain(t, d)

	assert.True(t, d.Active())
	n, _ := ctx.Lookup("10.0.0.5")
	assert.Equal(t, "web1", n.Facts().String("hostname"))
}

func TestRoutingAndHandlerMissesAreDropped(t *testing.T) {
	q := testQueue(t)
	ctx := testContext(t, "10.0.0.5")

	var mu sync.Mutex
	var seen []string
	observer := func(rec Record) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, rec.Host)
	}

	d, err := New(q, NewFleetRouter(ctx, zerolog.Nop()), zerolog.Nop(), WithObserver(observer))
	require.NoError(t, err)
	d.Start()
	defer d.Close()

	publishResult(t, q, "10.9.9.9", "setup", map[string]any{"ansible_facts": map[string]any{"a": 1}})
	publishResult(t, q, "10.0.0.5", "shell", map[string]any{"stdout": "ok"})
	publishResult(t, q, "10.0.0.5", "ping", map[string]any{"ping": "pong"})
	drain(t, d)

	assert.True(t, d.Active())
	n, _ := ctx.Lookup("10.0.0.5")
	assert.Empty(t, n.Facts())
	assert.False(t, n.(*node.Generic).LastContact().IsZero())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"10.9.9.9", "10.0.0.5", "10.0.0.5"}, seen)
}

func TestResultsApplyInPublishOrder(t *testing.T) {
	q := testQueue(t)
	ctx := testContext(t, "10.0.0.5")

	d, err := New(q, NewFleetRouter(ctx, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	d.Start()
	defer d.Close()

	for _, v := range []string{"one", "two", "three"} {
		publishResult(t, q, "10.0.0.5", "setup", map[string]any{
			"ansible_facts": map[string]any{"marker": v},
		})
	}
	drain(t, d)

	n, _ := ctx.Lookup("10.0.0.5")
	assert.Equal(t, "three", n.Facts().String("marker"))
}

func TestCloseDoesNotBlock(t *testing.T) {
	q := testQueue(t)
	d, err := New(q, NewFleetRouter(fleet.New(), zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	d.Start()

	returned := make(chan struct{})
	go func() {
		d.Close()
		d.Close()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Close blocked")
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit after Close")
	}
}

func TestSharedChannelStopsWhenOwnerCloses(t *testing.T) {
	q, err := bus.Open(filepath.Join(t.TempDir(), "bus.db"), bus.Options{PollInterval: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	mq, err := q.With("monitor")
	require.NoError(t, err)

	var logged bytes.Buffer
	d, err := New(mq, NewMonitorRouter(zerolog.Nop()), zerolog.New(&logged), WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	d.Start()

	require.NoError(t, q.Close())
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher on a shared channel kept running after the database closed")
	}
	assert.False(t, d.Active())
	assert.NotContains(t, logged.String(), "Dropping unreadable message")
}

func TestCloseBeforeStart(t *testing.T) {
	q := testQueue(t)
	d, err := New(q, NewFleetRouter(fleet.New(), zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	d.Close()
	select {
	case <-d.Done():
	default:
		t.Fatal("Done should be closed")
	}
	d.Run()
}

func TestWaitForDrainHonoursContext(t *testing.T) {
	q := testQueue(t)
	d, err := New(q, NewFleetRouter(fleet.New(), zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	// Not started, so the published message is never applied.
	require.NoError(t, q.Put("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.WaitForDrain(ctx), context.DeadlineExceeded)
}

func TestMonitorRouterOverBus(t *testing.T) {
	q := testQueue(t)
	monitor := NewMonitorRouter(zerolog.Nop())

	d, err := New(q, monitor, zerolog.Nop())
	require.NoError(t, err)
	d.Start()

	require.NoError(t, q.Put(map[string]any{
		"type": OrderRegister, "hosts": []string{"10.0.0.5", "10.0.0.6"}, "rules": []string{"disk", "load"}, "delay": 1.5,
	}))
	require.NoError(t, q.Put(map[string]any{
		"type": OrderUnregister, "hosts": []string{"10.0.0.5"}, "rules": []string{"load"},
	}))
	require.NoError(t, q.Put(map[string]any{
		"type": OrderUnregister, "hosts": []string{"10.0.0.6"},
	}))
	require.NoError(t, q.Put(map[string]string{"type": MonitorDone}))

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}

	assert.Equal(t, []string{"10.0.0.5"}, monitor.Hosts())
	assert.Equal(t, []string{"disk"}, monitor.Rules("10.0.0.5"))
	delay, ok := monitor.Delay("10.0.0.5", "disk")
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, delay)
}
