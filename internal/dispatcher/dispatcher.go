// Package dispatcher consumes a bus channel on one background goroutine and
// hands every decoded record to a Router.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"autofleet/internal/bus"
)

// ErrStopped is returned by WaitForDrain when the loop exits before the
// queue is drained.
var ErrStopped = errors.New("dispatcher: stopped")

// Dispatcher polls a subscription and routes records until Close is called
// or the router sees its sentinel.
type Dispatcher struct {
	q        *bus.Queue
	sub      *bus.Subscription
	router   Router
	poll     time.Duration
	observer func(Record)
	log      zerolog.Logger

	active  atomic.Bool
	started atomic.Bool
	applied atomic.Uint64
	done    chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets the sleep between empty polls.
func WithPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.poll = d
		}
	}
}

// WithObserver registers fn to run on the loop goroutine after every routed record.
func WithObserver(fn func(Record)) Option {
	return func(disp *Dispatcher) {
		disp.observer = fn
	}
}

// New subscribes to q. Messages published before New returns are not seen.
func New(q *bus.Queue, router Router, log zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	sub, err := q.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", q.Channel(), err)
	}

	d := &Dispatcher{
		q:      q,
		sub:    sub,
		router: router,
		poll:   q.PollInterval(),
		log:    log.With().Str("component", "dispatcher").Str("channel", q.Channel()).Logger(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.active.Store(true)
	d.applied.Store(sub.Position() - 1)
	return d, nil
}

// Start runs the loop on a new goroutine.
func (d *Dispatcher) Start() {
	go d.Run()
}

// Run runs the loop on the calling goroutine until the dispatcher stops.
// Calling it a second time returns immediately.
func (d *Dispatcher) Run() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	defer close(d.done)
	defer d.sub.Close()
	defer d.active.Store(false)

	d.log.Info().Dur("poll", d.poll).Msg("Dispatcher started")
	for d.active.Load() {
		msg, err := d.sub.Next()
		switch {
		case errors.Is(err, bus.ErrEmpty):
			time.Sleep(d.poll)
			continue
		case errors.Is(err, bus.ErrClosed):
			d.log.Info().Msg("Dispatcher stopped")
			return
		case err != nil:
			d.log.Warn().Err(err).Uint64("seq", msg.Seq).Msg("Dropping unreadable message")
			if msg.Seq > 0 {
				d.applied.Store(msg.Seq)
			} else {
				// Nothing was consumed; back off before retrying.
				time.Sleep(d.poll)
			}
			continue
		}

		stop := d.handle(msg)
		d.applied.Store(msg.Seq)
		if stop {
			d.log.Info().Uint64("seq", msg.Seq).Msg("Dispatcher stopped by sentinel")
			return
		}
	}
	d.log.Info().Msg("Dispatcher stopped")
}

func (d *Dispatcher) handle(msg bus.Message) bool {
	rec, err := Decode(msg.Data)
	if err != nil {
		d.log.Warn().Err(err).Uint64("seq", msg.Seq).Str("id", msg.ID).Msg("Dropping malformed message")
		return false
	}
	stop := d.router.Do(rec)
	if d.observer != nil && !stop {
		d.observer(rec)
	}
	return stop
}

// Close stops the loop and releases the subscription. It does not wait for
// the loop to exit; use Done for that. Safe to call from any goroutine and
// more than once.
func (d *Dispatcher) Close() {
	d.active.Store(false)
	d.sub.Close()
	// Never started: nothing else will close done.
	if d.started.CompareAndSwap(false, true) {
		close(d.done)
	}
}

// Done is closed when the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Active reports whether the loop is still accepting messages.
func (d *Dispatcher) Active() bool {
	return d.active.Load()
}

// Applied returns the sequence number of the last message processed.
func (d *Dispatcher) Applied() uint64 {
	return d.applied.Load()
}

// WaitForDrain blocks until every message published on the channel before
// the call has been processed. Node state written by those messages is
// visible to the caller once it returns nil.
func (d *Dispatcher) WaitForDrain(ctx context.Context) error {
	target, err := d.q.LastSeq()
	if err != nil {
		return fmt.Errorf("reading channel tail: %w", err)
	}

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		if d.applied.Load() >= target {
			return nil
		}
		select {
		case <-d.done:
			if d.applied.Load() >= target {
				return nil
			}
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
