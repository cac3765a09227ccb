// Package bus provides a durable publish/subscribe result channel backed by
// BoltDB. Each channel is a bucket of msgpack records keyed by a big-endian
// sequence number, so delivery order is publish order.
package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const (
	DefaultChannel      = "autostackqueue:results"
	DefaultPollInterval = 10 * time.Millisecond

	// Goodbye is the sentinel type published by Join.
	Goodbye = "goodbye"
)

var (
	ErrEmpty        = errors.New("bus: no message available")
	ErrClosed       = errors.New("bus: closed")
	ErrBadSignature = errors.New("bus: bad record signature")
	ErrCorrupt      = errors.New("bus: corrupt record")
)

// Options configures a channel.
type Options struct {
	Channel      string
	Secret       string
	PollInterval time.Duration
	// Retain caps the number of records kept per channel. Zero keeps everything.
	Retain int
}

func (o *Options) applyDefaults() {
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// Queue is one named channel. Channels opened with With share the database.
type Queue struct {
	db     *bolt.DB
	owner  bool
	opts   Options
	bucket []byte
	mu     sync.Mutex
	closed atomic.Bool
	log    zerolog.Logger
}

// Open opens or creates a BoltDB file at path and binds the configured channel.
func Open(path string, opts Options, log zerolog.Logger) (*Queue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bus %s: %w", path, err)
	}
	q, err := bind(db, opts, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	q.owner = true
	return q, nil
}

func bind(db *bolt.DB, opts Options, log zerolog.Logger) (*Queue, error) {
	opts.applyDefaults()
	bucket := []byte(opts.Channel)

	// Ensure the channel bucket exists
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating channel %s: %w", opts.Channel, err)
	}

	return &Queue{
		db:     db,
		opts:   opts,
		bucket: bucket,
		log:    log.With().Str("channel", opts.Channel).Logger(),
	}, nil
}

// With returns another channel on the same database. Closing it leaves the
// database open.
func (q *Queue) With(channel string) (*Queue, error) {
	opts := q.opts
	opts.Channel = channel
	return bind(q.db, opts, q.log)
}

// Channel returns the channel name.
func (q *Queue) Channel() string { return q.opts.Channel }

// PollInterval returns the configured poll interval.
func (q *Queue) PollInterval() time.Duration { return q.opts.PollInterval }

// Close releases the channel, and the database if this queue opened it.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if q.owner {
		return q.db.Close()
	}
	return nil
}

// Put publishes item. Strings, byte slices and json.RawMessage are published
// as-is; anything else is JSON-encoded.
func (q *Queue) Put(item any) error {
	_, err := q.Publish(item)
	return err
}

// Publish is Put returning the assigned sequence number.
func (q *Queue) Publish(item any) (uint64, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}

	var data []byte
	switch v := item.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = append([]byte(nil), v...)
	case json.RawMessage:
		data = append([]byte(nil), v...)
	default:
		encoded, err := json.Marshal(item)
		if err != nil {
			return 0, fmt.Errorf("encoding item: %w", err)
		}
		data = encoded
	}

	var seq uint64
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = next

		r := &record{
			ID:        uuid.NewString(),
			Seq:       seq,
			Published: time.Now().UnixNano(),
			Data:      data,
		}
		r.sign(q.opts.Secret)
		encoded, err := encodeRecord(r)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), encoded); err != nil {
			return err
		}
		return q.trim(b, seq)
	})
	if err != nil {
		return 0, fmt.Errorf("publishing to %s: %w", q.opts.Channel, closedErr(err))
	}

	q.log.Debug().Uint64("seq", seq).Int("bytes", len(data)).Msg("Message published")
	return seq, nil
}

// trim drops records older than the retention window ending at seq.
func (q *Queue) trim(b *bolt.Bucket, seq uint64) error {
	retain := uint64(q.opts.Retain)
	if retain == 0 || seq <= retain {
		return nil
	}
	floor := seqKey(seq - retain + 1)

	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && bytes.Compare(k, floor) < 0; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Get removes and returns the oldest record. Without block it returns
// ErrEmpty immediately when the channel is empty; with block it polls until
// a record arrives or timeout elapses. A zero timeout blocks indefinitely.
func (q *Queue) Get(block bool, timeout time.Duration) (Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if q.closed.Load() {
			return Message{}, ErrClosed
		}
		msg, err := q.pop()
		if !errors.Is(err, ErrEmpty) {
			return msg, err
		}
		if !block || (!deadline.IsZero() && time.Now().After(deadline)) {
			return Message{}, ErrEmpty
		}
		time.Sleep(q.opts.PollInterval)
	}
}

func (q *Queue) pop() (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		r         *record
		decodeErr error
	)
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		k, v := b.Cursor().First()
		if k == nil {
			return ErrEmpty
		}
		// An unreadable head is dropped too so the channel does not wedge.
		r, decodeErr = decodeRecord(v)
		return b.Delete(k)
	})
	if err != nil {
		return Message{}, closedErr(err)
	}
	if decodeErr != nil {
		return Message{}, decodeErr
	}
	if !r.verify(q.opts.Secret) {
		return Message{Seq: r.Seq}, ErrBadSignature
	}
	return r.message(), nil
}

// Join publishes the shutdown sentinel.
func (q *Queue) Join() error {
	return q.Put(map[string]string{"type": Goodbye})
}

// Clear deletes every record. Sequence numbers keep increasing so existing
// subscriptions stay valid.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		var keys [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing %s: %w", q.opts.Channel, closedErr(err))
	}
	return nil
}

// Len returns the number of stored records.
func (q *Queue) Len() (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(q.bucket).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, closedErr(err)
}

// LastSeq returns the sequence number of the most recent publish, zero if none.
func (q *Queue) LastSeq() (uint64, error) {
	var seq uint64
	err := q.db.View(func(tx *bolt.Tx) error {
		seq = tx.Bucket(q.bucket).Sequence()
		return nil
	})
	return seq, closedErr(err)
}

// closedErr maps the database being closed under a shared channel to ErrClosed.
func closedErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
