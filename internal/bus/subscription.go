package bus

import (
	"sync/atomic"

	bolt "go.etcd.io/bbolt"
)

// Subscription is a cursor over a channel. Every subscriber sees each record
// published after Subscribe once, in order. Records removed by Get, Clear or
// retention before a subscriber reaches them are skipped.
type Subscription struct {
	q      *Queue
	next   atomic.Uint64
	closed atomic.Bool
}

// Subscribe returns a subscription positioned after the current tail.
func (q *Queue) Subscribe() (*Subscription, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	last, err := q.LastSeq()
	if err != nil {
		return nil, err
	}
	s := &Subscription{q: q}
	s.next.Store(last + 1)
	q.log.Debug().Uint64("from", last+1).Msg("Subscribed")
	return s, nil
}

// Next returns the next record without blocking, or ErrEmpty. A record that
// fails decoding or signature verification is consumed and reported through
// the error so the caller can log and continue.
func (s *Subscription) Next() (Message, error) {
	if s.closed.Load() || s.q.closed.Load() {
		return Message{}, ErrClosed
	}

	var (
		r         *record
		decodeErr error
		seq       uint64
	)
	err := s.q.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(s.q.bucket).Cursor().Seek(seqKey(s.next.Load()))
		if k == nil {
			return ErrEmpty
		}
		seq = keySeq(k)
		r, decodeErr = decodeRecord(v)
		return nil
	})
	if err != nil {
		return Message{}, closedErr(err)
	}
	s.next.Store(seq + 1)

	if decodeErr != nil {
		return Message{Seq: seq}, decodeErr
	}
	if !r.verify(s.q.opts.Secret) {
		return Message{Seq: seq}, ErrBadSignature
	}
	return r.message(), nil
}

// Position returns the sequence number Next will look at first.
func (s *Subscription) Position() uint64 { return s.next.Load() }

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.q.log.Debug().Uint64("at", s.next.Load()).Msg("Unsubscribed")
	}
}
