package bus

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// sigSize is the length of an HMAC-SHA256 record signature.
const sigSize = sha256.Size

// record is the on-disk form of one published message.
type record struct {
	ID        string `msgpack:"id"`
	Seq       uint64 `msgpack:"seq"`
	Published int64  `msgpack:"published"`
	Data      []byte `msgpack:"data"`
	Sig       []byte `msgpack:"sig,omitempty"`
}

// Message is a delivered record.
type Message struct {
	ID        string
	Seq       uint64
	Published time.Time
	Data      []byte
}

// signature covers the sequence and the payload so records cannot be
// replayed under another position.
func signature(seq uint64, data []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	mac.Write(buf[:])
	mac.Write(data)
	return mac.Sum(nil)
}

func (r *record) sign(secret string) {
	if secret == "" {
		return
	}
	r.Sig = signature(r.Seq, r.Data, secret)
}

func (r *record) verify(secret string) bool {
	if secret == "" {
		return true
	}
	if len(r.Sig) != sigSize {
		return false
	}
	return hmac.Equal(r.Sig, signature(r.Seq, r.Data, secret))
}

func (r *record) message() Message {
	return Message{
		ID:        r.ID,
		Seq:       r.Seq,
		Published: time.Unix(0, r.Published),
		Data:      r.Data,
	}
}

func encodeRecord(r *record) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// bbolt values are only valid inside their transaction.
	r.Data = append([]byte(nil), r.Data...)
	return &r, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func keySeq(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
