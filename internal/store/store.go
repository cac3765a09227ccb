// Package store provides a BoltDB-backed fact cache so a restarted process
// can warm-start its nodes from the last known facts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"autofleet/internal/fleet"
	"autofleet/internal/node"
)

var nodesBucket = []byte("nodes")

// NodeRecord is the cached state of one node, keyed by address.
type NodeRecord struct {
	Address   string     `json:"address"`
	Class     string     `json:"class"`
	Family    string     `json:"family,omitempty"`
	Facts     node.Facts `json:"facts"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	Updates   uint64     `json:"updates"`
	Active    bool       `json:"active"`
}

// Store wraps a bbolt database for node records.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// New opens or creates a BoltDB file at the given path.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	// Ensure the nodes bucket exists
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating nodes bucket: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert records the current class and facts of n.
func (s *Store) Upsert(n node.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		key := []byte(n.Address())

		now := time.Now()
		var record NodeRecord

		existing := b.Get(key)
		if existing != nil {
			if err := json.Unmarshal(existing, &record); err != nil {
				s.log.Warn().Err(err).Str("address", n.Address()).Msg("Failed to unmarshal existing record, overwriting")
				record.FirstSeen = now
			}
			if record.Class != n.Class() {
				s.log.Info().
					Str("address", n.Address()).
					Str("from", record.Class).
					Str("to", n.Class()).
					Msg("Node class changed")
			}
		} else {
			record.FirstSeen = now
			s.log.Info().
				Str("address", n.Address()).
				Str("class", n.Class()).
				Msg("New node cached")
		}

		record.Address = n.Address()
		record.Class = n.Class()
		record.Family = n.Family()
		record.Facts = n.Facts()
		record.LastSeen = now
		record.Updates++
		record.Active = true

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling node record: %w", err)
		}
		return b.Put(key, data)
	})
}

// Get returns the record for address.
func (s *Store) Get(address string) (NodeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		record NodeRecord
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(nodesBucket).Get([]byte(address))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return NodeRecord{}, false, fmt.Errorf("reading %s: %w", address, err)
	}
	return record, found, nil
}

// GetAll returns all node records ordered by address.
func (s *Store) GetAll() ([]NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []NodeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		return b.ForEach(func(k, v []byte) error {
			var record NodeRecord
			if err := json.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Str("key", string(k)).Msg("Skipping corrupt record")
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// GetActive returns only active node records.
func (s *Store) GetActive() ([]NodeRecord, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}

	var active []NodeRecord
	for _, r := range all {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

// Forget removes the record for address.
func (s *Store) Forget(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		if b.Get([]byte(address)) == nil {
			return fmt.Errorf("node %s not found", address)
		}
		s.log.Info().Str("address", address).Msg("Node forgotten")
		return b.Delete([]byte(address))
	})
}

// Restore loads cached facts of active records into the matching nodes of
// ctx and returns how many nodes were warmed. Stale records are skipped.
func (s *Store) Restore(ctx *fleet.Context) (int, error) {
	records, err := s.GetActive()
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, r := range records {
		n, ok := ctx.Lookup(r.Address)
		if !ok {
			continue
		}
		loader, ok := n.(node.FactLoader)
		if !ok {
			continue
		}
		loader.LoadFacts(r.Facts)
		restored++
	}
	s.log.Debug().Int("restored", restored).Int("cached", len(records)).Msg("Facts restored")
	return restored, nil
}

// RunExpiry starts a background goroutine that marks records inactive once
// their LastSeen exceeds threshold. It stops when ctx is done.
func (s *Store) RunExpiry(ctx context.Context, checkInterval, threshold time.Duration) {
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireStaleNodes(threshold)
			}
		}
	}()
}

func (s *Store) expireStaleNodes(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-threshold)

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		stale := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			var record NodeRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}
			if !record.Active || record.LastSeen.After(cutoff) {
				return nil
			}
			record.Active = false

			s.log.Info().
				Str("address", record.Address).
				Str("class", record.Class).
				Time("last_seen", record.LastSeen).
				Msg("Node marked stale")

			data, err := json.Marshal(record)
			if err != nil {
				return nil
			}
			stale[string(k)] = data
			return nil
		})
		if err != nil {
			return err
		}
		for k, data := range stale {
			if err := b.Put([]byte(k), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Database error during expiry check")
	}
}
