package idempotency

import (
	"context"
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "idempotency"

// BoltStore keeps keys in a local file for single-node deployments.
type BoltStore struct {
	db         *bolt.DB
	ttl        time.Duration
	pendingTTL time.Duration
	now        func() time.Time
}

var _ Store = (*BoltStore)(nil)

type boltEntry struct {
	Pending   bool      `json:"pending"`
	Record    Record    `json:"record"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OpenBolt opens (or creates) the database at path and ensures the bucket exists.
func OpenBolt(path string, ttl time.Duration) (*BoltStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, ttl: ttl, pendingTTL: DefaultPendingTTL, now: time.Now}, nil
}

// WithPendingTTL sets how long an unfinished request holds its key.
func (s *BoltStore) WithPendingTTL(d time.Duration) *BoltStore {
	if d > 0 {
		s.pendingTTL = d
	}
	return s
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Begin(ctx context.Context, key string) (*Record, error) {
	var found *Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		now := s.now()

		if v := b.Get([]byte(key)); v != nil {
			var e boltEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if now.Before(e.ExpiresAt) {
				if e.Pending {
					return ErrInFlight
				}
				found = &e.Record
				return nil
			}
		}
		return s.put(b, key, boltEntry{Pending: true, ExpiresAt: now.Add(s.pendingTTL)})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *BoltStore) Complete(ctx context.Context, key string, rec Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.put(tx.Bucket([]byte(bucketName)), key, boltEntry{Record: rec, ExpiresAt: s.now().Add(s.ttl)})
	})
}

// Release forgets a reservation. Releasing an unknown key is a no-op.
func (s *BoltStore) Release(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// Seen marks key as processed and reports whether it already was.
func (s *BoltStore) Seen(ctx context.Context, key string) (bool, error) {
	seen := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		now := s.now()
		if v := b.Get([]byte(key)); v != nil {
			var e boltEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if now.Before(e.ExpiresAt) {
				seen = true
				return nil
			}
		}
		return s.put(b, key, boltEntry{ExpiresAt: now.Add(s.ttl)})
	})
	return seen, err
}

// Purge deletes expired entries and returns how many were removed.
func (s *BoltStore) Purge() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		now := s.now()
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e boltEntry
			if err := json.Unmarshal(v, &e); err != nil || !now.Before(e.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *BoltStore) put(b *bolt.Bucket, key string, e boltEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}
