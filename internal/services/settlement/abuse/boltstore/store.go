// Package boltstore keeps abuse gate counters in a BoltDB file so limits
// survive a restart of a single-host deployment.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"go.etcd.io/bbolt"
)

const counterBucket = "abuse_counters"

// Store is a BoltDB-backed abuse.CounterStore. Each key holds its attempt
// timestamps as big-endian unix milliseconds.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed counter store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open counter db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Count drops timestamps before since and returns how many remain.
func (s *Store) Count(ctx context.Context, key string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(counterBucket))
		if bucket == nil {
			return fmt.Errorf("counter bucket is missing")
		}
		stamps := decodeStamps(bucket.Get([]byte(key)))
		cutoff := since.UnixMilli()
		idx := 0
		for idx < len(stamps) && stamps[idx] < cutoff {
			idx++
		}
		kept := stamps[idx:]
		count = len(kept)
		if count == 0 {
			return bucket.Delete([]byte(key))
		}
		if idx == 0 {
			return nil
		}
		return bucket.Put([]byte(key), encodeStamps(kept))
	})
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// Record appends one attempt.
func (s *Store) Record(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(counterBucket))
		if bucket == nil {
			return fmt.Errorf("counter bucket is missing")
		}
		stamps := append(decodeStamps(bucket.Get([]byte(key))), at.UnixMilli())
		return bucket.Put([]byte(key), encodeStamps(stamps))
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(counterBucket)); err != nil {
			return fmt.Errorf("create counter bucket: %w", err)
		}
		return nil
	})
}

// decodeStamps copies out of the bolt-owned slice, which is only valid
// inside the transaction.
func decodeStamps(raw []byte) []int64 {
	stamps := make([]int64, 0, len(raw)/8)
	for len(raw) >= 8 {
		stamps = append(stamps, int64(binary.BigEndian.Uint64(raw[:8])))
		raw = raw[8:]
	}
	return stamps
}

func encodeStamps(stamps []int64) []byte {
	out := make([]byte, 8*len(stamps))
	for i, stamp := range stamps {
		binary.BigEndian.PutUint64(out[i*8:], uint64(stamp))
	}
	return out
}

var _ abuse.CounterStore = (*Store)(nil)
