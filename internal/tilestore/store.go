// Package tilestore keeps rendered tile bytes in a Pebble key/value store,
// separate from the SQLite metadata so artifacts can be evicted or expired
// independently. An expiry index keyed by timestamp makes the TTL purge a
// bounded range scan instead of a full sweep.
package tilestore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	blobPrefix   = "b|"
	expiryPrefix = "e|"
	lookupPrefix = "x|" // key → expiry timestamp, for index maintenance

	purgeBatchCap = 256
)

var errStoreClosed = errors.New("tilestore: store is closed")

// Store manages the Pebble database that holds rendered tile bytes
type Store struct {
	db *pebble.DB

	mu     sync.Mutex
	closed bool
}

// Open opens or creates the tile byte store at path
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("tilestore: database path is empty")
	}
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("tilestore: %s exists and is not a directory", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("tilestore: stat path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("tilestore: ensure directory: %w", err)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("tilestore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Put stores tile bytes under the key together with an expiry-index entry.
// Both land in one synced batch, replacing any previous expiry entry.
func (s *Store) Put(key string, data []byte, expiresAt time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	// Drop the stale expiry entry so a re-published tile is not purged
	// at its old deadline
	if old, found, err := s.getExpiry(key); err != nil {
		return err
	} else if found {
		if err := batch.Delete(expiryKeyBytes(old, key), nil); err != nil {
			return fmt.Errorf("tilestore: batch delete expiry %s: %w", key, err)
		}
	}

	exp := expiresAt.UTC().Unix()
	if err := batch.Set(blobKeyBytes(key), data, nil); err != nil {
		return fmt.Errorf("tilestore: batch set %s: %w", key, err)
	}
	if err := batch.Set(expiryKeyBytes(exp, key), nil, nil); err != nil {
		return fmt.Errorf("tilestore: batch set expiry %s: %w", key, err)
	}
	if err := batch.Set(lookupKeyBytes(key), encodeExpiry(exp), nil); err != nil {
		return fmt.Errorf("tilestore: batch set lookup %s: %w", key, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("tilestore: batch commit: %w", err)
	}
	return nil
}

// Get returns the stored bytes, or (nil, nil) when the key is absent
func (s *Store) Get(key string) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	value, closer, err := s.db.Get(blobKeyBytes(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("tilestore: get %s: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Delete removes the bytes and, when present, the expiry-index entry
func (s *Store) Delete(key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	if exp, found, err := s.getExpiry(key); err != nil {
		return err
	} else if found {
		if err := batch.Delete(expiryKeyBytes(exp, key), nil); err != nil {
			return fmt.Errorf("tilestore: batch delete expiry %s: %w", key, err)
		}
	}
	if err := batch.Delete(lookupKeyBytes(key), nil); err != nil {
		return fmt.Errorf("tilestore: batch delete lookup %s: %w", key, err)
	}
	if err := batch.Delete(blobKeyBytes(key), nil); err != nil {
		return fmt.Errorf("tilestore: batch delete %s: %w", key, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("tilestore: batch commit: %w", err)
	}
	return nil
}

// PurgeExpired deletes every blob whose expiry passed, walking only the
// expired slice of the index. Returns the number of blobs removed.
func (s *Store) PurgeExpired(now time.Time) (int64, error) {
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	cutoff := now.UTC().Unix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(expiryPrefix),
		UpperBound: expiryKeyBytes(cutoff+1, ""),
	})
	if err != nil {
		return 0, fmt.Errorf("tilestore: purge iterator: %w", err)
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()

	removed := int64(0)
	pending := 0
	for iter.First(); iter.Valid(); iter.Next() {
		ts, key, ok := parseExpiryKey(iter.Key())
		if !ok || ts > cutoff {
			continue
		}
		if err := batch.Delete(iter.Key(), nil); err != nil {
			return removed, fmt.Errorf("tilestore: purge delete expiry %s: %w", key, err)
		}
		if err := batch.Delete(blobKeyBytes(key), nil); err != nil {
			return removed, fmt.Errorf("tilestore: purge delete %s: %w", key, err)
		}
		if err := batch.Delete(lookupKeyBytes(key), nil); err != nil {
			return removed, fmt.Errorf("tilestore: purge delete lookup %s: %w", key, err)
		}
		removed++
		pending++
		if pending >= purgeBatchCap {
			if err := batch.Commit(pebble.Sync); err != nil {
				return removed, fmt.Errorf("tilestore: purge commit: %w", err)
			}
			batch.Reset()
			pending = 0
		}
	}
	if err := iter.Error(); err != nil {
		return removed, fmt.Errorf("tilestore: purge iterate: %w", err)
	}
	if pending > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return removed, fmt.Errorf("tilestore: purge commit: %w", err)
		}
	}
	return removed, nil
}

func (s *Store) ensureOpen() error {
	if s == nil || s.db == nil {
		return errors.New("tilestore: store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	return nil
}

// getExpiry reads the expiry timestamp recorded for a key via a small
// reverse lookup stored next to the blob
func (s *Store) getExpiry(key string) (int64, bool, error) {
	value, closer, err := s.db.Get(lookupKeyBytes(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("tilestore: get expiry %s: %w", key, err)
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, false, nil
	}
	return int64(binary.BigEndian.Uint64(value)), true, nil
}

func blobKeyBytes(key string) []byte {
	return append([]byte(blobPrefix), key...)
}

func lookupKeyBytes(key string) []byte {
	return append([]byte(lookupPrefix), key...)
}

func expiryKeyBytes(expiresAt int64, key string) []byte {
	buf := make([]byte, len(expiryPrefix)+8+len(key))
	copy(buf, expiryPrefix)
	binary.BigEndian.PutUint64(buf[len(expiryPrefix):], uint64(expiresAt))
	copy(buf[len(expiryPrefix)+8:], key)
	return buf
}

func parseExpiryKey(key []byte) (int64, string, bool) {
	prefix := []byte(expiryPrefix)
	if len(key) <= len(prefix)+8 || !bytes.HasPrefix(key, prefix) {
		return 0, "", false
	}
	ts := int64(binary.BigEndian.Uint64(key[len(prefix):]))
	rest := string(key[len(prefix)+8:])
	if rest == "" {
		return 0, "", false
	}
	return ts, rest, true
}

func encodeExpiry(expiresAt int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(expiresAt))
	return buf
}
