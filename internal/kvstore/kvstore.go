// Package kvstore is the small persisted key-value slot behind the reference
// caches.
//
// Values are zstd-compressed before they hit disk and must fit under a
// per-value quota, the same way a browser storage quota would reject an
// oversized entry. Callers treat every error as non-fatal.
package kvstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/klauspost/compress/zstd"

	"github.com/dshills/refcache/pkg/types"
)

// DefaultMaxValueBytes bounds a single compressed value
const DefaultMaxValueBytes = 5 << 20

var (
	// ErrNotFound is returned by Get for a missing key
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded is returned by Put when the value does not fit
	ErrQuotaExceeded = types.ErrQuotaExceeded
	// ErrClosed is returned after Close
	ErrClosed = errors.New("kvstore closed")
)

// Store is a byte-oriented key-value slot
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Options configures a PebbleStore
type Options struct {
	// MaxValueBytes is the quota for one compressed value. 0 means default,
	// negative disables the check.
	MaxValueBytes int
	// InMemory keeps all data in memory, used by tests and ephemeral hosts
	InMemory bool
}

// PebbleStore implements Store on top of pebble
type PebbleStore struct {
	db       *pebble.DB
	maxBytes int

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store in dir
func Open(dir string, opts Options) (*PebbleStore, error) {
	popts := &pebble.Options{}
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		if dir == "" {
			dir = "refcache-kv"
		}
	}

	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	maxBytes := opts.MaxValueBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxValueBytes
	}

	return &PebbleStore{db: db, maxBytes: maxBytes, enc: enc, dec: dec}, nil
}

// OpenInMemory opens a store that lives only as long as the process
func OpenInMemory() (*PebbleStore, error) {
	return Open("", Options{InMemory: true})
}

// Get returns the decompressed value stored under key
func (s *PebbleStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	raw, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	// EncodeAll/DecodeAll are safe for concurrent use
	value, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return value, nil
}

// Put compresses value and stores it under key. Oversized values are
// rejected with ErrQuotaExceeded and leave any previous value in place.
func (s *PebbleStore) Put(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	compressed := s.enc.EncodeAll(value, nil)
	if s.maxBytes > 0 && len(compressed) > s.maxBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrQuotaExceeded, key, len(compressed), s.maxBytes)
	}

	return s.db.Set([]byte(key), compressed, pebble.Sync)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *PebbleStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}

// Close releases the database and codecs
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
