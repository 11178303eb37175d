package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize is the entry limit used when none is configured.
const DefaultMemorySize = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // Zero means no expiry
}

// MemoryStore is a bounded in-process Store. Entries are evicted least
// recently used first and expire lazily on read. It is not shared between
// instances; run Redis when the service is scaled out.
type MemoryStore struct {
	entries *lru.Cache[string, memoryEntry]
	clock   clock.Clock
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding at most size entries.
// A nil clock uses the wall clock.
func NewMemoryStore(size int, clk clock.Clock) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if clk == nil {
		clk = clock.New()
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &MemoryStore{entries: entries, clock: clk}, nil
}

// Get returns the value for key, or ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !s.clock.Now().Before(entry.expiresAt) {
		s.entries.Remove(key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores value under key for ttl.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries.Add(key, entry)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// read.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}
