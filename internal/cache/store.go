package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/electwix/db-lens/internal/catalog"
)

// Store is an in-memory map of keys to entries with lazy TTL expiry.
type Store struct {
	mu    sync.Mutex
	items map[catalog.Key]*Entry
	clock clock.Clock
	ttl   time.Duration
}

// StoreStats is a point-in-time view of a Store.
type StoreStats struct {
	Entries int
	Expired int
}

// NewStore creates an empty store. A nil clock uses wall time; a non-positive
// defaultTTL uses DefaultTTL.
func NewStore(clk clock.Clock, defaultTTL time.Duration) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Store{
		items: make(map[catalog.Key]*Entry),
		clock: clk,
		ttl:   defaultTTL,
	}
}

// Get returns the value for key if it is present and not expired.
// An expired entry is removed.
func (s *Store) Get(key catalog.Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if entry.Expired(s.clock.Now()) {
		delete(s.items, key)
		return nil, false
	}
	return entry.Value, true
}

// Contains reports whether key holds a valid entry. It never modifies the store.
func (s *Store) Contains(key catalog.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	return ok && !entry.Expired(s.clock.Now())
}

// Put stores value under key, replacing any previous entry. A non-positive
// ttl uses the store default.
func (s *Store) Put(key catalog.Key, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: s.clock.Now(),
		TTL:       ttl,
	}
}

// Invalidate removes key. It is a no-op when key is absent.
func (s *Store) Invalidate(key catalog.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
}

// InvalidateFunc removes every entry whose key matches pred and returns the
// number removed.
func (s *Store) InvalidateFunc(pred func(catalog.Key) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.items {
		if pred(key) {
			delete(s.items, key)
			n++
		}
	}
	return n
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.items)
}

// Sweep removes expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for key, entry := range s.items {
		if entry.Expired(now) {
			delete(s.items, key)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet removed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

// Stats reports entry counts without removing anything.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	stats := StoreStats{Entries: len(s.items)}
	for _, entry := range s.items {
		if entry.Expired(now) {
			stats.Expired++
		}
	}
	return stats
}
