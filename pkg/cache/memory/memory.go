// Package memory implements the in-process cache tier: a bounded,
// strictly least-recently-used map whose entries carry an absolute expiry.
//
// Recency always wins over hit count when choosing a victim. Frequency-skewed
// workloads are not optimized for.
package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/pario-ai/qcache/pkg/models"
)

// Status is the outcome of a Lookup.
type Status int

const (
	Miss Status = iota
	Hit
	Expired
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Expired:
		return "expired"
	default:
		return "miss"
	}
}

// Store is the memory tier. The LRU list and its key map are a single
// structure, so they always hold the same key set.
type Store struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *models.CacheEntry]
}

// New creates a Store holding at most capacity entries.
func New(capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, errors.New("memory tier capacity must be positive")
	}
	l, err := simplelru.NewLRU[string, *models.CacheEntry](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &Store{lru: l}, nil
}

// Lookup returns a deep copy of the entry for key. A live entry becomes the most
// recently used and its hit count and access time are updated. An entry past
// its expiry is removed and reported as Expired.
func (s *Store) Lookup(key string, now time.Time) (models.CacheEntry, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Peek(key)
	if !ok {
		return models.CacheEntry{}, Miss
	}
	if !now.Before(e.ExpiresAt) {
		s.lru.Remove(key)
		return models.CacheEntry{}, Expired
	}

	s.lru.Get(key) // refresh recency
	e.HitCount++
	e.LastAccessedAt = now
	out := *e
	out.Value = e.Value.Clone()
	return out, Hit
}

// Put inserts or replaces the entry for key and marks it most recently used.
// The store keeps its own deep copy of value. It reports whether another
// entry was evicted to make room.
func (s *Store) Put(key string, value models.Result, createdAt, expiresAt, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits int64
	if old, ok := s.lru.Peek(key); ok {
		hits = old.HitCount
	}
	return s.lru.Add(key, &models.CacheEntry{
		Key:            key,
		Value:          value.Clone(),
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
		LastAccessedAt: now,
		HitCount:       hits,
	})
}

// Remove deletes key and reports whether it was present.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(key)
}

// RemoveAccessedBefore deletes entries last accessed before cutoff.
func (s *Store) RemoveAccessedBefore(cutoff time.Time) int {
	return s.removeIf(func(e *models.CacheEntry) bool {
		return e.LastAccessedAt.Before(cutoff)
	})
}

// RemoveExpired deletes entries whose expiry is not after now.
func (s *Store) RemoveExpired(now time.Time) int {
	return s.removeIf(func(e *models.CacheEntry) bool {
		return !now.Before(e.ExpiresAt)
	})
}

func (s *Store) removeIf(pred func(*models.CacheEntry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.lru.Keys() {
		e, ok := s.lru.Peek(key)
		if ok && pred(e) {
			s.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Purge removes every entry.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Keys returns the keys from least to most recently used.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}
