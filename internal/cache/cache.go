// Package cache provides the TTL key-value stores shared across requests: the
// aggregate total cache, the rank base memo and rank failure markers.
package cache

import (
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
)

const defaultMaxCacheSize = 10000

// Namespaces prefix keys so unrelated values never collide in one store.
const (
	NamespaceTotal       = "total:"
	NamespaceRankBase    = "rankbase:"
	NamespaceRankFailure = "rankfail:"
)

// Store is a general purpose key-value store with per-entry TTL. Implementations
// must be safe for concurrent use; last writer wins.
type Store[V any] interface {
	// Get returns the value and true when the key exists and has not expired.
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
}

// TheineStore is a Store backed by a theine W-TinyLFU cache.
type TheineStore[V any] struct {
	cache     *theine.Cache[string, V]
	closeOnce *sync.Once
}

var _ Store[int] = (*TheineStore[int])(nil)

// NewTheineStore builds a bounded store holding at most maxElements entries.
func NewTheineStore[V any](maxElements int64) (*TheineStore[V], error) {
	if maxElements <= 0 {
		maxElements = defaultMaxCacheSize
	}
	c, err := theine.NewBuilder[string, V](maxElements).Build()
	if err != nil {
		return nil, err
	}
	return &TheineStore[V]{cache: c, closeOnce: &sync.Once{}}, nil
}

func (s *TheineStore[V]) Get(key string) (V, bool) {
	return s.cache.Get(key)
}

func (s *TheineStore[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		s.cache.Set(key, value, 1)
		return
	}
	s.cache.SetWithTTL(key, value, 1, ttl)
}

func (s *TheineStore[V]) Delete(key string) {
	s.cache.Delete(key)
}

// Close stops the background maintenance goroutines.
func (s *TheineStore[V]) Close() {
	s.closeOnce.Do(func() {
		s.cache.Close()
	})
}

// Clock returns the current time; tests substitute a manual clock.
type Clock func() time.Time

type memoryItem[V any] struct {
	value   V
	expires time.Time
}

// MemoryStore is an unbounded map-backed Store with an injectable clock.
type MemoryStore[V any] struct {
	mu    sync.RWMutex
	now   Clock
	items map[string]memoryItem[V]
}

var _ Store[int] = (*MemoryStore[int])(nil)

// NewMemoryStore creates a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore[V any](clock Clock) *MemoryStore[V] {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore[V]{now: clock, items: make(map[string]memoryItem[V])}
}

func (s *MemoryStore[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	var zero V
	if !ok {
		return zero, false
	}
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		s.Delete(key)
		return zero, false
	}
	return item.value, true
}

func (s *MemoryStore[V]) Set(key string, value V, ttl time.Duration) {
	item := memoryItem[V]{value: value}
	if ttl > 0 {
		item.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
}

func (s *MemoryStore[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len reports the number of stored entries, including expired ones not yet read.
func (s *MemoryStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
