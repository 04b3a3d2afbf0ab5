// Package expiring provides a mutex-guarded map whose entries carry a deadline.
// Expired entries are invisible to readers and are physically removed by Sweep.
package expiring

import (
	"sort"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Map is safe for concurrent use.
type Map[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]entry[V]
	maxSize int
	now     func() time.Time
}

// Option configures a Map
type Option func(*options)

type options struct {
	maxSize int
	now     func() time.Time
}

// WithMaxSize bounds the map. When a Set pushes the size past max, the oldest half is evicted.
func WithMaxSize(max int) Option {
	return func(o *options) { o.maxSize = max }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an empty map
func New[K comparable, V any](opts ...Option) *Map[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Map[K, V]{
		items:   make(map[K]entry[V]),
		maxSize: o.maxSize,
		now:     o.now,
	}
}

// Set stores value under key until ttl elapses, replacing any previous entry.
func (m *Map[K, V]) Set(key K, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.items[key] = entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	m.enforceLimitLocked()
}

// SetIfAbsent stores value only when no live entry exists. It reports whether it stored.
func (m *Map[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.items[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	m.items[key] = entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	m.enforceLimitLocked()
	return true
}

// Get returns the live value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok || !m.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Lookup is like Get but also returns entries past their deadline, flagging them as expired.
func (m *Map[K, V]) Lookup(key K) (value V, expired bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.items[key]
	if !found {
		return value, false, false
	}
	return e.value, !m.now().Before(e.expiresAt), true
}

// Update runs fn on the live value for key under the lock. Returning keep=false deletes the entry;
// otherwise the returned value is stored with the original deadline.
func (m *Map[K, V]) Update(key K, fn func(v V) (V, bool)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return false
	}
	v, keep := fn(e.value)
	if !keep {
		delete(m.items, key)
		return true
	}
	e.value = v
	m.items[key] = e
	return true
}

// Delete removes key
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// Len counts stored entries, including expired ones not yet swept.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Sweep removes expired entries and applies the size limit. It returns the number removed.
func (m *Map[K, V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.items {
		if !now.Before(e.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	return removed + m.enforceLimitLocked()
}

func (m *Map[K, V]) enforceLimitLocked() int {
	if m.maxSize <= 0 || len(m.items) <= m.maxSize {
		return 0
	}
	return m.evictOldestLocked(len(m.items) / 2)
}

func (m *Map[K, V]) evictOldestLocked(n int) int {
	keys := OldestKeys(m.items, n, func(e entry[V]) time.Time { return e.createdAt })
	for _, k := range keys {
		delete(m.items, k)
	}
	return len(keys)
}

// OldestKeys returns up to n keys of items ordered from oldest to newest by the created accessor.
func OldestKeys[K comparable, E any](items map[K]E, n int, created func(E) time.Time) []K {
	if n <= 0 {
		return nil
	}
	keys := make([]K, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return created(items[keys[i]]).Before(created(items[keys[j]]))
	})
	if n > len(keys) {
		n = len(keys)
	}
	return keys[:n]
}
