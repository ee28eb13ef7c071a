package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

// memoryEntry is one stored value with its expiry and tag set
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	tags      []string
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store for reduced-availability environments
// where Redis is not deployed. Expiry is lazy: entries are dropped when a
// read or a tag operation observes they are past their TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	tags    map[string]map[string]struct{}
	now     func() time.Time
}

// NewMemoryStore creates an in-process cache store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Get retrieves a value, evicting it if the TTL has passed.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.removeLocked(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a value and rewrites the key's tag associations.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop any previous tag associations for the key
	s.removeLocked(key)

	entry := &memoryEntry{value: value, tags: tags}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry

	for _, t := range tags {
		if s.tags[t] == nil {
			s.tags[t] = make(map[string]struct{})
		}
		s.tags[t][key] = struct{}{}
	}
	return nil
}

// Delete removes entries and prunes them from every tag index.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.removeLocked(key)
	}
	return nil
}

// InvalidateTag deletes every live key indexed under tag and clears the index.
func (s *MemoryStore) InvalidateTag(_ context.Context, tag string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key := range s.tags[tag] {
		if entry, ok := s.entries[key]; ok && !entry.expired(s.now()) {
			removed++
		}
		s.removeLocked(key)
	}
	delete(s.tags, tag)
	return removed, nil
}

// DeleteByPattern removes entries whose key matches the glob pattern.
func (s *MemoryStore) DeleteByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key := range s.entries {
		if ok, _ := path.Match(pattern, key); ok {
			s.removeLocked(key)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds: the process-local store cannot be unreachable.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired or not. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// removeLocked deletes an entry and its tag index references.
// Caller must hold mu.
func (s *MemoryStore) removeLocked(key string) {
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	for _, t := range entry.tags {
		if members := s.tags[t]; members != nil {
			delete(members, key)
			if len(members) == 0 {
				delete(s.tags, t)
			}
		}
	}
	delete(s.entries, key)
}
