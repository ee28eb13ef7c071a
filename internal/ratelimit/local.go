package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window holds the retained request timestamps for one (client, category) key
type window struct {
	stamps   []time.Time
	lastSeen time.Time
}

// LocalStore keeps sliding windows in process memory. It is the default
// store: the hot path stays off the network, at the cost of only
// approximate global enforcement when the service is scaled horizontally.
// Windows are created lazily on first request and pruned on every check;
// idle windows are dropped by the periodic reaper.
type LocalStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLocalStore creates an in-memory sliding-window store
func NewLocalStore() *LocalStore {
	return &LocalStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Take evicts timestamps older than the window, then either rejects (count
// at limit) or records now and accepts. The whole sequence runs under one
// lock so check-then-append is atomic.
func (s *LocalStore) Take(_ context.Context, key string, limit int, windowDur time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	w.lastSeen = now

	// Evict entries outside the trailing window
	cutoff := now.Add(-windowDur)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= limit {
		oldest := w.stamps[0]
		retryAfter := windowDur - now.Sub(oldest)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retryAfter,
			Reset:      oldest.Add(windowDur),
		}, nil
	}

	w.stamps = append(w.stamps, now)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.stamps),
		Reset:     w.stamps[0].Add(windowDur),
	}, nil
}

// Reap drops windows that have not seen a request for idleFor, bounding
// memory for clients that stopped sending. Returns the number dropped.
// Safe to re-run at any cadence.
func (s *LocalStore) Reap(idleFor time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idleFor)
	dropped := 0
	for key, w := range s.windows {
		if w.lastSeen.Before(cutoff) {
			delete(s.windows, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked windows. Test helper.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
