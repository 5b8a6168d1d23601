// Package ratelimit implements the per-session sliding window limiter used by
// the conversation pipeline. The HTTP layer carries its own per-IP limiter;
// this one is keyed by the client session id and matches the widget's
// advertised quota.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow allows up to limit requests per key within window. Timestamps
// older than the window are evicted lazily on each Allow call; a denied
// request is not recorded.
type SlidingWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string][]time.Time

	lastCleanup time.Time

	// nowFunc is replaceable in tests.
	nowFunc func() time.Time
}

const cleanupInterval = 5 * time.Minute

// NewSlidingWindow creates a limiter allowing limit requests per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
		nowFunc: time.Now,
	}
}

// Allow reports whether a request for key is within quota, recording it when
// allowed.
func (s *SlidingWindow) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	cutoff := now.Add(-s.window)

	stamps := s.entries[key]
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= s.limit {
		s.entries[key] = live
		return false
	}

	s.entries[key] = append(live, now)

	if now.Sub(s.lastCleanup) > cleanupInterval {
		s.cleanupLocked(cutoff)
		s.lastCleanup = now
	}
	return true
}

// Remaining returns how many requests key has left in the current window.
func (s *SlidingWindow) Remaining(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowFunc().Add(-s.window)
	count := 0
	for _, ts := range s.entries[key] {
		if ts.After(cutoff) {
			count++
		}
	}
	if count >= s.limit {
		return 0
	}
	return s.limit - count
}

// cleanupLocked drops sessions whose every timestamp has aged out. Caller
// holds s.mu.
func (s *SlidingWindow) cleanupLocked(cutoff time.Time) {
	for key, stamps := range s.entries {
		stale := true
		for _, ts := range stamps {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(s.entries, key)
		}
	}
}
