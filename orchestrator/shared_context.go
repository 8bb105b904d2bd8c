package orchestrator

import (
	"sync"
	"time"
)

// contextEntry is one shared value with optional visibility targeting
// and expiry.
type contextEntry struct {
	value     string
	sharedBy  string
	targets   map[string]bool
	expiresAt time.Time
}

func (e *contextEntry) visibleTo(worker string) bool {
	if e.targets == nil {
		return true
	}
	return e.targets[worker]
}

func (e *contextEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// SharedContext is the process-lifetime key to value store for explicit
// cross-worker sharing. A value becomes visible to another worker only
// through Share; there is no automatic propagation.
type SharedContext struct {
	mu      sync.RWMutex
	entries map[string]*contextEntry
}

// NewSharedContext creates an empty shared context.
func NewSharedContext() *SharedContext {
	return &SharedContext{entries: make(map[string]*contextEntry)}
}

// Share publishes a value under key. An empty targetWorkers slice makes
// the value visible to all workers; a positive ttl expires it.
func (s *SharedContext) Share(key, value, sharedBy string, targetWorkers []string, ttl time.Duration) {
	entry := &contextEntry{value: value, sharedBy: sharedBy}
	if len(targetWorkers) > 0 {
		entry.targets = make(map[string]bool, len(targetWorkers))
		for _, w := range targetWorkers {
			entry.targets[w] = true
		}
	}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}

// Get returns the value under key as visible to the named worker. An
// empty worker name bypasses targeting (orchestrator-level read).
func (s *SharedContext) Get(key, worker string) (string, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return "", false
	}
	if worker != "" && !entry.visibleTo(worker) {
		return "", false
	}
	return entry.value, true
}

// Delete removes a key.
func (s *SharedContext) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Clear removes every entry.
func (s *SharedContext) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*contextEntry)
	s.mu.Unlock()
}

// Keys returns all live keys, targeting ignored.
func (s *SharedContext) Keys() []string {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if !entry.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// VisibleTo returns the key to value view for one worker, skipping
// expired entries and entries targeted elsewhere.
func (s *SharedContext) VisibleTo(worker string) map[string]string {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	view := make(map[string]string)
	for key, entry := range s.entries {
		if entry.expired(now) {
			continue
		}
		if entry.visibleTo(worker) {
			view[key] = entry.value
		}
	}
	return view
}

// Len returns the number of live entries.
func (s *SharedContext) Len() int {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, entry := range s.entries {
		if !entry.expired(now) {
			n++
		}
	}
	return n
}
