package auth

import (
	"sync"
	"time"
)

// TimedStorage is a nonce replay-window set. It is hand-rolled on a
// plain mutex+map rather than hashicorp/golang-lru: the pinned
// go-ethereum golang-lru version (v0.5.5) predates the generic/
// expirable TTL cache added in golang-lru v2, so no pack library offers
// a bounded TTL set here (see DESIGN.md). CheckAndInsert performs the
// "seen?" and "insert" as one atomic step under the lock, closing the
// TOCTOU window the spec calls out.
type TimedStorage struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewTimedStorage() *TimedStorage {
	return &TimedStorage{expires: make(map[string]time.Time)}
}

// CheckAndInsert reports whether key is fresh (not seen within its
// still-live window) and, if so, records it with the given ttl. A
// false return means key was already seen and should be treated as a
// replay.
func (s *TimedStorage) CheckAndInsert(key string, ttl time.Duration) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false
	}
	s.expires[key] = now.Add(ttl)
	s.evictExpiredLocked(now)
	return true
}

// evictExpiredLocked sweeps stale entries; called opportunistically on
// insert so the map doesn't grow unbounded. Must hold s.mu.
func (s *TimedStorage) evictExpiredLocked(now time.Time) {
	for k, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, k)
		}
	}
}
