package dht

import (
	"sync"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

// BanList is a small process-local set of temporarily banned peer IDs,
// consulted by PredicateValidator before any phase-window check.
// Grounded on mesh/utils/ban.py, supplemented per SPEC_FULL.md §4 as
// additive hardening alongside the rate limiter.
type BanList struct {
	mu      sync.Mutex
	bannedUntil map[cryptokeys.PeerID]time.Time
}

func NewBanList() *BanList {
	return &BanList{bannedUntil: make(map[cryptokeys.PeerID]time.Time)}
}

// Ban blocks peer until now+duration.
func (b *BanList) Ban(peer cryptokeys.PeerID, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bannedUntil[peer] = time.Now().Add(duration)
}

// IsBanned reports whether peer is currently banned, evicting the
// entry if its ban has expired.
func (b *BanList) IsBanned(peer cryptokeys.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.bannedUntil[peer]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(b.bannedUntil, peer)
		return false
	}
	return true
}

// Unban removes any ban on peer.
func (b *BanList) Unban(peer cryptokeys.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bannedUntil, peer)
}
