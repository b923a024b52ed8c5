package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

// ThreatLevel escalates as a peer's request rate climbs, grounded on
// mesh/utils/authorizers/limiter.py's ThreatLevel enum (SPEC_FULL.md §4
// supplement: additive hardening for rpcauth, not a PoS replacement).
type ThreatLevel int

const (
	ThreatNormal ThreatLevel = iota
	ThreatSuspicious
	ThreatModerate
	ThreatHigh
	ThreatCritical
)

// RateLimitConfig bounds request counts over three sliding windows.
type RateLimitConfig struct {
	PerSecond uint32
	PerMinute uint32
	PerHour   uint32
	BlockFor  time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{PerSecond: 20, PerMinute: 600, PerHour: 6000, BlockFor: 60 * time.Second}
}

type window struct {
	start time.Time
	count uint32
}

type peerCounters struct {
	second, minute, hour window
	blockedUntil          time.Time
}

// RateLimiter decorates an AuthorizerBase: it tracks per-peer request
// counts in sliding windows and escalates a threat level. Only a peer
// that reaches ThreatCritical is rejected and blocked for BlockFor;
// requests at the lower levels are passed on to the wrapped authorizer.
type RateLimiter struct {
	AuthorizerBase
	Config RateLimitConfig

	mu    sync.Mutex
	peers map[cryptokeys.PeerID]*peerCounters
}

func NewRateLimiter(inner AuthorizerBase, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{AuthorizerBase: inner, Config: cfg, peers: make(map[cryptokeys.PeerID]*peerCounters)}
}

func advance(w *window, now time.Time, span time.Duration) {
	if now.Sub(w.start) >= span {
		w.start = now
		w.count = 0
	}
}

// ThreatLevel classifies counters against the configured thresholds.
func (r *RateLimiter) threatLevel(c *peerCounters) ThreatLevel {
	switch {
	case c.second.count > r.Config.PerSecond*3:
		return ThreatCritical
	case c.second.count > r.Config.PerSecond*2:
		return ThreatHigh
	case c.minute.count > r.Config.PerMinute:
		return ThreatModerate
	case c.hour.count > r.Config.PerHour:
		return ThreatSuspicious
	default:
		return ThreatNormal
	}
}

// ValidateRequest increments the peer's sliding-window counters,
// rejects outright if currently blocked or newly escalated to
// Critical, then delegates to the wrapped authorizer.
func (r *RateLimiter) ValidateRequest(payload []byte, info *RequestAuthInfo) error {
	peer := cryptokeys.DerivePeerID(info.ClientAccessToken.PublicKey)
	now := time.Now()

	r.mu.Lock()
	c, ok := r.peers[peer]
	if !ok {
		c = &peerCounters{
			second: window{start: now}, minute: window{start: now}, hour: window{start: now},
		}
		r.peers[peer] = c
	}
	if now.Before(c.blockedUntil) {
		r.mu.Unlock()
		return fmt.Errorf("auth: peer %s temporarily blocked by rate limiter", peer)
	}
	advance(&c.second, now, time.Second)
	advance(&c.minute, now, time.Minute)
	advance(&c.hour, now, time.Hour)
	c.second.count++
	c.minute.count++
	c.hour.count++
	level := r.threatLevel(c)
	if level == ThreatCritical {
		c.blockedUntil = now.Add(r.Config.BlockFor)
	}
	r.mu.Unlock()

	if level == ThreatCritical {
		return fmt.Errorf("auth: peer %s rate limit exceeded (critical)", peer)
	}
	return r.AuthorizerBase.ValidateRequest(payload, info)
}

var _ AuthorizerBase = (*RateLimiter)(nil)
