package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

const DefaultPoSCacheTTL = 300 * time.Second

type posCacheEntry struct {
	ok        bool
	expiresAt time.Time
}

// ProofOfStakeAuthorizer wraps a SignatureAuthorizer: after signature
// validation succeeds, it queries proof_of_stake on chain and caches
// the per-peer result with a 300s TTL success/failure cache, so a
// fresh failure evicts a stale success and vice versa. Grounded on
// mesh/utils/authorizers/pos_auth.py's ProofOfStakeAuthorizer.
type ProofOfStakeAuthorizer struct {
	*SignatureAuthorizer

	Chain    chain.Client
	SubnetID uint32
	MinClass chain.Classification
	CacheTTL time.Duration

	mu    sync.Mutex
	cache map[cryptokeys.PeerID]posCacheEntry
}

func NewProofOfStakeAuthorizer(sig *SignatureAuthorizer, c chain.Client, subnetID uint32, minClass chain.Classification) *ProofOfStakeAuthorizer {
	return &ProofOfStakeAuthorizer{
		SignatureAuthorizer: sig,
		Chain:               c,
		SubnetID:            subnetID,
		MinClass:            minClass,
		CacheTTL:            DefaultPoSCacheTTL,
		cache:               make(map[cryptokeys.PeerID]posCacheEntry),
	}
}

func (p *ProofOfStakeAuthorizer) cachedResult(peer cryptokeys.PeerID) (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[peer]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.ok, true
}

func (p *ProofOfStakeAuthorizer) setCached(peer cryptokeys.PeerID, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[peer] = posCacheEntry{ok: ok, expiresAt: time.Now().Add(p.CacheTTL)}
}

// ValidateRequest runs signature validation, then a cached (or fresh)
// proof-of-stake check for the requesting peer.
func (p *ProofOfStakeAuthorizer) ValidateRequest(payload []byte, info *RequestAuthInfo) error {
	if err := p.SignatureAuthorizer.ValidateRequest(payload, info); err != nil {
		return err
	}
	peer := cryptokeys.DerivePeerID(info.ClientAccessToken.PublicKey)
	if ok, hit := p.cachedResult(peer); hit {
		if !ok {
			return fmt.Errorf("auth: peer %s failed proof-of-stake (cached)", peer)
		}
		return nil
	}
	res, err := p.Chain.ProofOfStake(p.SubnetID, peer, p.MinClass)
	if err != nil {
		return fmt.Errorf("auth: proof-of-stake query failed: %w", err)
	}
	p.setCached(peer, res.Result)
	if !res.Result {
		return fmt.Errorf("auth: peer %s failed proof-of-stake", peer)
	}
	return nil
}

var _ AuthorizerBase = (*ProofOfStakeAuthorizer)(nil)
