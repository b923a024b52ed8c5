package dht

import (
	"sync"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/epoch"
	dhtlog "github.com/hayotensor/subnet-commit-reveal-example/log"
)

// Commit-reveal phase deadlines, expressed as epoch percent_complete
// thresholds, and expiration bounds in seconds. Grounded on
// mock_commit_reveal.py and substrate/config.py (BLOCK_SECS=6,
// EPOCH_LENGTH=300).
const (
	VerifierCommitDeadline = 0.5
	VerifierRevealDeadline = 0.6
	ScoresRevealDeadline   = 0.6

	DefaultBlockSecs   int64 = 6
	DefaultEpochLength int64 = 300

	MaxEpochHistory = 5 // epochs of store-tracking kept before cleanup
)

func init() {
	// Open Question decision #3 (SPEC_FULL.md §5): assert a strict
	// ordering so a collapsed deadline configuration fails loudly
	// instead of silently skipping a commit-reveal phase.
	if !(0 < VerifierCommitDeadline && VerifierCommitDeadline < VerifierRevealDeadline && VerifierRevealDeadline <= ScoresRevealDeadline) {
		panic("dht: commit-reveal deadlines must satisfy 0 < commit < reveal <= scores_reveal")
	}
}

// EpochDataFunc supplies the current subnet epoch snapshot; injected so
// the predicate validator never depends on wall-clock time directly.
type EpochDataFunc func() (epoch.Data, error)

type keyFamily string

const (
	familyNode            keyFamily = "node"
	familyVerifierCommit   keyFamily = "verifier_commit"
	familyVerifierReveal   keyFamily = "verifier_reveal"
	familyScoresCommit     keyFamily = "scores_commit"
	familyScoresReveal     keyFamily = "scores_reveal"
)

// PredicateValidator enforces the per-epoch commit-reveal schema: which
// key families are allowed, their phase windows, per-peer-per-epoch
// quotas, and expiration bounds. Grounded on
// mesh/subnet/utils/mock_commit_reveal.py's MockHypertensorCommitReveal.
type PredicateValidator struct {
	EpochData  EpochDataFunc
	Bans       *BanList
	BlockSecs  int64
	EpochLen   int64

	perPeerEpochLimits map[keyFamily]int

	mu      sync.Mutex
	tracker map[int64]map[keyFamily]map[cryptokeys.PeerID]int

	now func() int64
}

// NewPredicateValidator builds a validator sourcing epoch data from ed.
func NewPredicateValidator(ed EpochDataFunc, bans *BanList, nowFunc func() int64) *PredicateValidator {
	return &PredicateValidator{
		EpochData: ed,
		Bans:      bans,
		BlockSecs: DefaultBlockSecs,
		EpochLen:  DefaultEpochLength,
		perPeerEpochLimits: map[keyFamily]int{
			familyNode:           100,
			familyVerifierCommit: 1,
			familyVerifierReveal: 1,
			familyScoresReveal:   1,
			familyScoresCommit:   1,
		},
		tracker: make(map[int64]map[keyFamily]map[cryptokeys.PeerID]int),
		now:     nowFunc,
	}
}

func (p *PredicateValidator) Priority() int { return 5 }

func (p *PredicateValidator) MergeWith(other RecordValidator) bool {
	_, ok := other.(*PredicateValidator)
	return ok // a second instance is redundant; keep the first
}

func (p *PredicateValidator) maxHeartbeatTime() int64 { return int64(float64(p.BlockSecs*p.EpochLen) * 1.1) }
func (p *PredicateValidator) maxCommitTime() int64    { return p.BlockSecs * p.EpochLen * 5 }
func (p *PredicateValidator) maxRevealTime() int64    { return p.BlockSecs * p.EpochLen * 5 }

func (p *PredicateValidator) keyFamily(key string, currentEpoch int64) (keyFamily, bool) {
	switch key {
	case KeyID(NodeKeySource()):
		return familyNode, true
	case KeyID(VerifierCommitKeySource(currentEpoch)):
		return familyVerifierCommit, true
	case KeyID(VerifierRevealKeySource(currentEpoch)):
		return familyVerifierReveal, true
	case KeyID(ScoresRevealKeySource(currentEpoch)):
		return familyScoresReveal, true
	case KeyID(ScoresCommitKeySource(currentEpoch)):
		return familyScoresCommit, true
	default:
		return "", false
	}
}

func (p *PredicateValidator) cleanupOldEpochs(currentEpoch int64) {
	for e := range p.tracker {
		if e < currentEpoch-MaxEpochHistory {
			delete(p.tracker, e)
		}
	}
}

func (p *PredicateValidator) exceededLimit(peer cryptokeys.PeerID, family keyFamily, currentEpoch int64) bool {
	limit, ok := p.perPeerEpochLimits[family]
	if !ok {
		limit = 1
	}
	byFamily := p.tracker[currentEpoch]
	if byFamily == nil {
		return false
	}
	return byFamily[family][peer] >= limit
}

func (p *PredicateValidator) recordStore(peer cryptokeys.PeerID, family keyFamily, currentEpoch int64) {
	if p.tracker[currentEpoch] == nil {
		p.tracker[currentEpoch] = make(map[keyFamily]map[cryptokeys.PeerID]int)
	}
	if p.tracker[currentEpoch][family] == nil {
		p.tracker[currentEpoch][family] = make(map[cryptokeys.PeerID]int)
	}
	p.tracker[currentEpoch][family][peer]++
}

var predLog = dhtlog.NewPkgLogger("dht.predicate")

// Validate implements RecordValidator. GET is always allowed (signature
// validation already ran at higher priority); POST is gated by key
// family, phase window, and per-peer quota.
func (p *PredicateValidator) Validate(record Record, reqType RequestType) bool {
	if reqType == Get {
		return true
	}
	peer := ExtractPeerIDFromSubkey(record.Subkey)
	if peer == "" {
		return false
	}
	if p.Bans != nil && p.Bans.IsBanned(peer) {
		return false
	}

	ed, err := p.EpochData()
	if err != nil {
		predLog.Debug("predicate validator: epoch data unavailable", "err", err)
		return false
	}
	currentEpoch := ed.Epoch
	percent := ed.PercentComplete

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupOldEpochs(currentEpoch)

	family, ok := p.keyFamily(record.Key, currentEpoch)
	if !ok {
		return false
	}

	if p.exceededLimit(peer, family, currentEpoch) {
		return false
	}

	dhtNow := p.now()

	switch family {
	case familyNode:
		if record.ExpirationTime > dhtNow+p.maxHeartbeatTime() {
			return false
		}
	case familyVerifierCommit:
		if percent > VerifierCommitDeadline {
			return false
		}
		if record.ExpirationTime > dhtNow+p.maxCommitTime() {
			return false
		}
	case familyVerifierReveal:
		if percent <= VerifierCommitDeadline || percent > VerifierRevealDeadline {
			return false
		}
		if record.ExpirationTime > dhtNow+p.maxRevealTime() {
			return false
		}
	case familyScoresReveal:
		if percent <= VerifierCommitDeadline || percent > ScoresRevealDeadline {
			return false
		}
		if record.ExpirationTime > dhtNow+p.maxRevealTime() {
			return false
		}
	case familyScoresCommit:
		if percent <= ScoresRevealDeadline {
			return false
		}
		if record.ExpirationTime > dhtNow+p.maxCommitTime() {
			return false
		}
	}

	p.recordStore(peer, family, currentEpoch)
	return true
}
