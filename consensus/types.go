// Package consensus implements the Task Commit-Reveal Engine: the
// per-epoch scheduler that generates arithmetic verification tasks,
// commits and reveals them (and peer scores) through the DHT, and
// aggregates per-verifier scores into the on-chain consensus format.
// Grounded on mesh/subnet/consensus/{task,utils}.py and
// mesh/subnet/utils/consensus.py.
package consensus

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

// BaseValidatorScore is the starting point a verifier's score is
// discounted from by its deviation from the peer consensus mean.
const BaseValidatorScore = 1.0

// Epsilon avoids division by zero when every verifier agrees perfectly
// (max_error == 0).
const Epsilon = 1e-8

// FixedPointScale is the on-chain fixed-point multiplier (score × 10^18).
const FixedPointScale = 1e18

// MathData is one verifier's scored round against a single prover:
// the equation it posed, the ground-truth answer it computed locally,
// the prover's reply, and the resulting 0/1 score.
type MathData struct {
	PeerID     cryptokeys.PeerID
	Equation   string
	Answer     float64
	PeerAnswer float64
	Score      float64
}

// ConsensusScores is the in-subnet (peer-id keyed) helper form of a
// score, convertible to the on-chain SubnetNodeConsensusData once the
// peer's subnet_node_id is known.
type ConsensusScores struct {
	PeerID cryptokeys.PeerID
	Score  *uint256.Int
}

// ScoreToFixedPoint truncates a float score in [0,1] to the on-chain
// fixed-point integer representation (× 10^18), per spec §9.
func ScoreToFixedPoint(score float64) *uint256.Int {
	scaled := math.Trunc(score * FixedPointScale)
	if scaled < 0 {
		scaled = 0
	}
	return uint256.NewInt(uint64(scaled))
}

// FixedPointToFloat is the inverse of ScoreToFixedPoint, used only for
// diagnostics/logging.
func FixedPointToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return float64(v.Uint64()) / FixedPointScale
}

// commitEntry is the locally-remembered half of a commit-reveal pair:
// the salt and serialized payload committed under digest
// SHA-256(salt‖bytes), kept around until the matching reveal phase.
type commitEntry struct {
	epoch int64
	salt  []byte
	bytes []byte
}

// revealPayload is the JSON-serialized shape stored at a reveal key.
type revealPayload struct {
	Salt  []byte `json:"salt"`
	Bytes []byte `json:"bytes"`
}

// subnetNodeConsensusDataKey renders a (subnet_node_id, score) pair as
// a comparable string for Jaccard set membership, the Go stand-in for
// Python's frozenset(SubnetNodeConsensusData) hashing.
func subnetNodeConsensusDataKey(d chain.SubnetNodeConsensusData) string {
	score := "0"
	if d.Score != nil {
		score = d.Score.String()
	}
	return fmt.Sprintf("%d:%s", d.SubnetNodeID, score)
}
