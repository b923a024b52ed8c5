package consensus

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/dht"
	clog "github.com/hayotensor/subnet-commit-reveal-example/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var taskLog = clog.NewPkgLogger("consensus.task")

// Store is the subset of dht.Node's contract the engine writes
// through; keeping it as a narrow local interface (rather than
// depending on *dht.Node directly) lets tests substitute an in-memory
// fake without constructing a full validator chain.
type Store interface {
	Store(key, subkey string, value []byte, expirationTime int64, signingPublicKey string) bool
	Get(key string, latest bool) (*dht.GetResult, bool)
}

// Prover is the authenticated RPC surface this engine calls as a
// verifier: rpc_math(equation) -> output. The wire transport and
// authentication envelope live in rpcauth; this engine only needs the
// round-trip result.
type Prover interface {
	RPCMath(peerID cryptokeys.PeerID, equation string) (float64, error)
}

// PeerLister discovers the current set of live peer ids, backing
// call_and_commit_all_tasks's "get nodes from the node heartbeat key".
type PeerLister interface {
	ListPeers() ([]cryptokeys.PeerID, error)
}

// Signer produces a signed DHT value, the counterpart of
// dht.SignatureValidator.Sign used without importing *dht.KeyPair
// construction details into this package.
type Signer interface {
	Sign(key, subkey string, value []byte, expirationTime int64) ([]byte, error)
}

// TaskCommitReveal is the per-epoch commit-reveal engine (spec §4.6):
// it maintains the locally-remembered task commit and per-epoch score
// commits, drives the four commit-reveal phases, and aggregates
// verifier-reported scores into the on-chain consensus format.
// Grounded on mesh/subnet/consensus/task.py's TaskCommitReveal.
type TaskCommitReveal struct {
	DHT      Store
	Signer   Signer
	Chain    chain.Client
	Peers    PeerLister
	Prover   Prover
	SubnetID uint32
	Self     cryptokeys.PeerID
	SelfPub  cryptokeys.PublicKey

	// Now returns the current DHT time in unix seconds; overridable in
	// tests. Defaults to time.Now().Unix() via NewTaskCommitReveal.
	Now func() int64

	latestTaskCommit   *commitEntry
	latestScoresCommit map[int64]*commitEntry
}

// NewTaskCommitReveal builds an engine with nowFunc as its time source.
func NewTaskCommitReveal(d Store, signer Signer, c chain.Client, peers PeerLister, prover Prover, subnetID uint32, self cryptokeys.PeerID, selfPub cryptokeys.PublicKey, nowFunc func() int64) *TaskCommitReveal {
	return &TaskCommitReveal{
		DHT:                d,
		Signer:             signer,
		Chain:              c,
		Peers:              peers,
		Prover:             prover,
		SubnetID:           subnetID,
		Self:               self,
		SelfPub:            selfPub,
		Now:                nowFunc,
		latestScoresCommit: make(map[int64]*commitEntry),
	}
}

func randomSalt() ([]byte, error) {
	salt := make([]byte, 16)
	_, err := rand.Read(salt)
	return salt, err
}

func digestOf(salt, payload []byte) [32]byte {
	return sha256.Sum256(append(append([]byte{}, salt...), payload...))
}

func (e *TaskCommitReveal) ownerSubkey() string {
	return dht.OwnerSubkey(e.Self, e.SelfPub)
}

// CallAndCommitAllTasks is phase 1 (task-commit, percent_complete <=
// 0.5): it poses a unique arithmetic equation to every other known
// peer, scores their reply 1.0/0.0, and commits SHA-256(salt‖payload)
// to verifier_commit_epoch_{E}, remembering the payload locally for
// the reveal phase.
func (e *TaskCommitReveal) CallAndCommitAllTasks(currentEpoch int64) error {
	peers, err := e.Peers.ListPeers()
	if err != nil {
		return fmt.Errorf("consensus: list peers: %w", err)
	}

	var evals []MathData
	for _, peer := range peers {
		if peer == e.Self {
			continue
		}
		equation := GenerateTask()
		myEval, err := EvalTask(equation)
		if err != nil {
			return err
		}
		peerEval, err := e.Prover.RPCMath(peer, equation)
		if err != nil {
			taskLog.Warn("rpc_math failed", "peer", peer, "err", err)
			continue
		}
		score := 0.0
		if myEval == peerEval {
			score = 1.0
		}
		evals = append(evals, MathData{PeerID: peer, Equation: equation, Answer: myEval, PeerAnswer: peerEval, Score: score})
	}

	if len(evals) == 0 {
		return nil
	}

	payload, err := json.Marshal(evals)
	if err != nil {
		return fmt.Errorf("consensus: marshal task evals: %w", err)
	}
	salt, err := randomSalt()
	if err != nil {
		return err
	}
	digest := digestOf(salt, payload)

	key := dht.KeyID(dht.VerifierCommitKeySource(currentEpoch))
	expiration := e.Now() + int64(float64(dht.DefaultBlockSecs*dht.DefaultEpochLength*5)*0.9)
	signed, err := e.Signer.Sign(key, e.ownerSubkey(), digest[:], expiration)
	if err != nil {
		return fmt.Errorf("consensus: sign task commit: %w", err)
	}

	e.latestTaskCommit = &commitEntry{epoch: currentEpoch, salt: salt, bytes: payload}

	if !e.DHT.Store(key, e.ownerSubkey(), signed, expiration, e.SelfPub.Marshal()) {
		taskLog.Warn("commit tasks data failed", "epoch", currentEpoch)
	} else {
		taskLog.Info("committed tasks data", "epoch", currentEpoch)
	}
	return nil
}

// RevealTasks is phase 2 (task-reveal, 0.5 < percent_complete <= 0.6):
// it publishes the salt and payload committed this epoch.
func (e *TaskCommitReveal) RevealTasks(currentEpoch int64) error {
	if e.latestTaskCommit == nil || e.latestTaskCommit.epoch != currentEpoch {
		return nil
	}
	return e.storeReveal(dht.VerifierRevealKeySource(currentEpoch), e.latestTaskCommit, currentEpoch, "revealed tasks data")
}

// CommitScores is phase 4 (score-commit, percent_complete > 0.6): it
// commits the current epoch's final scores, remembering them so epoch
// E+2's reveal phase can expose them.
func (e *TaskCommitReveal) CommitScores(currentEpoch int64, scores []chain.SubnetNodeConsensusData) error {
	payload, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("consensus: marshal scores commit: %w", err)
	}
	salt, err := randomSalt()
	if err != nil {
		return err
	}
	digest := digestOf(salt, payload)

	key := dht.KeyID(dht.ScoresCommitKeySource(currentEpoch))
	expiration := e.Now() + int64(float64(dht.DefaultBlockSecs*dht.DefaultEpochLength*5)*0.9)
	signed, err := e.Signer.Sign(key, e.ownerSubkey(), digest[:], expiration)
	if err != nil {
		return fmt.Errorf("consensus: sign scores commit: %w", err)
	}

	e.latestScoresCommit[currentEpoch] = &commitEntry{epoch: currentEpoch, salt: salt, bytes: payload}

	if !e.DHT.Store(key, e.ownerSubkey(), signed, expiration, e.SelfPub.Marshal()) {
		taskLog.Warn("commit score data failed", "epoch", currentEpoch)
	} else {
		taskLog.Info("committed score data", "epoch", currentEpoch)
	}
	return nil
}

// RevealScores is phase 3 (score-reveal, 0.5 < percent_complete <=
// 0.6): it reveals the score commit made two epochs earlier.
func (e *TaskCommitReveal) RevealScores(currentEpoch int64) error {
	entry, ok := e.latestScoresCommit[currentEpoch-2]
	if !ok {
		return nil
	}
	return e.storeReveal(dht.ScoresRevealKeySource(currentEpoch), entry, currentEpoch, "revealed score data")
}

func (e *TaskCommitReveal) storeReveal(keySource string, entry *commitEntry, currentEpoch int64, logMsg string) error {
	payload, err := json.Marshal(revealPayload{Salt: entry.salt, Bytes: entry.bytes})
	if err != nil {
		return fmt.Errorf("consensus: marshal reveal payload: %w", err)
	}
	key := dht.KeyID(keySource)
	expiration := e.Now() + int64(float64(dht.DefaultBlockSecs*dht.DefaultEpochLength*5)*0.9)
	signed, err := e.Signer.Sign(key, e.ownerSubkey(), payload, expiration)
	if err != nil {
		return fmt.Errorf("consensus: sign reveal: %w", err)
	}
	if !e.DHT.Store(key, e.ownerSubkey(), signed, expiration, e.SelfPub.Marshal()) {
		taskLog.Warn("reveal store failed", "epoch", currentEpoch)
		return nil
	}
	taskLog.Info(logMsg, "epoch", currentEpoch)
	return nil
}

// verifiedReveal pairs a revealing peer with its digest-checked,
// deserialized reveal payload.
type verifiedReveal struct {
	peerID cryptokeys.PeerID
	bytes  []byte
}

// collectVerifiedReveals fetches commitKey/revealKey, recomputes each
// revealer's digest, and discards mismatches, per spec §4.6's
// commit-reveal soundness invariant.
func (e *TaskCommitReveal) collectVerifiedReveals(commitKey, revealKey string) []verifiedReveal {
	commitRecords, hasCommits := e.DHT.Get(commitKey, true)
	revealRecords, hasReveals := e.DHT.Get(revealKey, true)
	if !hasCommits && !hasReveals {
		return nil
	}
	if !hasReveals {
		return nil
	}
	commitValues := map[string]dht.StoredValue{}
	if hasCommits {
		commitValues = commitRecords.Value
	}

	var out []verifiedReveal
	for subkey, sv := range revealRecords.Value {
		peerID := dht.ExtractPeerIDFromSubkey(subkey)
		if peerID == "" {
			continue
		}
		var rp revealPayload
		if err := json.Unmarshal(dht.StripSignatureSuffix(sv.Value), &rp); err != nil {
			taskLog.Warn("failed to parse reveal payload", "peer", peerID, "err", err)
			continue
		}
		commitSV, ok := commitValues[subkey]
		if !ok {
			continue
		}
		committedDigest := dht.StripSignatureSuffix(commitSV.Value)
		recomputed := digestOf(rp.Salt, rp.Bytes)
		if string(committedDigest) != string(recomputed[:]) {
			taskLog.Warn("hash mismatch from verifier, skipping", "peer", peerID)
			continue
		}
		out = append(out, verifiedReveal{peerID: peerID, bytes: rp.Bytes})
	}
	return out
}

// VerifyScoreReveals reads targetEpoch's scores_reveal entries and
// targetEpoch-2's scores_commit digests, scoring each attesting
// revealer's reveal against the on-chain consensus data from
// targetEpoch-2 by Jaccard similarity (spec §4.6, "score reveals from
// E-2").
func (e *TaskCommitReveal) VerifyScoreReveals(targetEpoch int64, includedNodes []chain.SubnetNodeInfo) ([]ConsensusScores, error) {
	commitKey := dht.KeyID(dht.ScoresCommitKeySource(targetEpoch - 2))
	revealKey := dht.KeyID(dht.ScoresRevealKeySource(targetEpoch))

	reveals := e.collectVerifiedReveals(commitKey, revealKey)
	if len(reveals) == 0 {
		return nil, nil
	}

	consensusData, err := e.Chain.GetConsensusDataFormatted(e.SubnetID, targetEpoch-2)
	if err != nil {
		return nil, fmt.Errorf("consensus: get consensus data for epoch %d: %w", targetEpoch-2, err)
	}
	if consensusData == nil {
		return nil, nil
	}
	if GetAttestationRatio(consensusData) < 0.66 {
		return nil, nil
	}

	var out []ConsensusScores
	for _, r := range reveals {
		subnetNodeID, ok := GetPeersNodeID(r.peerID, includedNodes)
		if !ok {
			continue
		}
		if !DidNodeAttest(subnetNodeID, consensusData) {
			continue
		}
		var scores []chain.SubnetNodeConsensusData
		if err := json.Unmarshal(r.bytes, &scores); err != nil {
			taskLog.Warn("failed to parse revealed scores", "peer", r.peerID, "err", err)
			continue
		}
		similarity := CompareConsensusData(scores, consensusData.Data)
		out = append(out, ConsensusScores{PeerID: r.peerID, Score: ScoreToFixedPoint(similarity)})
	}
	return out, nil
}

// VerifyAndScorePeers is the verify-and-score step run once
// percent_complete > VerifierRevealDeadline (spec §4.6): it recomputes
// each verifier's reported MathData list, scores verifiers by their
// deviation from the peer consensus mean, folds in the E-2 score-reveal
// stream by averaging, and filters the result to Included-or-higher
// on-chain nodes.
func (e *TaskCommitReveal) VerifyAndScorePeers(targetEpoch int64) ([]ConsensusScores, []chain.SubnetNodeConsensusData, error) {
	commitKey := dht.KeyID(dht.VerifierCommitKeySource(targetEpoch))
	revealKey := dht.KeyID(dht.VerifierRevealKeySource(targetEpoch))
	reveals := e.collectVerifiedReveals(commitKey, revealKey)
	if len(reveals) == 0 {
		return nil, nil, nil
	}

	results := make(map[cryptokeys.PeerID][]MathData, len(reveals))
	for _, r := range reveals {
		var rounds []MathData
		if err := json.Unmarshal(r.bytes, &rounds); err != nil {
			taskLog.Warn("failed to parse math data", "peer", r.peerID, "err", err)
			continue
		}
		results[r.peerID] = rounds
	}

	peerScores := make(map[cryptokeys.PeerID][]float64)
	var verifierOrder []cryptokeys.PeerID
	for verifier, rounds := range results {
		verifierOrder = append(verifierOrder, verifier)
		for _, r := range rounds {
			peerScores[r.PeerID] = append(peerScores[r.PeerID], r.Score)
		}
	}
	sort.Slice(verifierOrder, func(i, j int) bool { return verifierOrder[i] < verifierOrder[j] })

	peerMeans := make(map[cryptokeys.PeerID]float64, len(peerScores))
	for peer, scores := range peerScores {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		peerMeans[peer] = sum / float64(len(scores))
	}

	validatorErrors := make(map[cryptokeys.PeerID]float64, len(results))
	for _, verifier := range verifierOrder {
		errSum := 0.0
		for _, r := range results[verifier] {
			if mean, ok := peerMeans[r.PeerID]; ok {
				d := r.Score - mean
				errSum += d * d
			}
		}
		validatorErrors[verifier] = errSum
	}

	maxError := 1.0
	first := true
	for _, err := range validatorErrors {
		if first || err > maxError {
			maxError = err
			first = false
		}
	}

	var consensusScores []ConsensusScores
	for _, verifier := range verifierOrder {
		score := math.Max(BaseValidatorScore-(validatorErrors[verifier]/(maxError+Epsilon)), 0.0)
		consensusScores = append(consensusScores, ConsensusScores{PeerID: verifier, Score: ScoreToFixedPoint(score)})
	}

	includedNodes, err := e.Chain.GetMinClassSubnetNodesFormatted(e.SubnetID, targetEpoch, chain.Included)
	if err != nil {
		return nil, nil, fmt.Errorf("consensus: get included nodes: %w", err)
	}

	scores, formatted := filterAndFormatScoresFromPeerID(consensusScores, includedNodes)

	revealScores, err := e.VerifyScoreReveals(targetEpoch, includedNodes)
	if err != nil {
		return nil, nil, err
	}
	if len(revealScores) > 0 {
		_, revealFormatted := filterAndFormatScoresFromPeerID(revealScores, includedNodes)
		finalScores := averageConsensusScores(formatted, revealFormatted)
		scores, formatted = filterAndFormatScoresFromSubnetNodeID(finalScores, includedNodes)
	}

	return scores, formatted, nil
}
