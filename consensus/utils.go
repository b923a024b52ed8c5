package consensus

import (
	"github.com/holiman/uint256"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

// CompareConsensusData computes the Jaccard similarity between two
// (subnet_node_id, score) sets. Per the Open Question decision
// recorded in SPEC_FULL.md §5, the degenerate empty/empty case returns
// 1.0 (not the original Python's stray 100.0), so a consensus gate
// comparing against 1.0 behaves consistently whether or not both sides
// are empty.
func CompareConsensusData(myData, validatorData []chain.SubnetNodeConsensusData) float64 {
	mine := make(map[string]struct{}, len(myData))
	for _, d := range myData {
		mine[subnetNodeConsensusDataKey(d)] = struct{}{}
	}
	theirs := make(map[string]struct{}, len(validatorData))
	for _, d := range validatorData {
		theirs[subnetNodeConsensusDataKey(d)] = struct{}{}
	}

	union := make(map[string]struct{}, len(mine)+len(theirs))
	for k := range mine {
		union[k] = struct{}{}
	}
	for k := range theirs {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 1.0
	}

	intersection := 0
	for k := range mine {
		if _, ok := theirs[k]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(union))
}

// GetAttestationRatio is the fraction of a subnet's nodes that have
// attested a given ConsensusData proposal.
func GetAttestationRatio(cd *chain.ConsensusData) float64 {
	if cd == nil || len(cd.SubnetNodes) == 0 {
		return 0
	}
	attested := 0
	for _, entry := range cd.Attests {
		if entry.Attested {
			attested++
		}
	}
	return float64(attested) / float64(len(cd.SubnetNodes))
}

// DidNodeAttest reports whether subnetNodeID appears in cd's attest set.
func DidNodeAttest(subnetNodeID uint64, cd *chain.ConsensusData) bool {
	if cd == nil {
		return false
	}
	entry, ok := cd.Attests[subnetNodeID]
	return ok && entry.Attested
}

// GetPeersNodeID looks up peerID's on-chain subnet_node_id among
// subnetNodes, returning ok=false if not present.
func GetPeersNodeID(peerID cryptokeys.PeerID, subnetNodes []chain.SubnetNodeInfo) (uint64, bool) {
	for _, n := range subnetNodes {
		if n.PeerID == peerID {
			return n.SubnetNodeID, true
		}
	}
	return 0, false
}

// filterAndFormatScoresFromPeerID intersects scores with includedNodes
// by peer id, returning both the filtered in-subnet form and the
// on-chain form keyed by subnet_node_id.
func filterAndFormatScoresFromPeerID(scores []ConsensusScores, includedNodes []chain.SubnetNodeInfo) ([]ConsensusScores, []chain.SubnetNodeConsensusData) {
	includedPeerIDs := make(map[cryptokeys.PeerID]struct{}, len(includedNodes))
	for _, n := range includedNodes {
		includedPeerIDs[n.PeerID] = struct{}{}
	}

	var filtered []ConsensusScores
	scoreByPeer := make(map[cryptokeys.PeerID]*uint256.Int)
	for _, s := range scores {
		if _, ok := includedPeerIDs[s.PeerID]; !ok {
			continue
		}
		filtered = append(filtered, s)
		scoreByPeer[s.PeerID] = s.Score
	}

	var formatted []chain.SubnetNodeConsensusData
	for _, n := range includedNodes {
		if score, ok := scoreByPeer[n.PeerID]; ok {
			formatted = append(formatted, chain.SubnetNodeConsensusData{SubnetNodeID: n.SubnetNodeID, Score: score})
		}
	}
	return filtered, formatted
}

// filterAndFormatScoresFromSubnetNodeID is the inverse of
// filterAndFormatScoresFromPeerID: it intersects on-chain-formatted
// scores with includedNodes and recovers the peer-id-keyed form.
func filterAndFormatScoresFromSubnetNodeID(scores []chain.SubnetNodeConsensusData, includedNodes []chain.SubnetNodeInfo) ([]ConsensusScores, []chain.SubnetNodeConsensusData) {
	includedIDs := make(map[uint64]struct{}, len(includedNodes))
	for _, n := range includedNodes {
		includedIDs[n.SubnetNodeID] = struct{}{}
	}

	var filtered []chain.SubnetNodeConsensusData
	scoreByID := make(map[uint64]*uint256.Int)
	for _, s := range scores {
		if _, ok := includedIDs[s.SubnetNodeID]; !ok {
			continue
		}
		filtered = append(filtered, s)
		scoreByID[s.SubnetNodeID] = s.Score
	}

	var formatted []ConsensusScores
	for _, n := range includedNodes {
		if score, ok := scoreByID[n.SubnetNodeID]; ok {
			formatted = append(formatted, ConsensusScores{PeerID: n.PeerID, Score: score})
		}
	}
	return formatted, filtered
}

// averageConsensusScores integer-averages multiple score lists per
// subnet_node_id (the math-scored and reveal-scored streams), matching
// the original's `sum(scores) // len(scores)` truncating division.
func averageConsensusScores(scoreLists ...[]chain.SubnetNodeConsensusData) []chain.SubnetNodeConsensusData {
	aggregated := make(map[uint64][]*uint256.Int)
	var order []uint64
	for _, list := range scoreLists {
		for _, entry := range list {
			if _, seen := aggregated[entry.SubnetNodeID]; !seen {
				order = append(order, entry.SubnetNodeID)
			}
			aggregated[entry.SubnetNodeID] = append(aggregated[entry.SubnetNodeID], entry.Score)
		}
	}

	out := make([]chain.SubnetNodeConsensusData, 0, len(order))
	for _, id := range order {
		scores := aggregated[id]
		sum := new(uint256.Int)
		for _, s := range scores {
			sum.Add(sum, s)
		}
		n := uint256.NewInt(uint64(len(scores)))
		avg := new(uint256.Int).Div(sum, n)
		out = append(out, chain.SubnetNodeConsensusData{SubnetNodeID: id, Score: avg})
	}
	return out
}
