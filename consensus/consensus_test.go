package consensus

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

func scd(id uint64, score uint64) chain.SubnetNodeConsensusData {
	return chain.SubnetNodeConsensusData{SubnetNodeID: id, Score: uint256.NewInt(score)}
}

func TestCompareConsensusDataEquality(t *testing.T) {
	data := []chain.SubnetNodeConsensusData{scd(1, 1e18), scd(2, 1e18)}
	if got := CompareConsensusData(data, data); got != 1.0 {
		t.Fatalf("identical sets should be Jaccard 1.0, got %v", got)
	}
}

func TestCompareConsensusDataEmptyIsOne(t *testing.T) {
	if got := CompareConsensusData(nil, nil); got != 1.0 {
		t.Fatalf("empty/empty should resolve to 1.0 per the Open Question decision, got %v", got)
	}
}

func TestCompareConsensusDataSubset(t *testing.T) {
	mine := []chain.SubnetNodeConsensusData{scd(1, 1e18)}
	theirs := []chain.SubnetNodeConsensusData{scd(1, 1e18), scd(6, 1e18)}
	if got := CompareConsensusData(mine, theirs); got != 0.5 {
		t.Fatalf("expected Jaccard 0.5, got %v", got)
	}
}

func TestScoreToFixedPointScalesOne(t *testing.T) {
	got := ScoreToFixedPoint(1.0)
	want := uint256.NewInt(1e18)
	if !got.Eq(want) {
		t.Fatalf("ScoreToFixedPoint(1.0) = %s, want %s", got, want)
	}
}

func TestGenerateAndEvalTask(t *testing.T) {
	for i := 0; i < 50; i++ {
		eq := GenerateTask()
		if _, err := EvalTask(eq); err != nil {
			t.Fatalf("failed to evaluate generated equation %q: %v", eq, err)
		}
	}
}

func TestEvalTaskArithmetic(t *testing.T) {
	cases := map[string]float64{
		"3 + 4":  7,
		"10 - 4": 6,
		"3 * 4":  12,
		"10 / 2": 5,
	}
	for eq, want := range cases {
		got, err := EvalTask(eq)
		if err != nil {
			t.Fatalf("EvalTask(%q): %v", eq, err)
		}
		if got != want {
			t.Fatalf("EvalTask(%q) = %v, want %v", eq, got, want)
		}
	}
}

func TestAverageConsensusScoresIntegerDivision(t *testing.T) {
	a := []chain.SubnetNodeConsensusData{scd(1, 3)}
	b := []chain.SubnetNodeConsensusData{scd(1, 4)}
	avg := averageConsensusScores(a, b)
	if len(avg) != 1 || avg[0].Score.Uint64() != 3 {
		t.Fatalf("expected truncating integer average 3, got %+v", avg)
	}
}

func TestDidNodeAttestAndRatio(t *testing.T) {
	cd := &chain.ConsensusData{
		SubnetNodes: []chain.SubnetNode{{SubnetNodeID: 1}, {SubnetNodeID: 2}},
		Attests:     map[uint64]chain.AttestEntry{1: {Attested: true}},
	}
	if !DidNodeAttest(1, cd) {
		t.Fatalf("expected node 1 to have attested")
	}
	if DidNodeAttest(2, cd) {
		t.Fatalf("expected node 2 to not have attested")
	}
	if got := GetAttestationRatio(cd); got != 0.5 {
		t.Fatalf("expected attestation ratio 0.5, got %v", got)
	}
}

func TestGetPeersNodeID(t *testing.T) {
	peer := cryptokeys.PeerID("peerA")
	nodes := []chain.SubnetNodeInfo{{SubnetNodeID: 7, PeerID: peer}}
	id, ok := GetPeersNodeID(peer, nodes)
	if !ok || id != 7 {
		t.Fatalf("expected to find subnet_node_id 7, got %d ok=%v", id, ok)
	}
	if _, ok := GetPeersNodeID("unknown", nodes); ok {
		t.Fatalf("expected unknown peer to not resolve")
	}
}
