package loop

import (
	"context"
	"testing"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/holiman/uint256"
)

func newTestLoop(t *testing.T, c *chain.Mock, subnetID uint32, subnetNodeID uint64) *Loop {
	t.Helper()
	kp, err := cryptokeys.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	self := cryptokeys.DerivePeerID(kp.Public)
	l := New(c, nil, subnetID, subnetNodeID, self)
	l.Sleep = func(time.Duration) {}
	return l
}

func TestRunActivateSubnetSkipsWhenFlagged(t *testing.T) {
	l := newTestLoop(t, chain.NewMock(), 1, 1)
	l.SkipActivateSubnet = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	active, err := l.runActivateSubnet(ctx)
	if err != nil {
		t.Fatalf("runActivateSubnet: %v", err)
	}
	if !active {
		t.Fatalf("expected active=true when SkipActivateSubnet is set")
	}
}

func TestRunActivateSubnetReturnsTrueOnceActive(t *testing.T) {
	c := chain.NewMock()
	c.RegisterSubnet(7, chain.SubnetActive, 0)
	l := newTestLoop(t, c, 7, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	active, err := l.runActivateSubnet(ctx)
	if err != nil {
		t.Fatalf("runActivateSubnet: %v", err)
	}
	if !active {
		t.Fatalf("expected active=true once subnet state is Active")
	}
}

func TestRunActivateSubnetAbortsAfterRepeatedMissingSubnet(t *testing.T) {
	c := chain.NewMock()
	l := newTestLoop(t, c, 9, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	active, err := l.runActivateSubnet(ctx)
	if err != nil {
		t.Fatalf("runActivateSubnet: %v", err)
	}
	if active {
		t.Fatalf("expected active=false when subnet never registers a slot")
	}
}

func TestRunIsNodeValidatorFindsClassifiedNode(t *testing.T) {
	c := chain.NewMock()
	c.RegisterSubnet(2, chain.SubnetActive, 0)
	c.RegisterNode(2, chain.SubnetNodeInfo{SubnetNodeID: 42, Classification: chain.Idle})
	l := newTestLoop(t, c, 2, 42)
	l.slot = 0
	l.slotKnown = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.runIsNodeValidator(ctx); err != nil {
		t.Fatalf("runIsNodeValidator: %v", err)
	}
}

func TestRunIsNodeValidatorBlocksUntilCancelledWhenUnclassified(t *testing.T) {
	c := chain.NewMock()
	c.RegisterSubnet(3, chain.SubnetActive, 0)
	l := newTestLoop(t, c, 3, 99)
	l.slot = 0
	l.slotKnown = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.runIsNodeValidator(ctx)
	if err == nil {
		t.Fatalf("expected context-deadline error when node never appears in the classified list")
	}
}

func score(subnetNodeID uint64, v uint64) chain.SubnetNodeConsensusData {
	return chain.SubnetNodeConsensusData{SubnetNodeID: subnetNodeID, Score: uint256.NewInt(v)}
}

// epochBlock picks a block number whose Subnet(slot=0) epoch equals ep,
// under the Mock's default EpochLength of 300.
func epochBlock(ep int64) int64 { return ep * 300 }

func TestRunConsensusElectedValidatorProposes(t *testing.T) {
	c := chain.NewMock()
	c.RegisterSubnet(5, chain.SubnetActive, 0)
	c.SetBlock(epochBlock(3))
	c.SetRewardsValidator(5, 3, 1) // validator for epoch 3 is subnet_node_id 1
	l := newTestLoop(t, c, 5, 1)
	l.slot = 0
	l.slotKnown = true
	l.epochScores[2] = []chain.SubnetNodeConsensusData{score(1, 10), score(2, 20)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.runConsensus(ctx, 3); err != nil {
		t.Fatalf("runConsensus: %v", err)
	}

	cd, err := c.GetConsensusDataFormatted(5, 3)
	if err != nil {
		t.Fatalf("get consensus data: %v", err)
	}
	if cd == nil {
		t.Fatalf("expected elected validator to have proposed attestation data")
	}
	if len(cd.Data) != 2 {
		t.Fatalf("expected proposed data to carry the 2 scored entries, got %d", len(cd.Data))
	}
}

func TestRunConsensusElectedValidatorSkipsIfAlreadyProposed(t *testing.T) {
	c := chain.NewMock()
	c.RegisterSubnet(5, chain.SubnetActive, 0)
	c.SetBlock(epochBlock(1))
	c.SetRewardsValidator(5, 1, 1)
	if _, err := c.ProposeAttestation(5, []chain.SubnetNodeConsensusData{score(1, 99)}); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	l := newTestLoop(t, c, 5, 1)
	l.slot = 0
	l.slotKnown = true
	l.epochScores[0] = []chain.SubnetNodeConsensusData{score(1, 10)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.runConsensus(ctx, 1); err != nil {
		t.Fatalf("runConsensus: %v", err)
	}

	cd, err := c.GetConsensusDataFormatted(5, 1)
	if err != nil {
		t.Fatalf("get consensus data: %v", err)
	}
	if len(cd.Data) != 1 || cd.Data[0].Score.Uint64() != 99 {
		t.Fatalf("expected the pre-existing proposal to be left untouched, got %+v", cd.Data)
	}
}

func TestRunConsensusAttestorAttestsOnMatchingData(t *testing.T) {
	c := chain.NewMock()
	c.RegisterSubnet(5, chain.SubnetActive, 0)
	c.SetBlock(epochBlock(3))
	c.SetRewardsValidator(5, 3, 1) // self is subnet_node_id 2, validator is 1
	scores := []chain.SubnetNodeConsensusData{score(1, 10), score(2, 20)}
	if _, err := c.ProposeAttestation(5, scores); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	l := newTestLoop(t, c, 5, 2)
	l.slot = 0
	l.slotKnown = true
	l.epochScores[2] = scores

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.runConsensus(ctx, 3); err != nil {
		t.Fatalf("runConsensus: %v", err)
	}
}

func TestRunConsensusAttestorSkipsOnMismatchedData(t *testing.T) {
	c := chain.NewMock()
	c.RegisterSubnet(5, chain.SubnetActive, 0)
	c.SetBlock(epochBlock(3))
	c.SetRewardsValidator(5, 3, 1)
	if _, err := c.ProposeAttestation(5, []chain.SubnetNodeConsensusData{score(1, 10)}); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	l := newTestLoop(t, c, 5, 2)
	l.slot = 0
	l.slotKnown = true
	// This node's own view disagrees (different node set) with the
	// validator's proposal, so it must not attest.
	l.epochScores[2] = []chain.SubnetNodeConsensusData{score(1, 10), score(2, 20)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.runConsensus(ctx, 3); err != nil {
		t.Fatalf("runConsensus: %v", err)
	}
	// No assertion beyond "did not error" is possible through the Mock's
	// surface: Mock.Attest has no observable side effect to check against
	// besides its Receipt, which runConsensus doesn't expose. The
	// real assertion here is that CompareConsensusData's mismatch gate
	// returns before any Attest call is reachable, which is exercised in
	// consensus.CompareConsensusData's own tests.
}

func TestGetScoresEvictsStaleEpoch(t *testing.T) {
	l := newTestLoop(t, chain.NewMock(), 1, 1)
	l.epochScores[5] = []chain.SubnetNodeConsensusData{score(1, 1)}
	l.epochScores[6] = []chain.SubnetNodeConsensusData{score(1, 2)}

	got, ok := l.getScores(6)
	if !ok || len(got) != 1 {
		t.Fatalf("expected epoch 6's scores, got ok=%v %+v", ok, got)
	}
	if _, stillThere := l.epochScores[5]; stillThere {
		t.Fatalf("expected epoch 5's scores to be evicted once epoch 6 was read")
	}
}
