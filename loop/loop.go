// Package loop implements the Consensus Loop (spec §8): the per-epoch
// orchestrator that gates on subnet activation and node classification
// before driving the Task Commit-Reveal Engine through its four
// phases every epoch, and branches between elected-validator and
// attestor behavior.
//
// Grounded on original_source/mesh/subnet/consensus/consensus.py's
// Consensus class; where that class is a long-running multiprocessing
// worker polling via asyncio.sleep, Loop is a context-cancellable
// goroutine polling via an injectable Sleep hook.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/consensus"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/dht"
	clog "github.com/hayotensor/subnet-commit-reveal-example/log"
)

var loopLog = clog.NewPkgLogger("loop")

// attestationDeadline bounds how far into an epoch an attestor will
// still check and attest the elected validator's proposal; hardcoded
// in consensus.py's run_consensus rather than pulled from the shared
// deadline constants, so it's kept as a loop-local constant here too.
const attestationDeadline = 0.15

// Loop is the Consensus Loop. Slot and epoch lookups all go through
// Chain; Engine is the epoch's Task Commit-Reveal Engine.
type Loop struct {
	Chain        chain.Client
	Engine       *consensus.TaskCommitReveal
	SubnetID     uint32
	SubnetNodeID uint64
	Self         cryptokeys.PeerID

	// SkipActivateSubnet bypasses the on-chain activation wait, useful
	// when the subnet is already known active or under test.
	SkipActivateSubnet bool

	// Sleep is the loop's time source; overridable in tests to avoid
	// real waits. Defaults to time.Sleep via New.
	Sleep func(d time.Duration)

	slot        int64
	slotKnown   bool
	epochScores map[int64][]chain.SubnetNodeConsensusData
}

// New builds a Loop with the real time.Sleep as its sleep hook.
func New(c chain.Client, engine *consensus.TaskCommitReveal, subnetID uint32, subnetNodeID uint64, self cryptokeys.PeerID) *Loop {
	return &Loop{
		Chain:        c,
		Engine:       engine,
		SubnetID:     subnetID,
		SubnetNodeID: subnetNodeID,
		Self:         self,
		Sleep:        time.Sleep,
		epochScores:  make(map[int64][]chain.SubnetNodeConsensusData),
	}
}

func blockDelay() time.Duration { return time.Duration(dht.DefaultBlockSecs) * time.Second }

// sleepCtx waits for d via l.Sleep, returning false early if ctx is
// cancelled first.
func (l *Loop) sleepCtx(ctx context.Context, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		l.Sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return true
	}
}

func (l *Loop) ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run drives the full lifecycle: wait for subnet activation, wait for
// this node's classification, then run the epoch loop forever (until
// ctx is cancelled).
func (l *Loop) Run(ctx context.Context) error {
	active, err := l.runActivateSubnet(ctx)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}
	if err := l.runIsNodeValidator(ctx); err != nil {
		return err
	}
	return l.runForever(ctx)
}

// runActivateSubnet blocks until the subnet is seen Active on chain,
// sleeping until each subsequent epoch boundary between checks.
// Grounded on Consensus.run_activate_subnet.
func (l *Loop) runActivateSubnet(ctx context.Context) (bool, error) {
	if l.SkipActivateSubnet {
		loopLog.Info("skipping subnet activation check")
		return true, nil
	}

	var lastEpoch int64
	haveLastEpoch := false
	const maxErrors = 3
	errCount := 0

	for !l.ctxDone(ctx) {
		if !l.slotKnown {
			slot, ok, err := l.Chain.GetSubnetSlot(l.SubnetID)
			if err != nil {
				loopLog.Warn("get subnet slot failed", "err", err)
			}
			if !ok {
				errCount++
				if errCount > maxErrors {
					loopLog.Warn("cannot find subnet slot, shutting down", "subnet_id", l.SubnetID)
					return false, nil
				}
				if !l.sleepCtx(ctx, blockDelay()) {
					return false, ctx.Err()
				}
				continue
			}
			errCount = 0
			l.slot = slot
			l.slotKnown = true
			loopLog.Info("subnet running in slot", "slot", slot)
		}

		epochData, err := l.Chain.GetEpochData()
		if err != nil {
			return false, fmt.Errorf("loop: get epoch data: %w", err)
		}

		if !haveLastEpoch || epochData.Epoch != lastEpoch {
			info, err := l.Chain.GetFormattedSubnetInfo(l.SubnetID)
			if err != nil {
				loopLog.Warn("get formatted subnet info failed", "err", err)
			}
			switch {
			case info == nil:
				errCount++
				if errCount > maxErrors {
					loopLog.Warn("cannot find subnet, shutting down", "subnet_id", l.SubnetID)
					return false, nil
				}
				loopLog.Warn("cannot find subnet, retrying", "subnet_id", l.SubnetID, "remaining", maxErrors-errCount)
			case info.State == chain.SubnetActive:
				loopLog.Info("subnet is active, starting consensus", "subnet_id", l.SubnetID)
				return true, nil
			default:
				errCount = 0
			}
			lastEpoch = epochData.Epoch
			haveLastEpoch = true
		}

		loopLog.Info("waiting for subnet to be activated, sleeping until next epoch")
		if !l.sleepCtx(ctx, time.Duration(epochData.SecondsRemaining)*time.Second) {
			return false, ctx.Err()
		}
	}
	return false, ctx.Err()
}

// runIsNodeValidator blocks until this node is classified Idle-or-higher
// on chain. Grounded on Consensus.run_is_node_validator.
func (l *Loop) runIsNodeValidator(ctx context.Context) error {
	var lastEpoch int64
	haveLastEpoch := false

	for !l.ctxDone(ctx) {
		epochData, err := l.Chain.GetSubnetEpochData(l.slot)
		if err != nil {
			return fmt.Errorf("loop: get subnet epoch data: %w", err)
		}

		if !haveLastEpoch || epochData.Epoch != lastEpoch {
			nodes, err := l.Chain.GetMinClassSubnetNodesFormatted(l.SubnetID, epochData.Epoch, chain.Idle)
			if err != nil {
				return fmt.Errorf("loop: get min class nodes: %w", err)
			}
			found := false
			for _, n := range nodes {
				if n.SubnetNodeID == l.SubnetNodeID {
					found = true
					break
				}
			}
			if found {
				loopLog.Info("node is classified, starting consensus", "subnet_node_id", l.SubnetNodeID, "epoch", epochData.Epoch)
				return nil
			}
			loopLog.Info("node not yet classified, trying again next epoch", "subnet_node_id", l.SubnetNodeID, "epoch", epochData.Epoch)
			lastEpoch = epochData.Epoch
			haveLastEpoch = true
		}

		if !l.sleepCtx(ctx, time.Duration(epochData.SecondsRemaining)*time.Second) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// runForever dispatches all per-epoch work once per new epoch and
// sleeps until the next epoch boundary in between. Grounded on
// Consensus.run_forever.
func (l *Loop) runForever(ctx context.Context) error {
	loopLog.Info("starting consensus")
	var lastEpoch int64
	haveLastEpoch := false

	for !l.ctxDone(ctx) {
		epochData, err := l.Chain.GetSubnetEpochData(l.slot)
		if err != nil {
			loopLog.Warn("get subnet epoch data failed", "err", err)
			if !l.sleepCtx(ctx, blockDelay()) {
				return nil
			}
			continue
		}

		if !haveLastEpoch || epochData.Epoch != lastEpoch {
			currentEpoch := epochData.Epoch
			l.runEpoch(ctx, currentEpoch)
			lastEpoch = currentEpoch
			haveLastEpoch = true

			if fresh, err := l.Chain.GetSubnetEpochData(l.slot); err == nil {
				epochData = fresh
			}
		}

		if !l.sleepCtx(ctx, time.Duration(epochData.SecondsRemaining)*time.Second) {
			return nil
		}
	}
	return nil
}

// runEpoch runs the fixed phase sequence for one epoch: attest/validate
// the previous epoch's proposal, commit this epoch's tasks, reveal
// them, reveal the N-2 score commit, verify and score peers, and
// (if any scores resulted) commit them for the score reveal two epochs
// later.
func (l *Loop) runEpoch(ctx context.Context, currentEpoch int64) {
	if err := l.runConsensus(ctx, currentEpoch); err != nil {
		loopLog.Warn("run_consensus failed", "epoch", currentEpoch, "err", err)
	}
	if err := l.runTaskCommit(currentEpoch); err != nil {
		loopLog.Warn("task commit phase failed", "epoch", currentEpoch, "err", err)
	}
	if err := l.runTaskReveal(ctx, currentEpoch); err != nil {
		loopLog.Warn("task reveal phase failed", "epoch", currentEpoch, "err", err)
	}
	if err := l.runRevealScores(ctx, currentEpoch); err != nil {
		loopLog.Warn("reveal scores phase failed", "epoch", currentEpoch, "err", err)
	}

	_, formatted, err := l.runVerifyAndScorePeers(ctx, currentEpoch)
	if err != nil {
		loopLog.Warn("verify and score peers failed", "epoch", currentEpoch, "err", err)
		return
	}
	if len(formatted) == 0 {
		return
	}
	l.epochScores[currentEpoch] = formatted
	if err := l.runCommitScores(currentEpoch); err != nil {
		loopLog.Warn("commit scores phase failed", "epoch", currentEpoch, "err", err)
	}
}

// getScores evicts the now-unneeded targetEpoch-1 scores and returns
// targetEpoch's, matching get_scores's "del epoch_scores[target-1]"
// cleanup-on-read.
func (l *Loop) getScores(targetEpoch int64) ([]chain.SubnetNodeConsensusData, bool) {
	delete(l.epochScores, targetEpoch-1)
	scores, ok := l.epochScores[targetEpoch]
	return scores, ok
}

func (l *Loop) runTaskCommit(currentEpoch int64) error {
	epochData, err := l.Chain.GetSubnetEpochData(l.slot)
	if err != nil {
		return fmt.Errorf("loop: get subnet epoch data: %w", err)
	}
	if epochData.Epoch != currentEpoch || epochData.PercentComplete > dht.VerifierCommitDeadline {
		return nil
	}
	return l.Engine.CallAndCommitAllTasks(currentEpoch)
}

func (l *Loop) runTaskReveal(ctx context.Context, currentEpoch int64) error {
	for !l.ctxDone(ctx) {
		epochData, err := l.Chain.GetSubnetEpochData(l.slot)
		if err != nil {
			return fmt.Errorf("loop: get subnet epoch data: %w", err)
		}
		if epochData.Epoch != currentEpoch || epochData.PercentComplete > dht.VerifierRevealDeadline {
			return nil
		}
		if epochData.PercentComplete <= dht.VerifierCommitDeadline {
			if !l.sleepCtx(ctx, blockDelay()) {
				return ctx.Err()
			}
			continue
		}
		return l.Engine.RevealTasks(currentEpoch)
	}
	return ctx.Err()
}

func (l *Loop) runRevealScores(ctx context.Context, currentEpoch int64) error {
	for !l.ctxDone(ctx) {
		epochData, err := l.Chain.GetSubnetEpochData(l.slot)
		if err != nil {
			return fmt.Errorf("loop: get subnet epoch data: %w", err)
		}
		if epochData.Epoch != currentEpoch || epochData.PercentComplete > dht.ScoresRevealDeadline {
			return nil
		}
		if epochData.PercentComplete <= dht.VerifierCommitDeadline {
			if !l.sleepCtx(ctx, blockDelay()) {
				return ctx.Err()
			}
			continue
		}
		return l.Engine.RevealScores(currentEpoch)
	}
	return ctx.Err()
}

func (l *Loop) runVerifyAndScorePeers(ctx context.Context, currentEpoch int64) ([]consensus.ConsensusScores, []chain.SubnetNodeConsensusData, error) {
	for !l.ctxDone(ctx) {
		epochData, err := l.Chain.GetSubnetEpochData(l.slot)
		if err != nil {
			return nil, nil, fmt.Errorf("loop: get subnet epoch data: %w", err)
		}
		if epochData.Epoch != currentEpoch {
			return nil, nil, nil
		}
		if epochData.PercentComplete <= dht.VerifierRevealDeadline {
			if !l.sleepCtx(ctx, blockDelay()) {
				return nil, nil, ctx.Err()
			}
			continue
		}
		return l.Engine.VerifyAndScorePeers(currentEpoch)
	}
	return nil, nil, ctx.Err()
}

func (l *Loop) runCommitScores(currentEpoch int64) error {
	scores, ok := l.epochScores[currentEpoch]
	if !ok || len(scores) == 0 {
		return nil
	}
	epochData, err := l.Chain.GetSubnetEpochData(l.slot)
	if err != nil {
		return fmt.Errorf("loop: get subnet epoch data: %w", err)
	}
	if epochData.Epoch != currentEpoch {
		return nil
	}
	return l.Engine.CommitScores(currentEpoch, scores)
}

// runConsensus implements the elected-validator/attestor branch for
// currentEpoch, scoring against the scores generated for
// currentEpoch-1. Grounded on Consensus.run_consensus.
func (l *Loop) runConsensus(ctx context.Context, currentEpoch int64) error {
	loopLog.Info("consensus", "epoch", currentEpoch)

	scores, ok := l.getScores(currentEpoch - 1)
	if !ok {
		return nil
	}

	var validatorID uint64
	haveValidator := false
	for !l.ctxDone(ctx) {
		id, known, err := l.Chain.GetRewardsValidator(l.SubnetID, currentEpoch)
		if err != nil {
			return fmt.Errorf("loop: get rewards validator: %w", err)
		}
		epochData, err := l.Chain.GetSubnetEpochData(l.slot)
		if err != nil {
			return fmt.Errorf("loop: get subnet epoch data: %w", err)
		}
		if epochData.Epoch != currentEpoch {
			return nil
		}
		if known {
			validatorID = id
			haveValidator = true
			break
		}
		if !l.sleepCtx(ctx, blockDelay()) {
			return ctx.Err()
		}
	}
	if !haveValidator {
		return nil
	}

	if validatorID == l.SubnetNodeID {
		return l.actAsElectedValidator(currentEpoch, scores)
	}
	return l.actAsAttestor(ctx, currentEpoch, scores)
}

func (l *Loop) actAsElectedValidator(currentEpoch int64, scores []chain.SubnetNodeConsensusData) error {
	loopLog.Info("acting as elected validator, proposing attestation", "epoch", currentEpoch)
	existing, err := l.Chain.GetConsensusDataFormatted(l.SubnetID, currentEpoch)
	if err != nil {
		return fmt.Errorf("loop: get consensus data: %w", err)
	}
	if existing != nil {
		loopLog.Info("already submitted data, moving to next epoch", "epoch", currentEpoch)
		return nil
	}
	if _, err := l.Chain.ProposeAttestation(l.SubnetID, scores); err != nil {
		return fmt.Errorf("loop: propose attestation: %w", err)
	}
	return nil
}

func (l *Loop) actAsAttestor(ctx context.Context, currentEpoch int64, scores []chain.SubnetNodeConsensusData) error {
	loopLog.Info("acting as attestor", "epoch", currentEpoch)
	var consensusData *chain.ConsensusData

	for !l.ctxDone(ctx) {
		if consensusData == nil {
			cd, err := l.Chain.GetConsensusDataFormatted(l.SubnetID, currentEpoch)
			if err != nil {
				return fmt.Errorf("loop: get consensus data: %w", err)
			}
			consensusData = cd
		}

		epochData, err := l.Chain.GetSubnetEpochData(l.slot)
		if err != nil {
			return fmt.Errorf("loop: get subnet epoch data: %w", err)
		}
		if epochData.Epoch != currentEpoch || epochData.PercentComplete > attestationDeadline {
			return nil
		}
		if consensusData == nil {
			if !l.sleepCtx(ctx, blockDelay()) {
				return ctx.Err()
			}
			continue
		}

		if consensus.CompareConsensusData(scores, consensusData.Data) != 1.0 {
			loopLog.Info("data doesn't match validator's, moving forward with no attestation", "epoch", currentEpoch)
			return nil
		}
		if consensus.DidNodeAttest(l.SubnetNodeID, consensusData) {
			loopLog.Info("already attested, moving to next epoch", "epoch", currentEpoch)
			return nil
		}

		loopLog.Info("elected validator's data matches, attesting", "epoch", currentEpoch)
		receipt, err := l.Chain.Attest(l.SubnetID)
		if err != nil {
			return fmt.Errorf("loop: attest: %w", err)
		}
		if receipt.Success {
			return nil
		}
		if !l.sleepCtx(ctx, blockDelay()) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}
