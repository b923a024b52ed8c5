// Package epoch derives epoch-aligned scheduling data from a block
// height. It holds no wall-clock state: the block supplier is
// authoritative, and every scheduler in this module compares against
// the subnet-local epoch this package computes.
package epoch

// Data is the network-wide or subnet-local epoch snapshot every
// scheduler consumes.
type Data struct {
	Block            int64
	Epoch            int64
	BlockPerEpoch    int64
	SecondsPerEpoch  int64
	PercentComplete  float64 // in [0, 1)
	BlocksElapsed    int64
	BlocksRemaining  int64
	SecondsElapsed   int64
	SecondsRemaining int64
}

// Network computes the network-wide epoch for the given block height.
// epoch = block / epochLength.
func Network(block, epochLength, blockSecs int64) Data {
	return compute(block, block, epochLength, blockSecs)
}

// Subnet computes the subnet-local epoch, offset by the subnet's slot.
// blocksSinceStart = block - slot; epoch = blocksSinceStart / epochLength.
func Subnet(block, slot, epochLength, blockSecs int64) Data {
	blocksSinceStart := block - slot
	if blocksSinceStart < 0 {
		blocksSinceStart = 0
	}
	return compute(block, blocksSinceStart, epochLength, blockSecs)
}

func compute(block, blocksSinceStart, epochLength, blockSecs int64) Data {
	if epochLength <= 0 {
		epochLength = 1
	}
	ep := blocksSinceStart / epochLength
	blocksElapsed := blocksSinceStart - ep*epochLength
	blocksRemaining := epochLength - blocksElapsed
	secondsPerEpoch := epochLength * blockSecs
	secondsElapsed := blocksElapsed * blockSecs
	secondsRemaining := blocksRemaining * blockSecs

	return Data{
		Block:            block,
		Epoch:            ep,
		BlockPerEpoch:    epochLength,
		SecondsPerEpoch:  secondsPerEpoch,
		PercentComplete:  float64(blocksElapsed) / float64(epochLength),
		BlocksElapsed:    blocksElapsed,
		BlocksRemaining:  blocksRemaining,
		SecondsElapsed:   secondsElapsed,
		SecondsRemaining: secondsRemaining,
	}
}
