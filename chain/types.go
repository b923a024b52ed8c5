// Package chain models the blockchain purely as the external-interface
// contract the spec allows: epoch data, validator election, subnet
// membership, and transaction submission. Wire formats (RPC transport,
// SCALE encoding) are explicitly out of scope; Client is the only
// surface this module's other packages ever depend on.
package chain

import (
	"github.com/holiman/uint256"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/epoch"
)

// SubnetState is the on-chain lifecycle state of a subnet registration.
type SubnetState int

const (
	SubnetRegistered SubnetState = iota
	SubnetActive
	SubnetPaused
)

// Classification is the on-chain node tier; only Validator-class nodes
// may attest.
type Classification int

const (
	Registered Classification = iota
	Idle
	Included
	Validator
)

// SubnetInfo is a formatted snapshot of a subnet's on-chain registration.
type SubnetInfo struct {
	SubnetID  uint32
	State     SubnetState
	SlotIndex int64
}

// SubnetNodeClassification captures a node's current on-chain tier.
type SubnetNodeClassification struct {
	Classification Classification
	StartEpoch     int64
}

// SubnetNode is a formatted on-chain node registration.
type SubnetNode struct {
	SubnetNodeID   uint64
	PeerID         cryptokeys.PeerID
	Hotkey         string
	Coldkey        string
	Classification SubnetNodeClassification
}

// SubnetNodeInfo is the read-only per-epoch snapshot other components
// consume (§3 of the spec).
type SubnetNodeInfo struct {
	SubnetNodeID   uint64
	PeerID         cryptokeys.PeerID
	Hotkey         string
	Coldkey        string
	Classification Classification
	StakeBalance   *uint256.Int
	Penalties      uint32
}

// SubnetNodeConsensusData is the on-chain score entry format:
// (subnet_node_id, score), score as a 256-bit fixed-point integer
// (value × 10^18).
type SubnetNodeConsensusData struct {
	SubnetNodeID uint64
	Score        *uint256.Int
}

// AttestEntry records whether a given subnet node has attested to a
// ConsensusData proposal.
type AttestEntry struct {
	Attested bool
}

// ConsensusData is the elected validator's per-epoch proposal.
type ConsensusData struct {
	ValidatorID uint64
	Attests     map[uint64]AttestEntry
	SubnetNodes []SubnetNode
	Data        []SubnetNodeConsensusData
	Args        map[string]string
}

// Receipt is an opaque on-chain transaction acknowledgment.
type Receipt struct {
	Success bool
	TxHash  string
}

// ProofOfStakeResult mirrors the `{"result": bool}` shape of the
// external proof_of_stake call.
type ProofOfStakeResult struct {
	Result bool
}

// Client is the blockchain client contract (§6). The core of this
// module consumes only this interface; a real RPC-backed
// implementation and a Mock both satisfy it structurally.
type Client interface {
	GetEpochData() (epoch.Data, error)
	GetSubnetEpochData(slot int64) (epoch.Data, error)
	GetSubnetSlot(subnetID uint32) (int64, bool, error)
	GetFormattedSubnetInfo(subnetID uint32) (*SubnetInfo, error)
	GetMinClassSubnetNodesFormatted(subnetID uint32, epochNum int64, minClass Classification) ([]SubnetNodeInfo, error)
	GetRewardsValidator(subnetID uint32, epochNum int64) (uint64, bool, error)
	GetConsensusDataFormatted(subnetID uint32, epochNum int64) (*ConsensusData, error)
	ProposeAttestation(subnetID uint32, data []SubnetNodeConsensusData) (Receipt, error)
	Attest(subnetID uint32) (Receipt, error)
	ProofOfStake(subnetID uint32, peerID cryptokeys.PeerID, minClass Classification) (ProofOfStakeResult, error)
}
