package chain

import (
	"fmt"
	"sync"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/epoch"
)

// Mock is a file-free, in-memory Client for single-process test
// harnesses, grounded on
// mesh/substrate/mock/chain_functions.py's MockHypertensor.
type Mock struct {
	mu sync.Mutex

	BlockSecs   int64
	EpochLength int64
	block       int64

	subnets map[uint32]*SubnetInfo
	nodes   map[uint32][]SubnetNodeInfo
	rewards map[uint32]map[int64]uint64 // subnetID -> epoch -> validator subnet_node_id
	data    map[uint32]map[int64]*ConsensusData
	stakers map[string]bool // "subnetID:peerID" -> staked & above min class
}

// NewMock builds a Mock at block 0 with the default block/epoch timing
// (substrate/config.py: BLOCK_SECS=6, EPOCH_LENGTH=300).
func NewMock() *Mock {
	return &Mock{
		BlockSecs:   6,
		EpochLength: 300,
		subnets:     make(map[uint32]*SubnetInfo),
		nodes:       make(map[uint32][]SubnetNodeInfo),
		rewards:     make(map[uint32]map[int64]uint64),
		data:        make(map[uint32]map[int64]*ConsensusData),
		stakers:     make(map[string]bool),
	}
}

// SetBlock advances the mock chain's notion of the current block.
func (m *Mock) SetBlock(block int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = block
}

// RegisterSubnet registers subnetID at the given slot and state.
func (m *Mock) RegisterSubnet(subnetID uint32, state SubnetState, slot int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subnets[subnetID] = &SubnetInfo{SubnetID: subnetID, State: state, SlotIndex: slot}
}

// RegisterNode adds a node snapshot visible from GetMinClassSubnetNodesFormatted.
func (m *Mock) RegisterNode(subnetID uint32, node SubnetNodeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[subnetID] = append(m.nodes[subnetID], node)
}

// SetRewardsValidator fixes the elected validator for (subnetID, epoch).
func (m *Mock) SetRewardsValidator(subnetID uint32, epochNum int64, subnetNodeID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rewards[subnetID] == nil {
		m.rewards[subnetID] = make(map[int64]uint64)
	}
	m.rewards[subnetID][epochNum] = subnetNodeID
}

// SetStaked marks peerID as staked above minClass for subnetID.
func (m *Mock) SetStaked(subnetID uint32, peerID cryptokeys.PeerID, staked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakers[stakeKey(subnetID, peerID)] = staked
}

func stakeKey(subnetID uint32, peerID cryptokeys.PeerID) string {
	return fmt.Sprintf("%d:%s", subnetID, peerID)
}

func (m *Mock) GetEpochData() (epoch.Data, error) {
	m.mu.Lock()
	block, blockSecs, epochLen := m.block, m.BlockSecs, m.EpochLength
	m.mu.Unlock()
	return epoch.Network(block, epochLen, blockSecs), nil
}

func (m *Mock) GetSubnetEpochData(slot int64) (epoch.Data, error) {
	m.mu.Lock()
	block, blockSecs, epochLen := m.block, m.BlockSecs, m.EpochLength
	m.mu.Unlock()
	return epoch.Subnet(block, slot, epochLen, blockSecs), nil
}

func (m *Mock) GetSubnetSlot(subnetID uint32) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.subnets[subnetID]
	if !ok {
		return 0, false, nil
	}
	return info.SlotIndex, true, nil
}

func (m *Mock) GetFormattedSubnetInfo(subnetID uint32) (*SubnetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.subnets[subnetID]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

func (m *Mock) GetMinClassSubnetNodesFormatted(subnetID uint32, epochNum int64, minClass Classification) ([]SubnetNodeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SubnetNodeInfo
	for _, n := range m.nodes[subnetID] {
		if n.Classification >= minClass {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Mock) GetRewardsValidator(subnetID uint32, epochNum int64) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEpoch, ok := m.rewards[subnetID]
	if !ok {
		return 0, false, nil
	}
	id, ok := byEpoch[epochNum]
	return id, ok, nil
}

func (m *Mock) GetConsensusDataFormatted(subnetID uint32, epochNum int64) (*ConsensusData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEpoch, ok := m.data[subnetID]
	if !ok {
		return nil, nil
	}
	return byEpoch[epochNum], nil
}

func (m *Mock) ProposeAttestation(subnetID uint32, data []SubnetNodeConsensusData) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ed := epoch.Network(m.block, m.EpochLength, m.BlockSecs)
	if m.data[subnetID] == nil {
		m.data[subnetID] = make(map[int64]*ConsensusData)
	}
	m.data[subnetID][ed.Epoch] = &ConsensusData{
		Data:    append([]SubnetNodeConsensusData{}, data...),
		Attests: make(map[uint64]AttestEntry),
	}
	return Receipt{Success: true, TxHash: "mock-propose"}, nil
}

func (m *Mock) Attest(subnetID uint32) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ed := epoch.Network(m.block, m.EpochLength, m.BlockSecs)
	cd := m.data[subnetID][ed.Epoch]
	if cd == nil {
		return Receipt{Success: false}, nil
	}
	return Receipt{Success: true, TxHash: "mock-attest"}, nil
}

func (m *Mock) ProofOfStake(subnetID uint32, peerID cryptokeys.PeerID, minClass Classification) (ProofOfStakeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ProofOfStakeResult{Result: m.stakers[stakeKey(subnetID, peerID)]}, nil
}

var _ Client = (*Mock)(nil)
