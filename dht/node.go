package dht

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// StoredValue is one owner's contribution to a key, as returned by Get.
type StoredValue struct {
	Value          []byte
	ExpirationTime int64
}

// Node is an in-memory stand-in for the black-box DHT transport
// (Kademlia routing, libp2p wire) this module treats as an external
// collaborator per its scope. It implements just the Store/Get contract
// of the external interface, running every write through the supplied
// validator chain.
type Node struct {
	mu         sync.RWMutex
	data       map[string]map[string]StoredValue // key -> subkey -> value
	validators *Chain
	getCache   *lru.Cache // memoizes Get's validated result per key, go-ethereum-style bounded cache
}

// NewNode builds an empty in-memory DHT node validating writes through
// chain.
func NewNode(chain *Chain) *Node {
	cache, _ := lru.New(1024)
	return &Node{
		data:       make(map[string]map[string]StoredValue),
		validators: chain,
		getCache:   cache,
	}
}

// Store writes value under key/subkey if it passes the validator chain.
// signingPublicKey is accepted for interface-contract parity with the
// external spec (the validators recover ownership from the record
// itself) and is not otherwise consulted here.
func (n *Node) Store(key, subkey string, value []byte, expirationTime int64, signingPublicKey string) bool {
	record := Record{Key: key, Subkey: subkey, Value: value, ExpirationTime: expirationTime}
	if !n.validators.Validate(record, Post) {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	bySubkey, ok := n.data[key]
	if !ok {
		bySubkey = make(map[string]StoredValue)
		n.data[key] = bySubkey
	}
	bySubkey[subkey] = StoredValue{Value: value, ExpirationTime: expirationTime}
	n.getCache.Remove(key)
	return true
}

// GetResult is the payload returned by Get: every owner's current value
// for key, keyed by subkey.
type GetResult struct {
	Value map[string]StoredValue
}

// Get reads all entries under key, running each through the validator
// chain as a GET before returning it (mirroring the spec's "same rule
// applies to returned records" for the signature validator). Results
// are memoized in getCache, a nil entry standing for "validated empty",
// until the next Store under the same key evicts it.
func (n *Node) Get(key string, latest bool) (*GetResult, bool) {
	_ = latest // single-writer-per-subkey model here always returns the latest

	if cached, ok := n.getCache.Get(key); ok {
		result, _ := cached.(*GetResult)
		return result, result != nil
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	bySubkey, ok := n.data[key]
	if !ok {
		n.getCache.Add(key, (*GetResult)(nil))
		return nil, false
	}

	out := make(map[string]StoredValue, len(bySubkey))
	for subkey, sv := range bySubkey {
		record := Record{Key: key, Subkey: subkey, Value: sv.Value, ExpirationTime: sv.ExpirationTime}
		if n.validators.Validate(record, Get) {
			out[subkey] = sv
		}
	}
	if len(out) == 0 {
		n.getCache.Add(key, (*GetResult)(nil))
		return nil, false
	}
	result := &GetResult{Value: out}
	n.getCache.Add(key, result)
	return result, true
}
