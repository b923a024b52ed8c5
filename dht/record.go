// Package dht implements the record-layer contracts in front of the
// distributed hash table: a composable RecordValidator chain (signature
// ownership, predicate phase-gating), a process-local ban list, and a
// minimal in-memory Node standing in for the black-box DHT transport
// (Kademlia routing, libp2p wire) this module never implements itself.
package dht

import "fmt"

// RequestType distinguishes a read from a write for validator dispatch.
type RequestType int

const (
	Get RequestType = iota
	Post
)

// Record is a DHT key/subkey/value triple with an expiration bound.
// Keys and subkeys may embed `[owner:<pub>]` tags; values may carry a
// trailing `[signature:<sig>]` suffix for protected records.
type Record struct {
	Key            string
	Subkey         string
	Value          []byte
	ExpirationTime int64 // unix seconds
}

// RecordValidator is the tagged-variant validator contract: each
// concrete validator exposes Validate, Priority, and MergeWith so a
// composite chain can be sorted by descending priority with duplicate
// instances collapsed.
type RecordValidator interface {
	Validate(record Record, reqType RequestType) bool
	Priority() int
	MergeWith(other RecordValidator) bool
}

// Chain runs an ordered, priority-sorted list of validators, all of
// which must pass.
type Chain struct {
	validators []RecordValidator
}

// NewChain builds a Chain, sorting by descending priority and merging
// duplicate validator types via MergeWith.
func NewChain(validators ...RecordValidator) *Chain {
	c := &Chain{}
	for _, v := range validators {
		c.add(v)
	}
	return c
}

func (c *Chain) add(v RecordValidator) {
	for _, existing := range c.validators {
		if existing.MergeWith(v) {
			return
		}
	}
	c.validators = append(c.validators, v)
	// insertion sort by descending priority; chains are small (2-3 entries)
	for i := len(c.validators) - 1; i > 0; i-- {
		if c.validators[i].Priority() > c.validators[i-1].Priority() {
			c.validators[i], c.validators[i-1] = c.validators[i-1], c.validators[i]
		} else {
			break
		}
	}
}

// Validate runs every validator in priority order, short-circuiting on
// the first rejection.
func (c *Chain) Validate(record Record, reqType RequestType) bool {
	for _, v := range c.validators {
		if !v.Validate(record, reqType) {
			return false
		}
	}
	return true
}

func canonicalSigningBytes(key, subkey string, strippedValue []byte, expiration int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d", key, subkey, strippedValue, expiration))
}
