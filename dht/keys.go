package dht

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

// KeyID hashes a human-readable source string into the fixed-length
// key identifier the DHT actually stores and looks up, mirroring
// DHTID.generate(source=...).to_bytes() in the original mesh.
func KeyID(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Key-family helpers. Each produces the hashable source string for a
// given epoch; KeyID(NodeKeySource()) etc. is the actual stored key.
func NodeKeySource() string                  { return "node" }
func VerifierCommitKeySource(e int64) string { return fmt.Sprintf("verifier_commit_epoch_%d", e) }
func VerifierRevealKeySource(e int64) string { return fmt.Sprintf("verifier_reveal_epoch_%d", e) }
func ScoresCommitKeySource(e int64) string   { return fmt.Sprintf("scores_commit_epoch_%d", e) }
func ScoresRevealKeySource(e int64) string   { return fmt.Sprintf("scores_reveal_epoch_%d", e) }

// OwnerSubkey builds the `<peer-id>[owner:<pub>]` subkey form used by
// every protected record this module writes: the signature validator
// recovers the owning public key (and, from it, the caller's peer id)
// from the `[owner:...]` tag, while the base58 peer-id prefix keeps
// subkeys readable and matches declare_node_sig's subkey convention.
func OwnerSubkey(peerID cryptokeys.PeerID, pub cryptokeys.PublicKey) string {
	return fmt.Sprintf("%s[owner:%s]", peerID, pub.Marshal())
}
