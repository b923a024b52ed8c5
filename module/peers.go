package module

import (
	"fmt"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/dht"
	"github.com/hayotensor/subnet-commit-reveal-example/heartbeat"
)

// DHTDirectory resolves peers from the heartbeat "node" key's declared
// subkeys, satisfying both consensus.PeerLister (ListPeers) and
// rpcauth.PeerDirectory (PublicKey): the consensus engine and the RPC
// client both learn "who's out there" and "what's their key" off the
// same heartbeat declarations rather than a separate directory
// service, matching get_node_infos_sig's role in the original mesh.
type DHTDirectory struct {
	DHT  *dht.Node
	Self cryptokeys.PeerID
}

// NewDHTDirectory builds a directory over d, excluding self from
// ListPeers.
func NewDHTDirectory(d *dht.Node, self cryptokeys.PeerID) *DHTDirectory {
	return &DHTDirectory{DHT: d, Self: self}
}

// ListPeers returns every currently-declared peer id other than Self.
func (d *DHTDirectory) ListPeers() ([]cryptokeys.PeerID, error) {
	res, ok := d.DHT.Get(heartbeat.NodeKey, true)
	if !ok {
		return nil, nil
	}
	peers := make([]cryptokeys.PeerID, 0, len(res.Value))
	for subkey := range res.Value {
		peer := dht.ExtractPeerIDFromSubkey(subkey)
		if peer == "" || peer == d.Self {
			continue
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// PublicKey resolves peerID's currently-declared public key from its
// heartbeat subkey tag.
func (d *DHTDirectory) PublicKey(peerID cryptokeys.PeerID) (cryptokeys.PublicKey, error) {
	res, ok := d.DHT.Get(heartbeat.NodeKey, true)
	if !ok {
		return cryptokeys.PublicKey{}, fmt.Errorf("module: no node declarations known")
	}
	for subkey := range res.Value {
		if dht.ExtractPeerIDFromSubkey(subkey) != peerID {
			continue
		}
		if pub, ok := dht.ExtractOwnerPublicKey(subkey); ok {
			return pub, nil
		}
	}
	return cryptokeys.PublicKey{}, fmt.Errorf("module: unknown peer %s", peerID)
}
