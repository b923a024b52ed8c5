package module

import (
	"context"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/rpcauth"
)

// RPCPinger measures round-trip latency with rpc_info(), the cheapest
// authenticated call available, rather than a dedicated ping RPC —
// the transport itself is out of scope (spec §1), so this reuses the
// one authenticated call every peer already answers.
type RPCPinger struct {
	Client *rpcauth.Client
}

func NewRPCPinger(c *rpcauth.Client) *RPCPinger { return &RPCPinger{Client: c} }

func (p *RPCPinger) Ping(ctx context.Context, peerID cryptokeys.PeerID) (time.Duration, error) {
	start := time.Now()
	if _, err := p.Client.RPCInfo(peerID); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
