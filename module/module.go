package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/auth"
	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/consensus"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/dht"
	"github.com/hayotensor/subnet-commit-reveal-example/epoch"
	"github.com/hayotensor/subnet-commit-reveal-example/heartbeat"
	clog "github.com/hayotensor/subnet-commit-reveal-example/log"
	"github.com/hayotensor/subnet-commit-reveal-example/loop"
	"github.com/hayotensor/subnet-commit-reveal-example/rpcauth"
)

var moduleLog = clog.NewPkgLogger("module")

// Shutdown grace periods (spec §5): the consensus loop gets 3s to
// unwind on its own before the module stops waiting on it, and the
// module as a whole gives its announcer (the last thing to stop,
// since it's what tells the rest of the subnet this node is gone)
// 5s before giving up and returning anyway.
const (
	ConsensusShutdownGrace = 3 * time.Second
	ModuleShutdownGrace    = 5 * time.Second
)

// KeyStore is the external collaborator for identity persistence (spec
// §6: "a local key file storing the identity private key"). Loading
// and saving key material to disk is explicitly out of this core's
// scope; callers supply an identity however they see fit (a real
// KeyStore implementation, or cryptokeys.GenerateEd25519 for a fresh
// ephemeral one) and pass it into New.
type KeyStore interface {
	Load() (*cryptokeys.KeyPair, error)
}

// Module is the Module Lifecycle (spec §4.9): it wires cryptokeys, dht,
// chain, auth, rpcauth, consensus, loop, and heartbeat into a single
// JOINING -> ONLINE -> OFFLINE node, and owns graceful shutdown
// ordering. Grounded on original_source/mesh/subnet/server/server.py's
// Server (its record_validators/authorizer construction in __init__,
// its protocol/announcer/consensus startup in run, its teardown order
// in shutdown).
type Module struct {
	Config   Config
	Identity *cryptokeys.KeyPair
	Chain    chain.Client
	Self     cryptokeys.PeerID

	DHT           *dht.Node
	SigValidator  *dht.SignatureValidator
	PredValidator *dht.PredicateValidator
	Bans          *dht.BanList

	SigAuthorizer *auth.SignatureAuthorizer
	PoSAuthorizer *auth.ProofOfStakeAuthorizer
	RateLimiter   *auth.RateLimiter

	Wrapper   *rpcauth.Wrapper
	RPCClient *rpcauth.Client
	Directory *DHTDirectory

	Engine    *consensus.TaskCommitReveal
	Loop      *loop.Loop
	Announcer *heartbeat.Announcer
}

// New builds a Module wired end-to-end around chainClient and
// transport. subnetNodeID is this node's on-chain registration id
// (unknown until registration completes; callers of a not-yet-
// registered node pass 0 and the node will simply never be elected
// validator nor match any attestation gate, per chain.Client's
// contract).
func New(cfg Config, identity *cryptokeys.KeyPair, chainClient chain.Client, transport rpcauth.Transport, subnetNodeID uint64, role string) (*Module, error) {
	if identity == nil {
		return nil, fmt.Errorf("module: identity is required")
	}
	if chainClient == nil {
		return nil, fmt.Errorf("module: chain client is required")
	}

	self := cryptokeys.DerivePeerID(identity.Public)

	m := &Module{
		Config:   cfg,
		Identity: identity,
		Chain:    chainClient,
		Self:     self,
	}

	m.Bans = dht.NewBanList()
	m.SigValidator = dht.NewSignatureValidator(identity)
	m.PredValidator = dht.NewPredicateValidator(m.currentSubnetEpochData, m.Bans, unixNow)
	recordChain := dht.NewChain(m.SigValidator, m.PredValidator)
	m.DHT = dht.NewNode(recordChain)

	m.SigAuthorizer = auth.NewSignatureAuthorizer(identity)
	m.PoSAuthorizer = auth.NewProofOfStakeAuthorizer(m.SigAuthorizer, chainClient, cfg.SubnetID, chain.Classification(cfg.PoSMinClass))
	m.RateLimiter = auth.NewRateLimiter(m.PoSAuthorizer, cfg.rateLimitConfig())

	m.Wrapper = rpcauth.NewWrapper(m.RateLimiter, cfg.MaxParallelRPC)
	m.Directory = NewDHTDirectory(m.DHT, self)
	m.RPCClient = rpcauth.NewClient(m.Wrapper, transport, m.Directory)

	m.Engine = consensus.NewTaskCommitReveal(m.DHT, m.SigValidator, chainClient, m.Directory, m.RPCClient, cfg.SubnetID, self, identity.Public, unixNow)
	m.Loop = loop.New(chainClient, m.Engine, cfg.SubnetID, subnetNodeID, self)

	m.Announcer = heartbeat.NewAnnouncer(m.DHT, m.SigValidator, NewRPCPinger(m.RPCClient), self, identity.Public, role, cfg.updatePeriod(), cfg.expiration(), cfg.MaxPinged)

	return m, nil
}

func unixNow() int64 { return time.Now().Unix() }

// currentSubnetEpochData resolves the subnet's current slot and
// returns its epoch snapshot, the EpochDataFunc the predicate
// validator gates commit-reveal phase windows on.
func (m *Module) currentSubnetEpochData() (epoch.Data, error) {
	slot, ok, err := m.Chain.GetSubnetSlot(m.Config.SubnetID)
	if err != nil {
		return epoch.Data{}, fmt.Errorf("module: get subnet slot: %w", err)
	}
	if !ok {
		return epoch.Data{}, fmt.Errorf("module: subnet %d has no slot yet", m.Config.SubnetID)
	}
	return m.Chain.GetSubnetEpochData(slot)
}

// State returns the node's currently-declared lifecycle state.
func (m *Module) State() heartbeat.ServerState { return m.Announcer.State() }

// Run starts the announcer and drives the consensus loop until ctx is
// cancelled, then shuts down gracefully. It returns the loop's error,
// if any (a cancelled ctx is not an error).
func (m *Module) Run(ctx context.Context) error {
	moduleLog.Info("module joining", "subnet_id", m.Config.SubnetID, "self", m.Self)

	// The announcer is not tied to ctx: it keeps running until shutdown
	// has it declare Offline.
	announcerDone := make(chan struct{})
	go func() {
		m.Announcer.Run(context.Background())
		close(announcerDone)
	}()

	m.Announcer.Announce(heartbeat.Online)
	moduleLog.Info("module online", "subnet_id", m.Config.SubnetID, "self", m.Self)

	loopDone := make(chan error, 1)
	go func() { loopDone <- m.Loop.Run(ctx) }()
	var err error
	select {
	case err = <-loopDone:
	case <-ctx.Done():
		select {
		case err = <-loopDone:
		case <-time.After(ConsensusShutdownGrace):
			moduleLog.Warn("consensus loop did not exit within grace period", "grace", ConsensusShutdownGrace)
		}
	}
	if err != nil && ctx.Err() == nil {
		moduleLog.Error("consensus loop exited with error", "err", err)
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	m.shutdown(announcerDone)
	return err
}

// shutdown announces Offline and waits (bounded by ModuleShutdownGrace)
// for the announcer to publish it and exit, matching Server.shutdown's
// "protocol, consensus, dht" teardown order: Run only calls shutdown
// once Loop.Run has returned or ConsensusShutdownGrace has run out, so
// all that's left is retracting this node's presence from the DHT.
func (m *Module) shutdown(announcerDone <-chan struct{}) {
	moduleLog.Info("module shutting down")
	go m.Announcer.Shutdown()

	select {
	case <-announcerDone:
	case <-time.After(ModuleShutdownGrace):
		moduleLog.Warn("announcer did not exit within grace period", "grace", ModuleShutdownGrace)
	}
	moduleLog.Info("module offline")
}
