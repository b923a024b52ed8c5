package heartbeat

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/dht"
	clog "github.com/hayotensor/subnet-commit-reveal-example/log"
)

var heartbeatLog = clog.NewPkgLogger("heartbeat")

// NodeKey is the DHT key heartbeats are stored under: the hashed "node"
// key family id, the same one the predicate validator recognizes.
var NodeKey = dht.KeyID(dht.NodeKeySource())

// DHTClient is the subset of dht.Node the announcer needs: store its
// own declaration, and read everyone else's to sample ping targets.
type DHTClient interface {
	Store(key, subkey string, value []byte, expirationTime int64, signingPublicKey string) bool
	Get(key string, latest bool) (*dht.GetResult, bool)
}

// Signer produces a signed DHT value, mirroring dht.SignatureValidator.Sign.
type Signer interface {
	Sign(key, subkey string, value []byte, expirationTime int64) ([]byte, error)
}

// Pinger measures round-trip latency to a peer. A real implementation
// backs this with a transport-level ping RPC; out of scope here per
// spec §1 (transport is an external collaborator).
type Pinger interface {
	Ping(ctx context.Context, peerID cryptokeys.PeerID) (time.Duration, error)
}

// Announcer is the Heartbeat Announcer: it republishes ServerInfo under
// the "node" key every UpdatePeriod until told to go Offline, logging a
// warning whenever the declaration itself takes longer than the
// period (spec §5 backpressure note).
type Announcer struct {
	DHT    DHTClient
	Signer Signer
	Pinger Pinger
	Self   cryptokeys.PeerID
	SelfPub cryptokeys.PublicKey

	UpdatePeriod time.Duration
	Expiration   time.Duration
	MaxPinged    int

	mu   sync.Mutex
	info ServerInfo

	trigger chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// NewAnnouncer builds an Announcer starting in the Joining state.
func NewAnnouncer(d DHTClient, signer Signer, pinger Pinger, self cryptokeys.PeerID, selfPub cryptokeys.PublicKey, role string, updatePeriod, expiration time.Duration, maxPinged int) *Announcer {
	return &Announcer{
		DHT:          d,
		Signer:       signer,
		Pinger:       pinger,
		Self:         self,
		SelfPub:      selfPub,
		UpdatePeriod: updatePeriod,
		Expiration:   expiration,
		MaxPinged:    maxPinged,
		info:         ServerInfo{State: Joining, Role: role},
		trigger:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Announce updates the declared state and wakes the run loop to
// publish it immediately rather than waiting out the current period.
func (a *Announcer) Announce(state ServerState) {
	a.mu.Lock()
	a.info.State = state
	a.mu.Unlock()
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Run declares the node once per UpdatePeriod until the node
// announces Offline (at which point it declares once more, then
// returns) or ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	defer close(a.stopped)
	for {
		start := time.Now()

		state := a.currentState()
		if state != Offline {
			a.pingNextServers(ctx)
		} else {
			a.mu.Lock()
			a.info.NextPings = nil
			a.mu.Unlock()
		}

		heartbeatLog.Info("declaring node heartbeat", "state", state)
		a.storeOnce()

		if state == Offline {
			return
		}

		delay := a.UpdatePeriod - time.Since(start)
		if delay < 0 {
			heartbeatLog.Warn("declaring node to DHT took longer than update_period, consider increasing it", "update_period", a.UpdatePeriod)
			delay = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			// Shutdown sets Offline before closing stop; the next
			// iteration publishes it and returns.
		case <-a.trigger:
		case <-time.After(delay):
		}
	}
}

// Shutdown announces Offline and blocks until the run loop has
// published that final declaration and exited.
func (a *Announcer) Shutdown() {
	a.Announce(Offline)
	close(a.stop)
	<-a.stopped
}

func (a *Announcer) currentState() ServerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info.State
}

// State returns the currently-declared lifecycle state, for callers
// (e.g. the module lifecycle) that need to observe it without driving
// the announcer directly.
func (a *Announcer) State() ServerState {
	return a.currentState()
}

func (a *Announcer) storeOnce() {
	a.mu.Lock()
	payload, err := json.Marshal(a.info)
	a.mu.Unlock()
	if err != nil {
		heartbeatLog.Error("failed to marshal server info", "err", err)
		return
	}

	subkey := dht.OwnerSubkey(a.Self, a.SelfPub)
	expiration := time.Now().Add(a.Expiration).Unix()
	signed, err := a.Signer.Sign(NodeKey, subkey, payload, expiration)
	if err != nil {
		heartbeatLog.Error("failed to sign node declaration", "err", err)
		return
	}
	if !a.DHT.Store(NodeKey, subkey, signed, expiration, a.SelfPub.Marshal()) {
		heartbeatLog.Warn("node declaration store rejected")
	}
}

// pingNextServers samples up to MaxPinged currently-declared peers
// (excluding self) and records their RTT for the next declaration.
func (a *Announcer) pingNextServers(ctx context.Context) {
	if a.Pinger == nil {
		return
	}
	peers := a.listNodePeers()
	if len(peers) == 0 {
		return
	}
	sampled := sampleUpTo(peers, a.MaxPinged)

	rtts := make(map[string]float64, len(sampled))
	for _, p := range sampled {
		if p == a.Self {
			continue
		}
		rtt, err := a.Pinger.Ping(ctx, p)
		if err != nil {
			heartbeatLog.Warn("ping failed", "peer", p, "err", err)
			continue
		}
		rtts[string(p)] = rtt.Seconds()
	}

	a.mu.Lock()
	a.info.NextPings = rtts
	a.mu.Unlock()
}

func (a *Announcer) listNodePeers() []cryptokeys.PeerID {
	res, ok := a.DHT.Get(NodeKey, true)
	if !ok {
		return nil
	}
	peers := make([]cryptokeys.PeerID, 0, len(res.Value))
	for subkey := range res.Value {
		if p := dht.ExtractPeerIDFromSubkey(subkey); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

// sampleUpTo returns a random subset of peers no larger than n,
// matching server.py's sample_up_to used to bound ping fan-out.
func sampleUpTo(peers []cryptokeys.PeerID, n int) []cryptokeys.PeerID {
	if n <= 0 || len(peers) <= n {
		out := make([]cryptokeys.PeerID, len(peers))
		copy(out, peers)
		return out
	}
	perm := rand.Perm(len(peers))
	out := make([]cryptokeys.PeerID, n)
	for i := 0; i < n; i++ {
		out[i] = peers[perm[i]]
	}
	return out
}
