package module

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/auth"
	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/heartbeat"
	"github.com/hayotensor/subnet-commit-reveal-example/rpcauth"
)

// fakeTransport has no reachable peers; these tests only exercise a
// single node, so every RPC fails, which is fine — nothing here calls
// out to another peer.
type fakeTransport struct{}

func (fakeTransport) CallInfo(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error) {
	return nil, nil, fmt.Errorf("fakeTransport: peer %s unreachable", peerID)
}

func (fakeTransport) CallMath(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error) {
	return nil, nil, fmt.Errorf("fakeTransport: peer %s unreachable", peerID)
}

func (fakeTransport) CallInferenceStream(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) (<-chan rpcauth.StreamChunk, error) {
	return nil, fmt.Errorf("fakeTransport: peer %s unreachable", peerID)
}

func newTestModule(t *testing.T) (*Module, *chain.Mock) {
	t.Helper()
	kp, err := cryptokeys.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	c := chain.NewMock()
	c.RegisterSubnet(1, chain.SubnetActive, 0)

	cfg := DefaultConfig()
	cfg.SubnetID = 1
	cfg.UpdatePeriodSeconds = 3600
	cfg.ExpirationSeconds = 120

	m, err := New(cfg, kp, c, fakeTransport{}, 1, "validator")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, c
}

func TestNewWiresAllComponents(t *testing.T) {
	m, _ := newTestModule(t)
	if m.DHT == nil || m.Engine == nil || m.Loop == nil || m.Announcer == nil || m.RPCClient == nil {
		t.Fatalf("expected all core components wired, got %+v", m)
	}
	if m.Self == "" {
		t.Fatalf("expected a derived peer id")
	}
	if m.State() != heartbeat.Joining {
		t.Fatalf("expected a freshly built module to start Joining, got %v", m.State())
	}
}

func TestDirectoryResolvesSelfAfterAnnounce(t *testing.T) {
	m, _ := newTestModule(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.Announcer.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pub, err := m.Directory.PublicKey(m.Self); err == nil {
			if !pub.Equal(m.Identity.Public) {
				t.Fatalf("directory resolved a different public key than this node's identity")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("directory never resolved self's public key from its own heartbeat declaration")
}

func TestRunShutsDownOnContextCancelAndDeclaresOffline(t *testing.T) {
	m, c := newTestModule(t)
	c.RegisterNode(1, chain.SubnetNodeInfo{
		SubnetNodeID:   1,
		PeerID:         m.Self,
		Classification: chain.Idle,
	})
	m.Loop.SkipActivateSubnet = true
	m.Loop.Sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}

	if m.State() != heartbeat.Offline {
		t.Fatalf("expected module to declare Offline on shutdown, got %v", m.State())
	}
}
