package heartbeat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/dht"
)

type fakeDHT struct {
	data map[string]map[string]dht.StoredValue
}

func newFakeDHT() *fakeDHT { return &fakeDHT{data: make(map[string]map[string]dht.StoredValue)} }

func (f *fakeDHT) Store(key, subkey string, value []byte, expirationTime int64, signingPublicKey string) bool {
	if f.data[key] == nil {
		f.data[key] = make(map[string]dht.StoredValue)
	}
	f.data[key][subkey] = dht.StoredValue{Value: value, ExpirationTime: expirationTime}
	return true
}

func (f *fakeDHT) Get(key string, latest bool) (*dht.GetResult, bool) {
	bySubkey, ok := f.data[key]
	if !ok {
		return nil, false
	}
	return &dht.GetResult{Value: bySubkey}, true
}

type fakeSigner struct{ sv *dht.SignatureValidator }

func (s *fakeSigner) Sign(key, subkey string, value []byte, expirationTime int64) ([]byte, error) {
	return s.sv.Sign(key, subkey, value, expirationTime)
}

type fakePinger struct {
	rtt time.Duration
	err error
}

func (p *fakePinger) Ping(ctx context.Context, peerID cryptokeys.PeerID) (time.Duration, error) {
	return p.rtt, p.err
}

func newTestAnnouncer(t *testing.T, pinger Pinger) (*Announcer, *fakeDHT) {
	t.Helper()
	kp, err := cryptokeys.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	self := cryptokeys.DerivePeerID(kp.Public)
	d := newFakeDHT()
	sv := dht.NewSignatureValidator(kp)
	a := NewAnnouncer(d, &fakeSigner{sv: sv}, pinger, self, kp.Public, "validator", 20*time.Millisecond, time.Minute, 5)
	return a, d
}

func TestAnnouncerDeclaresAndShutsDownOffline(t *testing.T) {
	a, d := newTestAnnouncer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Announce(Online)
	a.Shutdown()
	<-done

	entries, ok := d.data[NodeKey]
	if !ok || len(entries) != 1 {
		t.Fatalf("expected exactly one node declaration, got %d", len(entries))
	}
	for _, sv := range entries {
		var info ServerInfo
		if err := json.Unmarshal(dht.StripSignatureSuffix(sv.Value), &info); err != nil {
			t.Fatalf("unmarshal declared server info: %v", err)
		}
		if info.State != Offline {
			t.Fatalf("expected final declaration to carry Offline state, got %v", info.State)
		}
	}
}

func TestSampleUpToBoundsSize(t *testing.T) {
	peers := make([]cryptokeys.PeerID, 20)
	for i := range peers {
		peers[i] = cryptokeys.PeerID("peer")
	}
	sampled := sampleUpTo(peers, 5)
	if len(sampled) != 5 {
		t.Fatalf("expected sample capped at 5, got %d", len(sampled))
	}
	small := sampleUpTo(peers[:3], 5)
	if len(small) != 3 {
		t.Fatalf("expected sample of entire small set (3), got %d", len(small))
	}
}

func TestAnnouncerPingsOtherDeclaredPeers(t *testing.T) {
	a, d := newTestAnnouncer(t, &fakePinger{rtt: 15 * time.Millisecond})

	otherKp, _ := cryptokeys.GenerateEd25519()
	other := cryptokeys.DerivePeerID(otherKp.Public)
	sv := dht.NewSignatureValidator(otherKp)
	subkey := dht.OwnerSubkey(other, otherKp.Public)
	signed, err := sv.Sign(NodeKey, subkey, []byte(`{"state":2}`), time.Now().Add(time.Minute).Unix())
	if err != nil {
		t.Fatalf("sign peer declaration: %v", err)
	}
	d.Store(NodeKey, subkey, signed, time.Now().Add(time.Minute).Unix(), otherKp.Public.Marshal())

	a.Announce(Online)
	a.pingNextServers(context.Background())

	if len(a.info.NextPings) != 1 {
		t.Fatalf("expected exactly one sampled peer's RTT recorded, got %d", len(a.info.NextPings))
	}
}
