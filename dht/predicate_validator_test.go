package dht

import (
	"testing"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	"github.com/hayotensor/subnet-commit-reveal-example/epoch"
)

func fixedEpoch(e int64, percent float64) EpochDataFunc {
	return func() (epoch.Data, error) {
		return epoch.Data{Epoch: e, PercentComplete: percent}, nil
	}
}

func TestPredicateValidatorPhaseGating(t *testing.T) {
	kp, _ := cryptokeys.GenerateEd25519()
	peer := cryptokeys.DerivePeerID(kp.Public)
	subkey := OwnerSubkey(peer, kp.Public)

	cases := []struct {
		name    string
		key     string
		percent float64
		want    bool
	}{
		{"commit before deadline", KeyID(VerifierCommitKeySource(10)), 0.4, true},
		{"commit after deadline", KeyID(VerifierCommitKeySource(10)), 0.51, false},
		{"reveal in window", KeyID(VerifierRevealKeySource(10)), 0.55, true},
		{"reveal before window", KeyID(VerifierRevealKeySource(10)), 0.3, false},
		{"reveal after window", KeyID(VerifierRevealKeySource(10)), 0.9, false},
		{"scores commit too early", KeyID(ScoresCommitKeySource(10)), 0.5, false},
		{"scores commit after deadline", KeyID(ScoresCommitKeySource(10)), 0.7, true},
		{"unknown key rejected", KeyID("bogus"), 0.4, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pv := NewPredicateValidator(fixedEpoch(10, tc.percent), NewBanList(), func() int64 { return 0 })
			rec := Record{Key: tc.key, Subkey: subkey, Value: []byte("x"), ExpirationTime: 1}
			if got := pv.Validate(rec, Post); got != tc.want {
				t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestPredicateValidatorPerPeerQuota(t *testing.T) {
	kp, _ := cryptokeys.GenerateEd25519()
	peer := cryptokeys.DerivePeerID(kp.Public)
	subkey := OwnerSubkey(peer, kp.Public)
	pv := NewPredicateValidator(fixedEpoch(10, 0.4), NewBanList(), func() int64 { return 0 })
	key := KeyID(VerifierCommitKeySource(10))
	rec := Record{Key: key, Subkey: subkey, Value: []byte("x"), ExpirationTime: 1}

	if !pv.Validate(rec, Post) {
		t.Fatalf("expected first commit store to be allowed")
	}
	if pv.Validate(rec, Post) {
		t.Fatalf("expected second commit store in same epoch to exceed quota")
	}
}

func TestPredicateValidatorGetAlwaysAllowed(t *testing.T) {
	kp, _ := cryptokeys.GenerateEd25519()
	peer := cryptokeys.DerivePeerID(kp.Public)
	subkey := OwnerSubkey(peer, kp.Public)
	pv := NewPredicateValidator(fixedEpoch(10, 0.99), NewBanList(), func() int64 { return 0 })
	rec := Record{Key: KeyID("whatever"), Subkey: subkey, Value: []byte("x")}
	if !pv.Validate(rec, Get) {
		t.Fatalf("expected GET to always pass once a peer id is present")
	}
}

func TestPredicateValidatorBannedPeerRejected(t *testing.T) {
	kp, _ := cryptokeys.GenerateEd25519()
	peer := cryptokeys.DerivePeerID(kp.Public)
	subkey := OwnerSubkey(peer, kp.Public)
	bans := NewBanList()
	bans.Ban(peer, time.Hour)
	pv := NewPredicateValidator(fixedEpoch(10, 0.4), bans, func() int64 { return 0 })
	rec := Record{Key: KeyID(VerifierCommitKeySource(10)), Subkey: subkey, Value: []byte("x")}
	if pv.Validate(rec, Post) {
		t.Fatalf("expected banned peer's store to be rejected")
	}
}
