package cryptokeys

import "testing"

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello subnet")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(kp.Public, msg, sig) {
		t.Fatalf("expected valid signature to verify")
	}
	if Verify(kp.Public, []byte("tampered"), sig) {
		t.Fatalf("expected tampered message to fail verification")
	}
}

func TestMarshalParseRoundTrip(t *testing.T) {
	kp, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	marshaled := kp.Public.Marshal()
	parsed, err := ParsePublicKey(marshaled)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(kp.Public) {
		t.Fatalf("round-tripped public key does not match original")
	}
}

func TestDifferentKeyFailsVerification(t *testing.T) {
	kp1, _ := GenerateEd25519()
	kp2, _ := GenerateEd25519()
	msg := []byte("data")
	sig, _ := kp1.Sign(msg)
	if Verify(kp2.Public, msg, sig) {
		t.Fatalf("expected signature from a different key to fail")
	}
}

func TestDerivePeerIDDeterministic(t *testing.T) {
	kp, _ := GenerateEd25519()
	id1 := DerivePeerID(kp.Public)
	id2 := DerivePeerID(kp.Public)
	if id1 != id2 {
		t.Fatalf("expected deterministic peer id derivation")
	}
	if id1 == "" {
		t.Fatalf("expected non-empty peer id")
	}
}
