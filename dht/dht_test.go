package dht

import (
	"testing"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

func ownerSubkey(t *testing.T, kp *cryptokeys.KeyPair) string {
	t.Helper()
	return "[owner:" + kp.Public.Marshal() + "]"
}

func TestSignatureValidatorRoundTrip(t *testing.T) {
	kp, err := cryptokeys.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sv := NewSignatureValidator(kp)
	subkey := ownerSubkey(t, kp)

	signedValue, err := sv.Sign("node", subkey, []byte("ONLINE"), 1000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec := Record{Key: "node", Subkey: subkey, Value: signedValue, ExpirationTime: 1000}
	if !sv.Validate(rec, Post) {
		t.Fatalf("expected valid signed record to validate")
	}

	tampered := rec
	tampered.Value = append([]byte{}, signedValue...)
	tampered.Value[0] ^= 0xFF
	if sv.Validate(tampered, Post) {
		t.Fatalf("expected tampered value to fail validation")
	}

	tamperedExp := rec
	tamperedExp.ExpirationTime = 9999
	if sv.Validate(tamperedExp, Post) {
		t.Fatalf("expected tampered expiration to fail validation")
	}
}

func TestSignatureValidatorTwoOwnersRejected(t *testing.T) {
	kp1, _ := cryptokeys.GenerateEd25519()
	kp2, _ := cryptokeys.GenerateEd25519()
	sv := NewSignatureValidator(kp1)

	rec := Record{
		Key:            "[owner:" + kp1.Public.Marshal() + "]",
		Subkey:         "[owner:" + kp2.Public.Marshal() + "]",
		Value:          []byte("x[signature:AAAA]"),
		ExpirationTime: 10,
	}
	if sv.Validate(rec, Post) {
		t.Fatalf("expected two distinct owner tags to be rejected")
	}
}

func TestSignatureValidatorUnprotectedPasses(t *testing.T) {
	kp, _ := cryptokeys.GenerateEd25519()
	sv := NewSignatureValidator(kp)
	rec := Record{Key: "public", Subkey: "whatever", Value: []byte("no tags here")}
	if !sv.Validate(rec, Post) {
		t.Fatalf("expected unprotected record to pass unconditionally")
	}
}

func TestSignatureValidatorDifferentSignerFails(t *testing.T) {
	kp1, _ := cryptokeys.GenerateEd25519()
	kp2, _ := cryptokeys.GenerateEd25519()
	sv1 := NewSignatureValidator(kp1)
	subkey := ownerSubkey(t, kp1)
	signedValue, _ := sv1.Sign("node", subkey, []byte("ONLINE"), 1000)

	// Replace signature with one produced by a different key.
	sv2 := NewSignatureValidator(kp2)
	signedValue2, _ := sv2.Sign("node", subkey, []byte("ONLINE"), 1000)

	rec := Record{Key: "node", Subkey: subkey, Value: signedValue2, ExpirationTime: 1000}
	if sv1.Validate(rec, Post) {
		t.Fatalf("expected signature from a different key than the owner tag to fail")
	}
	_ = signedValue
}
