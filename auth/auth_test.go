package auth

import (
	"testing"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

func mustKeyPair(t *testing.T) *cryptokeys.KeyPair {
	t.Helper()
	kp, err := cryptokeys.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return kp
}

func TestSignatureAuthorizerValidRequest(t *testing.T) {
	client := mustKeyPair(t)
	service := mustKeyPair(t)
	authorizer := NewSignatureAuthorizer(service)

	clientAuth := NewSignatureAuthorizer(client)
	payload := []byte("rpc_math(3+4)")
	info, err := clientAuth.SignRequest(payload, service.Public)
	if err != nil {
		t.Fatalf("sign request: %v", err)
	}
	if err := authorizer.ValidateRequest(payload, info); err != nil {
		t.Fatalf("expected valid request to validate, got %v", err)
	}
}

func TestSignatureAuthorizerRejectsWrongServicePublicKey(t *testing.T) {
	client := mustKeyPair(t)
	service := mustKeyPair(t)
	otherService := mustKeyPair(t)
	authorizer := NewSignatureAuthorizer(service)

	clientAuth := NewSignatureAuthorizer(client)
	payload := []byte("rpc_math(3+4)")
	// Signed for otherService, not the peer actually validating it.
	info, err := clientAuth.SignRequest(payload, otherService.Public)
	if err != nil {
		t.Fatalf("sign request: %v", err)
	}
	if err := authorizer.ValidateRequest(payload, info); err == nil {
		t.Fatalf("expected a request signed for a different service public key to be rejected")
	}
}

func TestSignatureAuthorizerNonceReplay(t *testing.T) {
	client := mustKeyPair(t)
	service := mustKeyPair(t)
	authorizer := NewSignatureAuthorizer(service)
	clientAuth := NewSignatureAuthorizer(client)

	payload := []byte("ping")
	info, _ := clientAuth.SignRequest(payload, service.Public)
	if err := authorizer.ValidateRequest(payload, info); err != nil {
		t.Fatalf("first validation should succeed: %v", err)
	}
	if err := authorizer.ValidateRequest(payload, info); err == nil {
		t.Fatalf("expected replayed nonce to be rejected")
	}
}

func TestSignatureAuthorizerClockSkew(t *testing.T) {
	client := mustKeyPair(t)
	service := mustKeyPair(t)
	authorizer := NewSignatureAuthorizer(service)
	authorizer.ClockSkew = 1 * time.Millisecond

	clientAuth := NewSignatureAuthorizer(client)
	payload := []byte("ping")
	info, _ := clientAuth.SignRequest(payload, service.Public)
	time.Sleep(5 * time.Millisecond)
	if err := authorizer.ValidateRequest(payload, info); err == nil {
		t.Fatalf("expected stale timestamp to be rejected under tight skew bound")
	}
}

func TestProofOfStakeAuthorizerCachesFailure(t *testing.T) {
	client := mustKeyPair(t)
	service := mustKeyPair(t)
	mock := chain.NewMock()
	// peer stays unstaked

	sigAuth := NewSignatureAuthorizer(service)
	pos := NewProofOfStakeAuthorizer(sigAuth, mock, 1, chain.Idle)

	clientAuth := NewSignatureAuthorizer(client)
	payload := []byte("rpc_info")
	info, _ := clientAuth.SignRequest(payload, service.Public)
	if err := pos.ValidateRequest(payload, info); err == nil {
		t.Fatalf("expected unstaked peer to fail proof-of-stake")
	}

	// second call with a fresh nonce must hit the failure cache, not
	// the chain, and still fail.
	info2, _ := clientAuth.SignRequest(payload, service.Public)
	if err := pos.ValidateRequest(payload, info2); err == nil {
		t.Fatalf("expected cached failure to still reject")
	}
}

func TestProofOfStakeAuthorizerSucceedsWhenStaked(t *testing.T) {
	client := mustKeyPair(t)
	service := mustKeyPair(t)
	mock := chain.NewMock()
	peer := cryptokeys.DerivePeerID(client.Public)
	mock.SetStaked(1, peer, true)

	sigAuth := NewSignatureAuthorizer(service)
	pos := NewProofOfStakeAuthorizer(sigAuth, mock, 1, chain.Idle)

	clientAuth := NewSignatureAuthorizer(client)
	payload := []byte("rpc_info")
	info, _ := clientAuth.SignRequest(payload, service.Public)
	if err := pos.ValidateRequest(payload, info); err != nil {
		t.Fatalf("expected staked peer to pass, got %v", err)
	}
}
