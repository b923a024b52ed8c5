// Package auth implements the Signature Authorizer and Proof-of-Stake
// Authorizer: nonce-based replay defense, clock-skew bounded request
// validation, and cached on-chain stake checks, grounded on
// mesh/utils/authorizers/{auth,pos_auth,limiter}.py.
package auth

import (
	"fmt"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

// AccessToken is a short-lived credential over a peer's public key,
// signed by the issuing identity.
type AccessToken struct {
	Username       string
	PublicKey      cryptokeys.PublicKey
	ExpirationTime time.Time
	Signature      []byte
}

func tokenSigningBytes(username string, pub cryptokeys.PublicKey, exp time.Time) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", username, pub.Marshal(), exp.UTC().Format(time.RFC3339)))
}

// IssueAccessToken signs a fresh AccessToken over kp's public key with
// the given validity window (60s in the default Signature Authorizer
// flow).
func IssueAccessToken(kp *cryptokeys.KeyPair, username string, ttl time.Duration) (*AccessToken, error) {
	exp := time.Now().Add(ttl)
	sig, err := kp.Sign(tokenSigningBytes(username, kp.Public, exp))
	if err != nil {
		return nil, err
	}
	return &AccessToken{Username: username, PublicKey: kp.Public, ExpirationTime: exp, Signature: sig}, nil
}

// Verify checks the token's signature and that it hasn't expired as of
// now (skew is added to tolerate clock drift between issuer and verifier).
func (t *AccessToken) Verify(now time.Time, skew time.Duration) bool {
	if now.After(t.ExpirationTime.Add(skew)) {
		return false
	}
	return cryptokeys.Verify(t.PublicKey, tokenSigningBytes(t.Username, t.PublicKey, t.ExpirationTime), t.Signature)
}

// Nonce is 8 random bytes unique per (peer, replay window).
type Nonce [8]byte

// RequestAuthInfo is attached to every outgoing RPC request.
type RequestAuthInfo struct {
	ClientAccessToken *AccessToken
	ServicePublicKey  cryptokeys.PublicKey
	Time              time.Time
	Nonce             Nonce
	Signature         []byte
}

// ResponseAuthInfo is attached to every RPC response; Nonce must echo
// the request's nonce so the client can verify the binding.
type ResponseAuthInfo struct {
	ServiceAccessToken *AccessToken
	Time               time.Time
	Nonce              Nonce
	Signature          []byte
}
