package auth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

const (
	DefaultTokenTTL     = 60 * time.Second
	DefaultClockSkew    = 60 * time.Second
	DefaultReplayWindow = 3 * DefaultClockSkew
)

// AuthorizerBase is the common shape every authorizer in this package
// implements, mirroring mesh/utils/authorizers/auth.py's AuthorizerBase.
type AuthorizerBase interface {
	SignRequest(payload []byte, servicePub cryptokeys.PublicKey) (*RequestAuthInfo, error)
	ValidateRequest(payload []byte, info *RequestAuthInfo) error
	SignResponse(payload []byte, request *RequestAuthInfo) (*ResponseAuthInfo, error)
	ValidateResponse(payload []byte, response *ResponseAuthInfo, request *RequestAuthInfo) error
}

// SignatureAuthorizer signs and validates RPC requests/responses with a
// long-lived local identity, enforcing nonce uniqueness and
// clock-skew bounds. Grounded on
// mesh/utils/authorizers/auth.py's SignatureAuthorizer.
type SignatureAuthorizer struct {
	Local *cryptokeys.KeyPair

	TokenTTL     time.Duration
	ClockSkew    time.Duration
	ReplayWindow time.Duration

	nonces *TimedStorage
}

func NewSignatureAuthorizer(local *cryptokeys.KeyPair) *SignatureAuthorizer {
	return &SignatureAuthorizer{
		Local:        local,
		TokenTTL:     DefaultTokenTTL,
		ClockSkew:    DefaultClockSkew,
		ReplayWindow: DefaultReplayWindow,
		nonces:       NewTimedStorage(),
	}
}

func randomNonce() (Nonce, error) {
	var n Nonce
	_, err := rand.Read(n[:])
	return n, err
}

func requestSigningBytes(payload []byte, info RequestAuthInfo) []byte {
	// Signature field zeroed, per spec: sign over everything else.
	return []byte(fmt.Sprintf("%s|%s|%s|%x|%s",
		payload, info.ClientAccessToken.PublicKey.Marshal(), info.ServicePublicKey.Marshal(),
		info.Nonce, info.Time.UTC().Format(time.RFC3339Nano)))
}

func responseSigningBytes(payload []byte, info ResponseAuthInfo) []byte {
	return []byte(fmt.Sprintf("%s|%x|%s", payload, info.Nonce, info.Time.UTC().Format(time.RFC3339Nano)))
}

// SignRequest stamps payload with a freshly issued AccessToken, current
// time, a random nonce, and a signature over all of it.
func (a *SignatureAuthorizer) SignRequest(payload []byte, servicePub cryptokeys.PublicKey) (*RequestAuthInfo, error) {
	token, err := IssueAccessToken(a.Local, "", a.TokenTTL)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	info := RequestAuthInfo{
		ClientAccessToken: token,
		ServicePublicKey:  servicePub,
		Time:              time.Now(),
		Nonce:             nonce,
	}
	sig, err := a.Local.Sign(requestSigningBytes(payload, info))
	if err != nil {
		return nil, err
	}
	info.Signature = sig
	return &info, nil
}

// ValidateRequest rejects a request whose signature doesn't verify
// under the token's public key, whose timestamp drifts beyond
// ClockSkew, or whose nonce was seen within ReplayWindow.
func (a *SignatureAuthorizer) ValidateRequest(payload []byte, info *RequestAuthInfo) error {
	if !info.ServicePublicKey.IsZero() && !info.ServicePublicKey.Equal(a.Local.Public) {
		return fmt.Errorf("auth: request was generated for a different service public key")
	}
	if !info.ClientAccessToken.Verify(time.Now(), a.ClockSkew) {
		return fmt.Errorf("auth: access token invalid or expired")
	}
	if !cryptokeys.Verify(info.ClientAccessToken.PublicKey, requestSigningBytes(payload, *info), info.Signature) {
		return fmt.Errorf("auth: request signature invalid")
	}
	if delta := time.Since(info.Time); delta > a.ClockSkew || delta < -a.ClockSkew {
		return fmt.Errorf("auth: request time outside clock skew bound")
	}
	nonceKey := fmt.Sprintf("%s:%x", info.ClientAccessToken.PublicKey.Marshal(), info.Nonce)
	if !a.nonces.CheckAndInsert(nonceKey, a.ReplayWindow) {
		return fmt.Errorf("auth: nonce replay detected")
	}
	return nil
}

// SignResponse signs payload and echoes the request's nonce so the
// client can verify the binding.
func (a *SignatureAuthorizer) SignResponse(payload []byte, request *RequestAuthInfo) (*ResponseAuthInfo, error) {
	token, err := IssueAccessToken(a.Local, "", a.TokenTTL)
	if err != nil {
		return nil, err
	}
	info := ResponseAuthInfo{ServiceAccessToken: token, Time: time.Now(), Nonce: request.Nonce}
	sig, err := a.Local.Sign(responseSigningBytes(payload, info))
	if err != nil {
		return nil, err
	}
	info.Signature = sig
	return &info, nil
}

// ValidateResponse checks the response signature and that it echoes
// the nonce of the original request.
func (a *SignatureAuthorizer) ValidateResponse(payload []byte, response *ResponseAuthInfo, request *RequestAuthInfo) error {
	if response.Nonce != request.Nonce {
		return fmt.Errorf("auth: response nonce does not match request")
	}
	if !cryptokeys.Verify(response.ServiceAccessToken.PublicKey, responseSigningBytes(payload, *response), response.Signature) {
		return fmt.Errorf("auth: response signature invalid")
	}
	return nil
}

var _ AuthorizerBase = (*SignatureAuthorizer)(nil)
