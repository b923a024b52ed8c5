// Package cryptokeys implements the identity key types this module
// signs DHT records and RPC envelopes with: Ed25519 and RSA, both
// serialized in SSH wire format (`ssh-ed25519 <b64>` / `ssh-rsa <b64>`),
// matching the public-key strings embedded in `[owner:...]` DHT tags.
package cryptokeys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ssh"
)

// Algorithm identifies which key type a KeyPair/PublicKey wraps.
type Algorithm int

const (
	Ed25519 Algorithm = iota
	RSA
)

func (a Algorithm) String() string {
	switch a {
	case Ed25519:
		return "ssh-ed25519"
	case RSA:
		return "ssh-rsa"
	default:
		return "unknown"
	}
}

// PublicKey is an identity public key in its SSH wire-format
// representation, the canonical form stored in `[owner:...]` tags.
type PublicKey struct {
	Algorithm Algorithm
	sshKey    ssh.PublicKey
}

// Marshal returns the `<algo> <base64>` authorized-keys-style string.
func (p PublicKey) Marshal() string {
	line := ssh.MarshalAuthorizedKey(p.sshKey)
	return string(line[:len(line)-1]) // strip trailing newline
}

// Bytes returns the raw SSH wire-format bytes, the input to PeerID
// derivation and to signature verification.
func (p PublicKey) Bytes() []byte {
	return p.sshKey.Marshal()
}

// Equal reports whether two public keys are the same key.
func (p PublicKey) Equal(other PublicKey) bool {
	return string(p.Bytes()) == string(other.Bytes())
}

// IsZero reports whether p is the unset zero value.
func (p PublicKey) IsZero() bool {
	return p.sshKey == nil
}

// ParsePublicKey parses a `<algo> <base64>` authorized-keys-style line,
// e.g. the text embedded verbatim in a `[owner:...]` tag.
func ParsePublicKey(s string) (PublicKey, error) {
	sk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s))
	if err != nil {
		return PublicKey{}, fmt.Errorf("cryptokeys: parse public key: %w", err)
	}
	algo := Ed25519
	if sk.Type() == ssh.KeyAlgoRSA {
		algo = RSA
	}
	return PublicKey{Algorithm: algo, sshKey: sk}, nil
}

// KeyPair is a local identity: a private signer plus its public key.
type KeyPair struct {
	Algorithm Algorithm
	Public    PublicKey

	ed25519Priv ed25519.PrivateKey
	rsaPriv     *rsa.PrivateKey
}

// GenerateEd25519 creates a fresh Ed25519 identity.
func GenerateEd25519() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Algorithm:   Ed25519,
		Public:      PublicKey{Algorithm: Ed25519, sshKey: sshPub},
		ed25519Priv: priv,
	}, nil
}

// GenerateRSA creates a fresh RSA identity of the given bit size.
func GenerateRSA(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	sshPub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Algorithm: RSA,
		Public:    PublicKey{Algorithm: RSA, sshKey: sshPub},
		rsaPriv:   priv,
	}, nil
}

// Sign signs data with the local private key. Ed25519 signs raw bytes;
// RSA signs the SHA-256 digest with PSS, matching the strength the
// original mesh's PUBLIC_KEY_FORMAT pairing implies for RSA identities.
func (k *KeyPair) Sign(data []byte) ([]byte, error) {
	switch k.Algorithm {
	case Ed25519:
		return ed25519.Sign(k.ed25519Priv, data), nil
	case RSA:
		digest := sha256.Sum256(data)
		return rsa.SignPSS(rand.Reader, k.rsaPriv, crypto.SHA256, digest[:], nil)
	default:
		return nil, fmt.Errorf("cryptokeys: unknown algorithm")
	}
}

// Verify checks sig over data under pub.
func Verify(pub PublicKey, data, sig []byte) bool {
	switch pub.Algorithm {
	case Ed25519:
		cpk, ok := pub.sshKey.(ssh.CryptoPublicKey)
		if !ok {
			return false
		}
		edPub, ok := cpk.CryptoPublicKey().(ed25519.PublicKey)
		if !ok {
			return false
		}
		return ed25519.Verify(edPub, data, sig)
	case RSA:
		cpk, ok := pub.sshKey.(ssh.CryptoPublicKey)
		if !ok {
			return false
		}
		rsaPub, ok := cpk.CryptoPublicKey().(*rsa.PublicKey)
		if !ok {
			return false
		}
		digest := sha256.Sum256(data)
		return rsa.VerifyPSS(rsaPub, crypto.SHA256, digest[:], sig, nil) == nil
	default:
		return false
	}
}

// PeerID is the base58-encoded, content-derived identifier for a peer's
// public key, the form stored as a DHT subkey (base58(peer_id)).
type PeerID string

// DerivePeerID hashes the public key's SSH wire bytes with SHA-256 and
// base58-encodes the digest, mirroring peer_id.py's derivation for
// non-identity-length keys (RSA here, and Ed25519 for consistency
// across both key types rather than special-casing the short Ed25519
// form into a raw-bytes "identity" multihash).
func DerivePeerID(pub PublicKey) PeerID {
	sum := sha256.Sum256(pub.Bytes())
	return PeerID(base58.Encode(sum[:]))
}

func (p PeerID) String() string { return string(p) }
