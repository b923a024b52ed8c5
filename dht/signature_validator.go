package dht

import (
	"regexp"
	"strings"

	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

var (
	ownerTagRe     = regexp.MustCompile(`\[owner:([^\]]+)\]`)
	signatureTagRe = regexp.MustCompile(`\[signature:([^\]]+)\]$`)
)

// SignatureValidator enforces ownership of records whose key or subkey
// embed `[owner:<pub>]` tags: it requires a single consistent owner tag
// and exactly one trailing `[signature:<sig>]` on the value, verified
// against the embedded public key over the canonical (key, subkey,
// stripped value, expiration) tuple. It runs first in the chain
// (Priority 10) so deserializing validators never see tampered bytes.
type SignatureValidator struct {
	// LocalKeyPair, if set, lets this validator sign outgoing records
	// via Sign; it plays no role in Validate.
	LocalKeyPair *cryptokeys.KeyPair
}

func NewSignatureValidator(kp *cryptokeys.KeyPair) *SignatureValidator {
	return &SignatureValidator{LocalKeyPair: kp}
}

func (v *SignatureValidator) Priority() int { return 10 }

// MergeWith collapses duplicate SignatureValidator instances into one.
func (v *SignatureValidator) MergeWith(other RecordValidator) bool {
	o, ok := other.(*SignatureValidator)
	if !ok {
		return false
	}
	if v.LocalKeyPair == nil {
		v.LocalKeyPair = o.LocalKeyPair
	}
	return true
}

func extractOwnerTags(s string) []string {
	matches := ownerTagRe.FindAllStringSubmatch(s, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// ExtractPeerIDFromSubkey recovers the embedded public key's PeerID from
// a subkey carrying an `[owner:...]` tag, or "" if absent/unparsable.
// The predicate validator uses this to identify the calling peer, per
// the note in mock_commit_reveal.py that SignatureValidator (priority
// 10) must run first to guarantee the tag's presence and validity.
func ExtractPeerIDFromSubkey(subkey string) cryptokeys.PeerID {
	pub, ok := ExtractOwnerPublicKey(subkey)
	if !ok {
		return ""
	}
	return cryptokeys.DerivePeerID(pub)
}

// ExtractOwnerPublicKey recovers the embedded `[owner:...]` public key
// from a key or subkey string, used by callers (e.g. a peer directory
// resolving who to address an RPC to) that need the key itself rather
// than just the derived peer id.
func ExtractOwnerPublicKey(s string) (cryptokeys.PublicKey, bool) {
	tags := extractOwnerTags(s)
	if len(tags) == 0 {
		return cryptokeys.PublicKey{}, false
	}
	pub, err := cryptokeys.ParsePublicKey(tags[0])
	if err != nil {
		return cryptokeys.PublicKey{}, false
	}
	return pub, true
}

func (v *SignatureValidator) Validate(record Record, _ RequestType) bool {
	keyTags := extractOwnerTags(record.Key)
	subkeyTags := extractOwnerTags(record.Subkey)
	allTags := append(append([]string{}, keyTags...), subkeyTags...)

	if len(allTags) == 0 {
		return true // unprotected record
	}

	first := allTags[0]
	for _, tag := range allTags[1:] {
		if tag != first {
			return false // two distinct owners
		}
	}

	pub, err := cryptokeys.ParsePublicKey(first)
	if err != nil {
		return false
	}

	stripped, sig, ok := splitSignature(record.Value)
	if !ok {
		return false
	}
	if strings.Contains(string(stripped), "[signature:") {
		return false // more than one signature tag
	}

	signed := canonicalSigningBytes(record.Key, record.Subkey, stripped, record.ExpirationTime)
	return cryptokeys.Verify(pub, signed, sig)
}

// splitSignature separates a signed value's payload from its trailing
// `[signature:<sig>]` tag, decoding the tag. ok is false if no
// well-formed trailing signature tag is present.
func splitSignature(value []byte) (stripped, sig []byte, ok bool) {
	m := signatureTagRe.FindStringSubmatch(string(value))
	if m == nil {
		return nil, nil, false
	}
	sig, err := decodeSig(m[1])
	if err != nil {
		return nil, nil, false
	}
	stripped = []byte(strings.TrimSuffix(string(value), m[0]))
	return stripped, sig, true
}

// StripSignatureSuffix returns value with any trailing
// `[signature:<sig>]` tag removed, or value unchanged if it carries
// none. Consumers reading an already-validated record use this to
// recover the original payload bytes.
func StripSignatureSuffix(value []byte) []byte {
	stripped, _, ok := splitSignature(value)
	if !ok {
		return value
	}
	return stripped
}

// Sign produces a value with a trailing `[signature:<sig>]` tag,
// the counterpart to Validate, for constructing protected records.
func (v *SignatureValidator) Sign(key, subkey string, value []byte, expiration int64) ([]byte, error) {
	signed := canonicalSigningBytes(key, subkey, value, expiration)
	sig, err := v.LocalKeyPair.Sign(signed)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, value...), []byte("[signature:"+encodeSig(sig)+"]")...), nil
}
