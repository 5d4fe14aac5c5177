// Package domain holds the identifier types shared across the registry.
//
// Principals and hashes are fixed 32-byte values. Their textual form is lowercase hex
// so they survive JSON, SQL and log lines without ambiguity. Parsing happens at trust
// boundaries (handlers, config, CLI); everything past that works with typed values.
package domain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	dErrors "prefixd/pkg/domain-errors"
)

// Size is the width of every identity and digest in the registry.
const Size = 32

// Principal is an Ed25519 public key identifying an owner, verifier, or admin.
type Principal [Size]byte

// Hash is a 32-byte digest (metadata hash, approval reference hash).
type Hash [Size]byte

// ZeroPrincipal is never a valid actor.
var ZeroPrincipal Principal

// ZeroHash marks an unset reference hash.
var ZeroHash Hash

// ParsePrincipal decodes a hex-encoded 32-byte public key.
func ParsePrincipal(s string) (Principal, error) {
	var p Principal
	if err := decodeFixed(s, p[:]); err != nil {
		return Principal{}, dErrors.New(dErrors.CodeInvalidInput, "invalid principal: "+err.Error())
	}
	if p.IsZero() {
		return Principal{}, dErrors.New(dErrors.CodeInvalidInput, "principal cannot be zero")
	}
	return p, nil
}

// PrincipalFromPublicKey converts an Ed25519 public key.
func PrincipalFromPublicKey(pub ed25519.PublicKey) (Principal, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Principal{}, dErrors.New(dErrors.CodeInvalidInput, "invalid public key size")
	}
	var p Principal
	copy(p[:], pub)
	return p, nil
}

func (p Principal) String() string {
	return hex.EncodeToString(p[:])
}

func (p Principal) IsZero() bool {
	return p == ZeroPrincipal
}

// PublicKey returns the principal as an Ed25519 verification key.
func (p Principal) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(bytes.Clone(p[:]))
}

func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Principal) UnmarshalText(b []byte) error {
	parsed, err := ParsePrincipal(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseHash decodes a hex-encoded 32-byte digest. Length mismatches are reported with
// the dedicated metadata-hash code because that is the only caller-supplied digest
// whose length the registry validates.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := decodeFixed(s, h[:]); err != nil {
		return Hash{}, dErrors.New(dErrors.CodeInvalidMetadataHashLength, "invalid hash: "+err.Error())
	}
	return h, nil
}

// HashFromBytes copies b into a Hash, requiring exactly 32 bytes.
func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != Size {
		return Hash{}, dErrors.New(dErrors.CodeInvalidMetadataHashLength, "hash must be 32 bytes")
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func decodeFixed(s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != hex.EncodedLen(len(dst)) {
		return errLength
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return errEncoding
	}
	return nil
}

type parseError string

func (e parseError) Error() string { return string(e) }

const (
	errLength   parseError = "expected 64 hex characters"
	errEncoding parseError = "not valid hex"
)
