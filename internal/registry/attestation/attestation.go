// Package attestation binds a registry operation to an Ed25519 signature carried as a
// companion operation in the same request batch.
//
// Two layers are involved. Precheck runs in the transport before any state is read and
// verifies every signature operation cryptographically. Verify runs inside the unit of
// work and only confirms that some already-verified signature operation names this
// identity and this digest.
package attestation

import (
	"bytes"
	"crypto/ed25519"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
)

// Ed25519Program identifies the signature verification program in a batch.
const Ed25519Program = "Ed25519SigVerify111111111111111111111111111"

// Operation is one entry of a request batch. Data is opaque to everything but the
// program it targets.
type Operation struct {
	Program string `json:"program"`
	Data    []byte `json:"data"`
}

// Verify scans ops in order and accepts the first Ed25519 operation whose payload
// contains both identity and digest as contiguous byte runs.
func Verify(identity id.Principal, digest id.Hash, ops []Operation) error {
	for _, op := range ops {
		if op.Program != Ed25519Program {
			continue
		}
		if bytes.Contains(op.Data, identity[:]) && bytes.Contains(op.Data, digest[:]) {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeInvalidEd25519Signature, "no attestation for identity and digest")
}

// VerifySignature checks sig over digest directly, for callers without a batch.
func VerifySignature(identity id.Principal, digest id.Hash, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(identity.PublicKey(), digest[:], sig)
}
