package handler

import (
	"encoding/hex"
	"strings"

	"prefixd/internal/registry/attestation"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
)

// InitializeRequest is the body of POST /registry/initialize.
type InitializeRequest struct {
	Admin id.Principal `json:"admin"`
	Fee   uint64       `json:"fee"`
}

func (r *InitializeRequest) Validate() error {
	if r.Admin.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "admin is required")
	}
	return nil
}

type UpdateFeeRequest struct {
	Fee uint64 `json:"fee"`
}

func (r *UpdateFeeRequest) Validate() error { return nil }

type SetPauseRequest struct {
	Paused *bool `json:"paused"`
}

func (r *SetPauseRequest) Validate() error {
	if r.Paused == nil {
		return dErrors.New(dErrors.CodeValidation, "paused is required")
	}
	return nil
}

type VerifierRequest struct {
	Verifier id.Principal `json:"verifier"`
}

func (r *VerifierRequest) Validate() error {
	if r.Verifier.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "verifier is required")
	}
	return nil
}

type WithdrawRequest struct {
	Amount uint64       `json:"amount"`
	To     id.Principal `json:"to"`
}

func (r *WithdrawRequest) Validate() error { return nil }

type CreditRequest struct {
	Amount uint64 `json:"amount"`
}

func (r *CreditRequest) Validate() error { return nil }

// SubmitRequest is the body of POST /prefixes. The Ed25519 operations are verified
// cryptographically here, before the registry ever sees the batch.
type SubmitRequest struct {
	Prefix        string                  `json:"prefix"`
	MetadataURI   string                  `json:"metadata_uri"`
	MetadataHash  string                  `json:"metadata_hash"`
	AuthorityKeys []id.Principal          `json:"authority_keys"`
	Attestations  []attestation.Operation `json:"attestations"`

	hash []byte
}

func (r *SubmitRequest) Validate() error {
	r.hash = decodeHash(r.MetadataHash)
	return attestation.Precheck(r.Attestations)
}

type UpdateMetadataRequest struct {
	MetadataURI  string                  `json:"metadata_uri"`
	MetadataHash string                  `json:"metadata_hash"`
	Attestations []attestation.Operation `json:"attestations"`

	hash []byte
}

func (r *UpdateMetadataRequest) Validate() error {
	r.hash = decodeHash(r.MetadataHash)
	return attestation.Precheck(r.Attestations)
}

type UpdateAuthorityRequest struct {
	AuthorityKeys []id.Principal `json:"authority_keys"`
}

func (r *UpdateAuthorityRequest) Validate() error { return nil }

type ApproveRequest struct {
	RefHash id.Hash `json:"ref_hash"`
}

func (r *ApproveRequest) Validate() error { return nil }

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 1024 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 1024 bytes")
	}
	return nil
}

type RecoverRequest struct {
	NewOwner id.Principal `json:"new_owner"`
}

func (r *RecoverRequest) Validate() error {
	if r.NewOwner.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "new_owner is required")
	}
	return nil
}

// emptyRequest accepts an absent or empty JSON object body.
type emptyRequest struct{}

func (r *emptyRequest) Validate() error { return nil }

// decodeHash yields nil for malformed hex. The registry rejects the length in its own
// check order.
func decodeHash(s string) []byte {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return b
}
