// Package domainerrors carries the stable, named error codes surfaced to callers.
//
// Services return *Error values; transports translate the Code into a status and a
// response body. Infrastructure layers should return pkg/platform/sentinel errors
// instead and let the service decide which Code applies.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier.
type Code string

// Generic codes shared by every module.
const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeRateLimited        Code = "rate_limit_exceeded"
	CodeInternal           Code = "internal_error"
)

// Registry codes. The declaration order matches the numbering of the on-chain
// program these codes were first published by; see Number.
const (
	CodeUnauthorizedAdmin           Code = "unauthorized_admin"
	CodeUnauthorizedVerifier        Code = "unauthorized_verifier"
	CodeInvalidPrefixFormat         Code = "invalid_prefix_format"
	CodePrefixAlreadyExists         Code = "prefix_already_exists"
	CodeInvalidPrefixStatus         Code = "invalid_prefix_status"
	CodeInsufficientFee             Code = "insufficient_fee"
	CodeInvalidMetadataHashLength   Code = "invalid_metadata_hash_length"
	CodeInvalidMetadataURI          Code = "invalid_metadata_uri"
	CodeInvalidTreasuryAccount      Code = "invalid_treasury_account"
	CodeInsufficientTreasuryBalance Code = "insufficient_treasury_balance"
	CodeRefundNotAllowed            Code = "refund_not_allowed"
	CodeUnauthorizedOwnerAction     Code = "unauthorized_owner_action"
	CodeMissingBump                 Code = "missing_bump"
	CodeFeeOperationsPaused         Code = "fee_operations_paused"
	CodePrefixExpired               Code = "prefix_expired"
	CodeAuthorityKeysTooMany        Code = "authority_keys_too_many"
	CodeInvalidEd25519Signature     Code = "invalid_ed25519_signature"

	CodeAlreadyInitialized   Code = "already_initialized"
	CodeNotInitialized       Code = "not_initialized"
	CodeVerifierLimitReached Code = "verifier_limit_reached"
)

const registryCodeBase = 6000

var registryCodeNumbers = map[Code]int{
	CodeUnauthorizedAdmin:           registryCodeBase + 0,
	CodeUnauthorizedVerifier:        registryCodeBase + 1,
	CodeInvalidPrefixFormat:         registryCodeBase + 2,
	CodePrefixAlreadyExists:         registryCodeBase + 3,
	CodeInvalidPrefixStatus:         registryCodeBase + 4,
	CodeInsufficientFee:             registryCodeBase + 5,
	CodeInvalidMetadataHashLength:   registryCodeBase + 6,
	CodeInvalidMetadataURI:          registryCodeBase + 7,
	CodeInvalidTreasuryAccount:      registryCodeBase + 8,
	CodeInsufficientTreasuryBalance: registryCodeBase + 9,
	CodeRefundNotAllowed:            registryCodeBase + 10,
	CodeUnauthorizedOwnerAction:     registryCodeBase + 11,
	CodeMissingBump:                 registryCodeBase + 12,
	CodeFeeOperationsPaused:         registryCodeBase + 13,
	CodePrefixExpired:               registryCodeBase + 14,
	CodeAuthorityKeysTooMany:        registryCodeBase + 15,
	CodeInvalidEd25519Signature:     registryCodeBase + 16,
	CodeAlreadyInitialized:          registryCodeBase + 17,
	CodeNotInitialized:              registryCodeBase + 18,
	CodeVerifierLimitReached:        registryCodeBase + 19,
}

// Number returns the numeric form of a registry code, or 0 for generic codes.
func (c Code) Number() int {
	return registryCodeNumbers[c]
}

// Error is a domain error with a stable code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// From returns the outermost *Error in the chain, if any.
func From(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error in err carries code.
func HasCode(err error, code Code) bool {
	de, ok := From(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	if de, ok := From(err); ok {
		return de.Code
	}
	return CodeInternal
}
