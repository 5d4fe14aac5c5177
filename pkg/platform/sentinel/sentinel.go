package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// and the registry service translates them into domain error codes.
//
//   - ErrNotFound: record, account or singleton does not exist
//   - ErrAlreadyUsed: unique key (prefix, singleton, jti) is already taken
//   - ErrConflict: concurrent writer won the row
//   - ErrInvalidState: stored data violates a structural invariant
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
