package models

import "time"

// Bounds enforced at every mutation. Inputs beyond them are rejected, never truncated.
const (
	MinPrefixLen     = 3
	MaxPrefixLen     = 12
	MaxMetadataURI   = 255
	MaxAuthorityKeys = 10
	MaxVerifiers     = 256

	// ExpiryWindow is how long a submission stays approvable.
	ExpiryWindow = 14 * 24 * time.Hour
)

// ExpiryWindowSeconds is ExpiryWindow in the unit records store.
const ExpiryWindowSeconds int64 = int64(ExpiryWindow / time.Second)

// Metadata URI schemes accepted by the registry.
var allowedURISchemes = []string{"https://", "ipfs://"}
