// Package models holds the rate limiting vocabulary shared by stores and middleware.
package models

import (
	"strings"
	"time"

	id "prefixd/pkg/domain"
)

// EndpointClass groups routes that share a budget.
type EndpointClass string

const (
	// ClassRead covers public lookups, keyed by client IP.
	ClassRead EndpointClass = "read"
	// ClassWrite covers signed mutations, keyed by signing principal.
	ClassWrite EndpointClass = "write"
)

func (c EndpointClass) IsValid() bool {
	return c == ClassRead || c == ClassWrite
}

// Limit is a sliding window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// NewIPKey buckets by client address. ':' in the address is replaced so an IPv6
// literal or a spoofed forwarding header cannot address another bucket.
func NewIPKey(ip string, class EndpointClass) string {
	return "ip:" + strings.ReplaceAll(ip, ":", "_") + ":" + string(class)
}

func NewPrincipalKey(p id.Principal, class EndpointClass) string {
	return "principal:" + p.String() + ":" + string(class)
}
