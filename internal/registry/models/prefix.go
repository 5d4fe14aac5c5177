package models

import (
	"strings"

	"github.com/samber/lo"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
)

// Status is the lifecycle state of a prefix record. The numeric value is the
// one-byte tag persisted with the record.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusRejected
	StatusInactive
)

var statusNames = map[Status]string{
	StatusPending:  "pending",
	StatusActive:   "active",
	StatusRejected: "rejected",
	StatusInactive: "inactive",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus accepts the lowercase status name.
func ParseStatus(s string) (Status, error) {
	for status, name := range statusNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return status, nil
		}
	}
	return 0, dErrors.New(dErrors.CodeInvalidInput, "unknown status: "+s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Prefix is the aggregate root for one registered namespace prefix.
//
// Invariants:
//   - Key is normalized (uppercase, 3–12 ASCII alphanumerics) and unique among live records
//   - MetadataURI is at most 255 bytes and uses https:// or ipfs://
//   - AuthorityKeys holds at most 10 principals
//   - RefHash is zero unless the record has been approved since its last metadata change
//   - Transitions: Pending→Active|Rejected, Active→Inactive|Pending, Inactive→Active;
//     Rejected and expired Pending records may only be refunded (record destroyed)
//
// Timestamps are Unix seconds taken from the request clock.
type Prefix struct {
	Owner         id.Principal
	Key           string
	MetadataURI   string
	MetadataHash  id.Hash
	RefHash       id.Hash
	Status        Status
	AuthorityKeys []id.Principal
	FeePaid       uint64
	ExpiryAt      int64
	CreatedAt     int64
	UpdatedAt     int64
}

// NewPrefix constructs a Pending record for a paid submission. Inputs must already be
// validated with NormalizePrefix, ValidateMetadata and ValidateAuthorityKeys.
func NewPrefix(owner id.Principal, key, uri string, hash id.Hash, keys []id.Principal, fee uint64, now int64) *Prefix {
	return &Prefix{
		Owner:         owner,
		Key:           key,
		MetadataURI:   uri,
		MetadataHash:  hash,
		RefHash:       id.ZeroHash,
		Status:        StatusPending,
		AuthorityKeys: append([]id.Principal{}, keys...),
		FeePaid:       fee,
		ExpiryAt:      now + ExpiryWindowSeconds,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy safe to mutate.
func (p *Prefix) Clone() *Prefix {
	c := *p
	c.AuthorityKeys = append([]id.Principal{}, p.AuthorityKeys...)
	return &c
}

// IsOwner reports whether caller owns the record.
func (p *Prefix) IsOwner(caller id.Principal) bool {
	return p.Owner == caller
}

// IsExpired reports whether the approval window closed before now.
func (p *Prefix) IsExpired(now int64) bool {
	return now > p.ExpiryAt
}

// CanApprove checks the status and expiry guards of approval.
func (p *Prefix) CanApprove(now int64) error {
	if p.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvalidPrefixStatus, "prefix is not pending")
	}
	if p.IsExpired(now) {
		return dErrors.New(dErrors.CodePrefixExpired, "prefix expired")
	}
	return nil
}

// ApplyApproval activates the record with the verifier's reference hash.
func (p *Prefix) ApplyApproval(ref id.Hash, now int64) {
	p.Status = StatusActive
	p.RefHash = ref
	p.UpdatedAt = now
}

// CanReject checks the status guard of rejection. Expiry does not block rejection.
func (p *Prefix) CanReject() error {
	if p.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvalidPrefixStatus, "prefix is not pending")
	}
	return nil
}

// ApplyRejection marks the record rejected. The reason is not persisted.
func (p *Prefix) ApplyRejection(now int64) {
	p.Status = StatusRejected
	p.UpdatedAt = now
}

// CanRefund checks the state guard of refunds: rejected, or pending past expiry.
func (p *Prefix) CanRefund(now int64) error {
	if p.Status == StatusRejected {
		return nil
	}
	if p.Status == StatusPending && p.IsExpired(now) {
		return nil
	}
	return dErrors.New(dErrors.CodeRefundNotAllowed, "refund not allowed in current state")
}

// CanUpdate checks the status guard shared by metadata and authority updates.
func (p *Prefix) CanUpdate() error {
	if p.Status == StatusRejected {
		return dErrors.New(dErrors.CodeInvalidPrefixStatus, "rejected prefixes cannot be updated")
	}
	return nil
}

// ApplyMetadata replaces the metadata. An Active record drops back to Pending and
// loses its reference hash because its trust context changed; other states keep
// their status. It reports whether re-approval became necessary.
func (p *Prefix) ApplyMetadata(uri string, hash id.Hash, now int64) bool {
	p.MetadataURI = uri
	p.MetadataHash = hash
	p.UpdatedAt = now
	if p.Status != StatusActive {
		return false
	}
	p.Status = StatusPending
	p.RefHash = id.ZeroHash
	return true
}

// ApplyAuthority replaces the delegated authority keys without touching status.
func (p *Prefix) ApplyAuthority(keys []id.Principal, now int64) {
	p.AuthorityKeys = append([]id.Principal{}, keys...)
	p.UpdatedAt = now
}

// CanDeactivate checks that the record is Active.
func (p *Prefix) CanDeactivate() error {
	if p.Status != StatusActive {
		return dErrors.New(dErrors.CodeInvalidPrefixStatus, "prefix is not active")
	}
	return nil
}

func (p *Prefix) ApplyDeactivation(now int64) {
	p.Status = StatusInactive
	p.UpdatedAt = now
}

// CanReactivate checks that the record is Inactive.
func (p *Prefix) CanReactivate() error {
	if p.Status != StatusInactive {
		return dErrors.New(dErrors.CodeInvalidPrefixStatus, "prefix is not inactive")
	}
	return nil
}

// ApplyReactivation restores Active status; the reference hash is kept.
func (p *Prefix) ApplyReactivation(now int64) {
	p.Status = StatusActive
	p.UpdatedAt = now
}

// ApplyOwnerRecovery reassigns ownership. Status, metadata and FeePaid are untouched:
// the recovery fee is not refundable.
func (p *Prefix) ApplyOwnerRecovery(newOwner id.Principal, now int64) {
	p.Owner = newOwner
	p.UpdatedAt = now
}

// NormalizePrefix uppercases ASCII letters and checks length and charset. Non-ASCII
// input is never folded, so it always fails the charset check.
func NormalizePrefix(input string) (string, error) {
	upper := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, input)
	if len(upper) < MinPrefixLen || len(upper) > MaxPrefixLen {
		return "", dErrors.New(dErrors.CodeInvalidPrefixFormat, "prefix must be 3 to 12 characters")
	}
	for i := 0; i < len(upper); i++ {
		c := upper[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", dErrors.New(dErrors.CodeInvalidPrefixFormat, "prefix must be alphanumeric")
		}
	}
	return upper, nil
}

// ValidateSubmittedPrefix requires the caller to submit the normalized form itself.
func ValidateSubmittedPrefix(input string) (string, error) {
	normalized, err := NormalizePrefix(input)
	if err != nil {
		return "", err
	}
	if normalized != input {
		return "", dErrors.New(dErrors.CodeInvalidPrefixFormat, "prefix must be submitted in normalized uppercase form")
	}
	return normalized, nil
}

// ValidateMetadata checks the URI bound and scheme. The hash width is enforced by
// the id.Hash type at parse time.
func ValidateMetadata(uri string) error {
	if len(uri) > MaxMetadataURI {
		return dErrors.New(dErrors.CodeInvalidMetadataURI, "metadata uri exceeds 255 bytes")
	}
	if !lo.SomeBy(allowedURISchemes, func(scheme string) bool { return strings.HasPrefix(uri, scheme) }) {
		return dErrors.New(dErrors.CodeInvalidMetadataURI, "metadata uri must use https:// or ipfs://")
	}
	return nil
}

// ValidateAuthorityKeys checks the authority list bound.
func ValidateAuthorityKeys(keys []id.Principal) error {
	if len(keys) > MaxAuthorityKeys {
		return dErrors.New(dErrors.CodeAuthorityKeysTooMany, "at most 10 authority keys are allowed")
	}
	return nil
}
