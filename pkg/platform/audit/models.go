package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers value movements and ownership changes. These need
	// long retention because they justify every treasury debit and credit.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers changes to who may do what: admin configuration,
	// verifier membership, pause switches.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle transitions that move no value.
	CategoryOperations EventCategory = "operations"
)

// Component names the registry part an event mutated.
type Component string

const (
	ComponentConfig    Component = "registry_config"
	ComponentVerifiers Component = "verifier_directory"
	ComponentTreasury  Component = "treasury"
	ComponentPrefix    Component = "prefix"
	ComponentLedger    Component = "ledger"
)

// Event is emitted from domain logic for every mutation. The trail is append-only;
// nothing in the registry reads it back to make a decision.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	Component Component
	Action    string
	// Actor is the principal that authorized the mutation (hex).
	Actor string
	// Subject is the key of the mutated entity: a prefix, a principal, or the
	// singleton name.
	Subject  string
	OldValue string
	NewValue string
	// Reason is free text supplied by the actor, e.g. a rejection reason.
	Reason    string
	Amount    uint64
	RequestID string
}

type AuditEvent string

const (
	// Registry configuration
	EventRegistryInitialized AuditEvent = "registry_initialized"
	EventFeeUpdated          AuditEvent = "fee_updated"
	EventPauseUpdated        AuditEvent = "pause_updated"

	// Verifier directory
	EventVerifierAdded   AuditEvent = "verifier_added"
	EventVerifierRemoved AuditEvent = "verifier_removed"

	// Treasury and ledger
	EventTreasuryWithdrawn AuditEvent = "treasury_withdrawn"
	EventAccountCredited   AuditEvent = "account_credited"

	// Prefix lifecycle
	EventPrefixSubmitted        AuditEvent = "prefix_submitted"
	EventPrefixApproved         AuditEvent = "prefix_approved"
	EventPrefixActivated        AuditEvent = "prefix_activated"
	EventPrefixRejected         AuditEvent = "prefix_rejected"
	EventPrefixMetadataUpdated  AuditEvent = "prefix_metadata_updated"
	EventPrefixAuthorityUpdated AuditEvent = "prefix_authority_updated"
	EventPrefixRefunded         AuditEvent = "prefix_refunded"
	EventPrefixDeactivated      AuditEvent = "prefix_deactivated"
	EventPrefixReactivated      AuditEvent = "prefix_reactivated"
	EventPrefixOwnerRecovered   AuditEvent = "prefix_owner_recovered"
)

var eventCategories = map[AuditEvent]EventCategory{
	// Value moved or ownership changed
	EventRegistryInitialized:  CategoryCompliance,
	EventTreasuryWithdrawn:    CategoryCompliance,
	EventAccountCredited:      CategoryCompliance,
	EventPrefixSubmitted:      CategoryCompliance,
	EventPrefixRefunded:       CategoryCompliance,
	EventPrefixOwnerRecovered: CategoryCompliance,

	// Authorization surface changed
	EventFeeUpdated:        CategorySecurity,
	EventPauseUpdated:      CategorySecurity,
	EventVerifierAdded:     CategorySecurity,
	EventVerifierRemoved:   CategorySecurity,
	EventPrefixDeactivated: CategorySecurity,

	// Routine lifecycle
	EventPrefixApproved:         CategoryOperations,
	EventPrefixActivated:        CategoryOperations,
	EventPrefixRejected:         CategoryOperations,
	EventPrefixMetadataUpdated:  CategoryOperations,
	EventPrefixAuthorityUpdated: CategoryOperations,
	EventPrefixReactivated:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
