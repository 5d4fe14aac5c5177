package audit

import "context"

// Store persists audit events. Implementations must join the caller's unit of work
// when one is present in ctx so that an aborted operation leaves no audit row behind.
type Store interface {
	Append(ctx context.Context, event Event) error
}
