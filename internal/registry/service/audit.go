package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/lo"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	audit "prefixd/pkg/platform/audit"
	txcontext "prefixd/pkg/platform/tx"
	"prefixd/pkg/requestcontext"
)

const registrySubject = "registry"

// auditEmitter writes the append-only trail inside the unit of work and the matching
// log line once the unit commits.
type auditEmitter struct {
	publisher AuditPublisher
	logger    *slog.Logger
}

func (e *auditEmitter) emit(ctx context.Context, event audit.Event) error {
	if e.publisher != nil {
		if err := e.publisher.Emit(ctx, event); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
		}
	}
	logLine := func() {
		if e.logger == nil {
			return
		}
		e.logger.InfoContext(ctx, event.Action,
			"event", event.Action,
			"log_type", "audit",
			"component", string(event.Component),
			"actor", event.Actor,
			"subject", event.Subject,
			"old_value", event.OldValue,
			"new_value", event.NewValue,
			"amount", event.Amount,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if !txcontext.OnCommit(ctx, logLine) {
		logLine()
	}
	return nil
}

func actorOf(p id.Principal) string {
	if p.IsZero() {
		return ""
	}
	return p.String()
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatKeys(keys []id.Principal) string {
	return strings.Join(lo.Map(keys, func(k id.Principal, _ int) string { return k.String() }), ",")
}

func (e *auditEmitter) prefixEvent(ctx context.Context, action audit.AuditEvent, actor id.Principal, key string, mutate func(*audit.Event)) error {
	ev := audit.Event{
		Component: audit.ComponentPrefix,
		Action:    string(action),
		Actor:     actorOf(actor),
		Subject:   key,
	}
	if mutate != nil {
		mutate(&ev)
	}
	return e.emit(ctx, ev)
}

func (e *auditEmitter) configEvent(ctx context.Context, action audit.AuditEvent, actor id.Principal, oldValue, newValue string) error {
	return e.emit(ctx, audit.Event{
		Component: audit.ComponentConfig,
		Action:    string(action),
		Actor:     actorOf(actor),
		Subject:   registrySubject,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}
