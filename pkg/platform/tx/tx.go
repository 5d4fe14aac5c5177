// Package tx carries an open SQL transaction through context so that stores invoked
// inside a unit of work (registry state, audit outbox) share the same commit.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Executor is satisfied by both *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecutorFrom returns the transaction in ctx, falling back to db.
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

type hooksKey struct{}

// Hooks collects callbacks that must only run once a unit of work commits. In-memory
// stores use it to defer side effects that have no rollback of their own.
type Hooks struct {
	fns []func()
}

// WithHooks opens a hook scope on ctx.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// OnCommit registers fn on the hook scope in ctx. It returns false when ctx carries no
// scope, in which case the caller should apply the effect immediately.
func OnCommit(ctx context.Context, fn func()) bool {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok {
		return false
	}
	h.fns = append(h.fns, fn)
	return true
}

// Run invokes the registered callbacks in registration order.
func (h *Hooks) Run() {
	for _, fn := range h.fns {
		fn()
	}
}
