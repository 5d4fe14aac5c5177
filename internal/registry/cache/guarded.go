package cache

import (
	"context"
	"errors"
	"log/slog"

	"prefixd/internal/registry/models"
	"prefixd/pkg/platform/circuit"
	"prefixd/pkg/platform/sentinel"
)

// Backend is the cache surface the breaker wraps.
type Backend interface {
	Get(ctx context.Context, key string) (*models.Prefix, error)
	Set(ctx context.Context, p *models.Prefix) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Guarded stops reading from and filling an unhealthy cache so lookups go straight to
// the store. Invalidate always reaches the backend; a skipped delete could serve a
// stale record once the backend recovers.
type Guarded struct {
	backend Backend
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(backend Backend, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{backend: backend, breaker: breaker, logger: logger}
}

// Get returns sentinel.ErrUnavailable without calling the backend while the breaker is open.
func (g *Guarded) Get(ctx context.Context, key string) (*models.Prefix, error) {
	if !g.breaker.Allow() {
		return nil, sentinel.ErrUnavailable
	}
	p, err := g.backend.Get(ctx, key)
	g.record(ctx, err)
	return p, err
}

func (g *Guarded) Set(ctx context.Context, p *models.Prefix) error {
	if !g.breaker.Allow() {
		return nil
	}
	err := g.backend.Set(ctx, p)
	g.record(ctx, err)
	return err
}

func (g *Guarded) Invalidate(ctx context.Context, keys ...string) error {
	err := g.backend.Invalidate(ctx, keys...)
	g.record(ctx, err)
	return err
}

func (g *Guarded) record(ctx context.Context, err error) {
	if err == nil || errors.Is(err, sentinel.ErrNotFound) {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "prefix cache recovered", "breaker", g.breaker.Name())
		}
		return
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "prefix cache disabled after repeated failures",
			"breaker", g.breaker.Name(),
			"error", err,
		)
	}
}
