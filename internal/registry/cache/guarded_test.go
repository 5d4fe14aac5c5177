package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prefixd/internal/registry/models"
	"prefixd/pkg/platform/circuit"
	"prefixd/pkg/platform/sentinel"
)

type flakyBackend struct {
	err   error
	calls int
	store map[string]*models.Prefix
}

func (f *flakyBackend) Get(_ context.Context, key string) (*models.Prefix, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.store[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p, nil
}

func (f *flakyBackend) Set(_ context.Context, p *models.Prefix) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.store[p.Key] = p
	return nil
}

func (f *flakyBackend) Invalidate(_ context.Context, keys ...string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.store, k)
	}
	return nil
}

func TestGuardedOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	backend := &flakyBackend{store: map[string]*models.Prefix{}}
	breaker := circuit.New("prefix-cache",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Second),
		circuit.WithClock(func() time.Time { return now }),
	)
	g := NewGuarded(backend, breaker, nil)

	_, err := g.Get(ctx, "ABC")
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "a miss is a healthy answer")
	assert.False(t, breaker.IsOpen())

	backend.err = errors.New("connection refused")
	_, _ = g.Get(ctx, "ABC")
	_, _ = g.Get(ctx, "ABC")
	require.True(t, breaker.IsOpen())

	calls := backend.calls
	_, err = g.Get(ctx, "ABC")
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.NoError(t, g.Set(ctx, &models.Prefix{Key: "ABC"}))
	assert.Equal(t, calls, backend.calls, "open breaker skips reads and fills")

	assert.Error(t, g.Invalidate(ctx, "ABC"))
	assert.Equal(t, calls+1, backend.calls, "invalidation is never skipped")

	backend.err = nil
	now = now.Add(time.Second)
	require.NoError(t, g.Set(ctx, &models.Prefix{Key: "ABC"}))
	assert.False(t, breaker.IsOpen())

	p, err := g.Get(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, "ABC", p.Key)
}
