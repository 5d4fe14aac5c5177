package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "prefixd/pkg/platform/audit"
	"prefixd/pkg/platform/audit/store/memory"
	txcontext "prefixd/pkg/platform/tx"
	"prefixd/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func TestPublisher_Emit(t *testing.T) {
	store := memory.NewInMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := New(store, WithMetrics(metrics))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-1")

	err := pub.Emit(ctx, audit.Event{
		Component: audit.ComponentPrefix,
		Action:    string(audit.EventPrefixRefunded),
		Subject:   "ABC",
		Amount:    10,
	})
	require.NoError(t, err)

	events, err := store.ListBySubject(ctx, "ABC")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsEmitted.WithLabelValues("compliance")))
}

func TestPublisher_RejectsIncompleteEvents(t *testing.T) {
	pub := New(memory.NewInMemoryStore())
	assert.Error(t, pub.Emit(context.Background(), audit.Event{Component: audit.ComponentPrefix}))
	assert.Error(t, pub.Emit(context.Background(), audit.Event{Action: "x"}))
}

func TestPublisher_FailClosed(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := New(failingStore{}, WithMetrics(metrics))
	err := pub.Emit(context.Background(), audit.Event{
		Component: audit.ComponentTreasury,
		Action:    string(audit.EventTreasuryWithdrawn),
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistFailures))
}

func TestPublisher_DefersInsideUnitOfWork(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store)
	ctx, hooks := txcontext.WithHooks(context.Background())

	require.NoError(t, pub.Emit(ctx, audit.Event{
		Component: audit.ComponentConfig,
		Action:    string(audit.EventFeeUpdated),
		Subject:   "registry",
	}))
	all, _ := store.ListAll(ctx)
	assert.Empty(t, all, "event must wait for commit")

	hooks.Run()
	all, _ = store.ListAll(ctx)
	assert.Len(t, all, 1)
}
