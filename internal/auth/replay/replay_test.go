package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prefixd/pkg/platform/sentinel"
)

func TestMemoryGuard(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewMemoryGuard()
	g.clock = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, g.Claim(ctx, "a", time.Minute))
	assert.ErrorIs(t, g.Claim(ctx, "a", time.Minute), sentinel.ErrAlreadyUsed)
	assert.NoError(t, g.Claim(ctx, "b", time.Minute))

	now = now.Add(time.Minute)
	assert.NoError(t, g.Claim(ctx, "a", time.Minute), "expired entries may be reused")
}

func TestMemoryGuard_Sweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewMemoryGuard()
	g.clock = func() time.Time { return now }
	for i := range 255 {
		require.NoError(t, g.Claim(context.Background(), string(rune('a'+i%26))+time.Duration(i).String(), time.Second))
	}
	now = now.Add(time.Hour)
	require.NoError(t, g.Claim(context.Background(), "trigger", time.Second))
	assert.Len(t, g.seen, 1)
}
