// Package replay makes request tokens single use by remembering their jti until the
// token would have expired anyway.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"prefixd/pkg/platform/sentinel"
)

var claimDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "prefixd_replay_claim_duration_ms",
	Help:    "Latency of jti replay checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const keyPrefix = "prefixd:jti:"

// RedisGuard shares seen jtis across instances.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// Claim records jti for ttl. It returns sentinel.ErrAlreadyUsed when jti was seen.
func (g *RedisGuard) Claim(ctx context.Context, jti string, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		claimDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := g.client.SetNX(ctx, keyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

// MemoryGuard is the single-instance fallback.
type MemoryGuard struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]time.Time), clock: time.Now}
}

func (g *MemoryGuard) Claim(_ context.Context, jti string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if exp, ok := g.seen[jti]; ok && now.Before(exp) {
		return sentinel.ErrAlreadyUsed
	}
	g.seen[jti] = now.Add(ttl)
	if len(g.seen)%256 == 0 {
		g.sweep(now)
	}
	return nil
}

func (g *MemoryGuard) sweep(now time.Time) {
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
}
