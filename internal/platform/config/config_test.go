package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"PREFIXD_ADDR", "DATABASE_URL", "KAFKA_BROKERS", "REGISTRY_INITIAL_FEE", "CACHE_TTL", "RATE_LIMIT_READ_PER_MINUTE", "RATE_LIMIT_DISABLED"} {
		t.Setenv(key, "")
	}
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "prefixd.audit", cfg.Kafka.AuditTopic)
	assert.Equal(t, 30*time.Second, cfg.Registry.CacheTTL)
	assert.Equal(t, 2*time.Minute, cfg.Auth.TokenMaxAge)
	assert.Equal(t, 300, cfg.RateLimit.ReadPerMinute)
	assert.False(t, cfg.RateLimit.Disabled)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PREFIXD_ADDR", ":9090")
	t.Setenv("REGISTRY_INITIAL_FEE", "18446744073709551615")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("TOKEN_MAX_AGE", "45s")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, uint64(18446744073709551615), cfg.Registry.InitialFee)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Second, cfg.Auth.TokenMaxAge)
}

func TestFromEnv_CollectsErrors(t *testing.T) {
	t.Setenv("REGISTRY_INITIAL_FEE", "-1")
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("RATE_LIMIT_WRITE_PER_MINUTE", "lots")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REGISTRY_INITIAL_FEE")
	assert.Contains(t, err.Error(), "CACHE_TTL")
	assert.Contains(t, err.Error(), "RATE_LIMIT_WRITE_PER_MINUTE")
}
