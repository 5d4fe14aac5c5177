// Package config loads process configuration from the environment so main stays lean.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	Registry  RegistryConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
}

// RegistryConfig seeds the registry on first start. Admin is hex; when empty the
// registry waits for an explicit initialize call.
type RegistryConfig struct {
	Admin      string
	InitialFee uint64
	CacheTTL   time.Duration
}

// AuthConfig bounds request tokens.
type AuthConfig struct {
	TokenMaxAge time.Duration
	ClockSkew   time.Duration
}

// DatabaseConfig selects Postgres persistence. An empty URL keeps state in memory.
type DatabaseConfig struct {
	URL              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
}

// RedisConfig enables the shared replay guard and read cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the audit outbox relay.
type KafkaConfig struct {
	Brokers      []string
	AuditTopic   string
	Partitions   int32
	Replication  int16
	PollInterval time.Duration
}

// RateLimitConfig budgets requests per minute. Zero disables a class.
type RateLimitConfig struct {
	Disabled       bool
	ReadPerMinute  int
	WritePerMinute int
}

// TracingConfig enables OTLP export. An empty endpoint installs a no-op tracer.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
	SampleRatio float64
	Insecure    bool
}

// FromEnv builds a Server config from environment variables.
func FromEnv() (Server, error) {
	var errs []string
	fail := func(key string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", key, err))
	}

	fee, err := getEnvUint("REGISTRY_INITIAL_FEE", 0)
	if err != nil {
		fail("REGISTRY_INITIAL_FEE", err)
	}
	cacheTTL, err := getEnvDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		fail("CACHE_TTL", err)
	}
	tokenMaxAge, err := getEnvDuration("TOKEN_MAX_AGE", 2*time.Minute)
	if err != nil {
		fail("TOKEN_MAX_AGE", err)
	}
	shutdown, err := getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		fail("SHUTDOWN_TIMEOUT", err)
	}
	maxOpen, err := getEnvInt("DB_MAX_OPEN_CONNS", 20)
	if err != nil {
		fail("DB_MAX_OPEN_CONNS", err)
	}
	maxIdle, err := getEnvInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		fail("DB_MAX_IDLE_CONNS", err)
	}
	stmtTimeout, err := getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second)
	if err != nil {
		fail("DB_STATEMENT_TIMEOUT", err)
	}
	redisPool, err := getEnvInt("REDIS_POOL_SIZE", 10)
	if err != nil {
		fail("REDIS_POOL_SIZE", err)
	}
	poll, err := getEnvDuration("AUDIT_RELAY_INTERVAL", time.Second)
	if err != nil {
		fail("AUDIT_RELAY_INTERVAL", err)
	}
	readRPM, err := getEnvInt("RATE_LIMIT_READ_PER_MINUTE", 300)
	if err != nil {
		fail("RATE_LIMIT_READ_PER_MINUTE", err)
	}
	writeRPM, err := getEnvInt("RATE_LIMIT_WRITE_PER_MINUTE", 60)
	if err != nil {
		fail("RATE_LIMIT_WRITE_PER_MINUTE", err)
	}
	ratio, err := getEnvFloat("OTEL_SAMPLE_RATIO", 1.0)
	if err != nil {
		fail("OTEL_SAMPLE_RATIO", err)
	}
	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return Server{
		Addr:            getEnv("PREFIXD_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: shutdown,
		CORSOrigins:     splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		Registry: RegistryConfig{
			Admin:      os.Getenv("REGISTRY_ADMIN"),
			InitialFee: fee,
			CacheTTL:   cacheTTL,
		},
		Auth: AuthConfig{
			TokenMaxAge: tokenMaxAge,
			ClockSkew:   5 * time.Second,
		},
		Database: DatabaseConfig{
			URL:              os.Getenv("DATABASE_URL"),
			MaxOpenConns:     maxOpen,
			MaxIdleConns:     maxIdle,
			ConnMaxLifetime:  30 * time.Minute,
			StatementTimeout: stmtTimeout,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     redisPool,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:   getEnv("AUDIT_TOPIC", "prefixd.audit"),
			Partitions:   3,
			Replication:  1,
			PollInterval: poll,
		},
		Tracing: TracingConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "prefixd"),
			SampleRatio: ratio,
			Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		},
		RateLimit: RateLimitConfig{
			Disabled:       os.Getenv("RATE_LIMIT_DISABLED") == "true",
			ReadPerMinute:  readRPM,
			WritePerMinute: writeRPM,
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

func getEnvUint(key string, fallback uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("must be an unsigned integer")
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("must be within [0, 1]")
	}
	return f, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
