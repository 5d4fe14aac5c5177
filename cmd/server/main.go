package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"prefixd/internal/auth/replay"
	"prefixd/internal/auth/token"
	"prefixd/internal/platform/config"
	"prefixd/internal/platform/httpserver"
	"prefixd/internal/platform/kafka"
	"prefixd/internal/platform/logger"
	"prefixd/internal/platform/metrics"
	"prefixd/internal/platform/postgres"
	"prefixd/internal/platform/redis"
	"prefixd/internal/platform/tracing"
	rlmetrics "prefixd/internal/ratelimit/metrics"
	ratelimit "prefixd/internal/ratelimit/middleware"
	rlmodels "prefixd/internal/ratelimit/models"
	"prefixd/internal/ratelimit/store/bucket"
	"prefixd/internal/registry/cache"
	registrymetrics "prefixd/internal/registry/metrics"
	"prefixd/internal/registry/service"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/audit"
	"prefixd/pkg/platform/audit/publisher"
	"prefixd/pkg/platform/audit/relay"
	auditmemory "prefixd/pkg/platform/audit/store/memory"
	auditpg "prefixd/pkg/platform/audit/store/postgres"
	"prefixd/pkg/platform/circuit"
	"prefixd/pkg/platform/httputil"
	authmw "prefixd/pkg/platform/middleware/auth"
)

// infra is everything main opens before the service exists. Nil fields are
// unconfigured and fall back to in-process implementations.
type infra struct {
	db       *postgres.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	in, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.New(reg)
	registryMetrics := registrymetrics.New(reg)

	var st service.Store = store.NewInMemory()
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if in.db != nil {
		st = store.NewPostgres(in.db.DB)
		auditStore = auditpg.New(in.db.DB)
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(registryMetrics),
		service.WithTracer(tracing.Tracer("prefixd/registry")),
		service.WithAuditPublisher(publisher.New(auditStore,
			publisher.WithLogger(log),
			publisher.WithMetrics(publisher.NewMetrics(reg)),
		)),
	}
	var guard authmw.ReplayGuard = replay.NewMemoryGuard()
	if in.redis != nil {
		prefixCache := cache.NewGuarded(
			cache.NewRedisCache(in.redis.Client, cfg.Registry.CacheTTL),
			circuit.New("prefix-cache"),
			log,
		)
		opts = append(opts, service.WithCache(prefixCache))
		guard = replay.NewRedisGuard(in.redis.Client)
	}
	svc := service.New(st, opts...)

	if err := bootstrap(ctx, svc, cfg.Registry, log); err != nil {
		return err
	}

	validator := token.NewValidator(cfg.Auth.TokenMaxAge, cfg.Auth.ClockSkew)
	requireSigner := authmw.RequireSigner(token.NewMiddlewareAdapter(validator), guard, httpMetrics, log)
	limiter := newRateLimiter(cfg.RateLimit, in, reg, log)

	r := newRouter(routerDeps{
		service:       svc,
		requireSigner: requireSigner,
		limiter:       limiter,
		httpMetrics:   httpMetrics,
		gatherer:      reg,
		health:        in.health,
		corsOrigins:   cfg.CORSOrigins,
		logger:        log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting prefixd", "addr", cfg.Addr)
		return httpserver.Run(gctx, httpserver.New(cfg.Addr, r), cfg.ShutdownTimeout)
	})
	if in.db != nil && in.producer != nil {
		outbox := auditpg.New(in.db.DB)
		rl := relay.New(outbox, in.producer,
			relay.WithLogger(log),
			relay.WithPollInterval(cfg.Kafka.PollInterval),
		)
		g.Go(func() error { return rl.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("prefixd stopped")
	return nil
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		if err := db.Migrate(ctx, log); err != nil {
			_ = db.Close()
			return nil, err
		}
		in.db = db
	} else {
		log.Warn("DATABASE_URL not set; registry state is kept in memory")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.close()
		return nil, err
	}
	in.redis = rc

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		in.close()
		return nil, err
	}
	if producer != nil {
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			producer.Close()
			in.close()
			return nil, err
		}
		if in.db == nil {
			log.Warn("KAFKA_BROKERS set without DATABASE_URL; audit relay disabled")
		}
	}
	in.producer = producer
	return in, nil
}

func (in *infra) close() {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

func (in *infra) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	if in.db != nil {
		record("postgres", in.db.Health(ctx))
	}
	if in.redis != nil {
		record("redis", in.redis.Health(ctx))
	}
	if in.producer != nil {
		record("kafka", in.producer.Health(ctx))
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

// newRateLimiter shares counters through Redis when it is configured and keeps
// in-process counters as the fallback.
func newRateLimiter(cfg config.RateLimitConfig, in *infra, reg prometheus.Registerer, log *slog.Logger) *ratelimit.Middleware {
	limits := map[rlmodels.EndpointClass]rlmodels.Limit{
		rlmodels.ClassRead:  {Requests: cfg.ReadPerMinute, Window: time.Minute},
		rlmodels.ClassWrite: {Requests: cfg.WritePerMinute, Window: time.Minute},
	}
	local := bucket.NewInMemoryBucketStore()
	opts := []ratelimit.Option{
		ratelimit.WithDisabled(cfg.Disabled),
		ratelimit.WithRecorder(rlmetrics.New(reg)),
	}
	if in.redis == nil {
		return ratelimit.New(local, limits, log, opts...)
	}
	opts = append(opts, ratelimit.WithFallback(local, circuit.New("ratelimit")))
	return ratelimit.New(bucket.NewRedisBucketStore(in.redis.Client), limits, log, opts...)
}

// bootstrap initializes the registry from configuration on first start.
func bootstrap(ctx context.Context, svc *service.Service, cfg config.RegistryConfig, log *slog.Logger) error {
	if cfg.Admin == "" {
		return nil
	}
	admin, err := id.ParsePrincipal(cfg.Admin)
	if err != nil {
		return fmt.Errorf("REGISTRY_ADMIN: %w", err)
	}
	_, err = svc.Initialize(ctx, admin, cfg.InitialFee)
	switch {
	case err == nil:
		log.Info("registry initialized", "admin", admin.String(), "fee", cfg.InitialFee)
	case dErrors.HasCode(err, dErrors.CodeAlreadyInitialized):
		log.Debug("registry already initialized")
	default:
		return fmt.Errorf("bootstrap registry: %w", err)
	}
	return nil
}
