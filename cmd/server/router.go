package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prefixd/internal/platform/metrics"
	ratelimit "prefixd/internal/ratelimit/middleware"
	rlmodels "prefixd/internal/ratelimit/models"
	"prefixd/internal/registry/handler"
	authmw "prefixd/pkg/platform/middleware/auth"
	"prefixd/pkg/platform/middleware/request"
	"prefixd/pkg/platform/middleware/requesttime"
)

type routerDeps struct {
	service       handler.Service
	requireSigner func(http.Handler) http.Handler
	limiter       *ratelimit.Middleware
	httpMetrics   *metrics.Metrics
	gatherer      prometheus.Gatherer
	health        http.HandlerFunc
	corsOrigins   []string
	logger        *slog.Logger
}

// newRouter mounts the registry API under /v1 next to the operational endpoints.
func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.logger))
	r.Use(request.Logger(d.logger))
	r.Use(d.httpMetrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", authmw.HeaderCosigner, request.HeaderRequestID},
		ExposedHeaders: []string{request.HeaderRequestID, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", d.health)
	r.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(requesttime.Middleware)
		handler.New(d.service, d.logger).Register(r,
			chi.Chain(d.requireSigner, d.limiter.RateLimitSigner(rlmodels.ClassWrite)).Handler,
			d.limiter.RateLimit(rlmodels.ClassRead),
		)
	})
	return r
}
