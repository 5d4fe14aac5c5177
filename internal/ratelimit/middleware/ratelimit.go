// Package middleware applies sliding window budgets to registry routes: public reads
// per client IP and signed mutations per signing principal.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"prefixd/internal/ratelimit/models"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/circuit"
	"prefixd/pkg/platform/httputil"
	"prefixd/pkg/platform/middleware/request"
	"prefixd/pkg/requestcontext"
)

// BucketStore counts requests per key.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error)
}

// Recorder receives limiter observations.
type Recorder interface {
	IncrementRejection(class string)
	SetDegraded(degraded bool)
}

type Middleware struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	recorder Recorder
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

// WithFallback serves checks from fallback while the breaker reports primary unhealthy.
func WithFallback(fallback BucketStore, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = fallback
		m.breaker = breaker
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Middleware) { m.recorder = r }
}

func New(primary BucketStore, limits map[models.EndpointClass]models.Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		limits:  limits,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit budgets requests by client IP.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return m.limit(class, func(r *http.Request) string {
		return models.NewIPKey(request.ClientIP(r), class)
	})
}

// RateLimitSigner budgets requests by the authenticated principal. It must run after
// the signer middleware; requests without a principal fall back to the client IP.
func (m *Middleware) RateLimitSigner(class models.EndpointClass) func(http.Handler) http.Handler {
	return m.limit(class, func(r *http.Request) string {
		if p, ok := requestcontext.Principal(r.Context()); ok {
			return models.NewPrincipalKey(p, class)
		}
		return models.NewIPKey(request.ClientIP(r), class)
	})
}

func (m *Middleware) limit(class models.EndpointClass, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := m.limits[class]
			if m.disabled || !ok || limit.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			result, err := m.check(ctx, keyFn(r), limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"error", err,
					"class", string(class),
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				if m.recorder != nil {
					m.recorder.IncrementRejection(string(class))
				}
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check asks primary unless the breaker is open, in which case the in-process
// fallback answers. Primary errors are absorbed by the fallback when one exists.
func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	if m.breaker == nil || m.fallback == nil {
		return m.primary.Allow(ctx, key, limit)
	}
	if !m.breaker.Allow() {
		return m.fallback.Allow(ctx, key, limit)
	}

	result, err := m.primary.Allow(ctx, key, limit)
	if err != nil {
		if _, change := m.breaker.RecordFailure(); change.Opened {
			m.logger.WarnContext(ctx, "rate limiter degraded to in-process counters", "error", err)
			m.setDegraded(true)
		}
		return m.fallback.Allow(ctx, key, limit)
	}
	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.logger.InfoContext(ctx, "rate limiter store recovered")
		m.setDegraded(false)
	}
	return result, nil
}

func (m *Middleware) setDegraded(degraded bool) {
	if m.recorder != nil {
		m.recorder.SetDegraded(degraded)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
