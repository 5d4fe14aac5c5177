// Package service implements the prefix registry: the lifecycle state machine, the fee
// escrow, the verifier directory and the admin control plane.
//
// Every mutating operation runs as one unit of work. Configuration is read once at the
// start of that unit, every authorization check happens before any write, and any
// error discards all writes, the audit record included.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	registrymetrics "prefixd/internal/registry/metrics"
	"prefixd/internal/registry/models"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	audit "prefixd/pkg/platform/audit"
	"prefixd/pkg/platform/sentinel"
	"prefixd/pkg/requestcontext"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks prefixd/internal/registry/service AuditPublisher,PrefixCache

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
}

// Reader serves committed state to queries.
type Reader interface {
	FindConfig(ctx context.Context) (*models.RegistryConfig, error)
	FindDirectory(ctx context.Context) (*models.VerifierDirectory, error)
	FindTreasury(ctx context.Context) (*models.Treasury, error)
	FindAccount(ctx context.Context, p id.Principal) (*models.Account, error)
	FindPrefix(ctx context.Context, key string) (*models.Prefix, error)
	ListPrefixes(ctx context.Context, filter store.PrefixFilter) ([]*models.Prefix, error)
}

// Store is satisfied by store.InMemoryStore and store.PostgresStore.
type Store interface {
	UnitOfWork
	Reader
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// PrefixCache is an optional read-through cache for GetPrefix.
type PrefixCache interface {
	Get(ctx context.Context, key string) (*models.Prefix, error)
	Set(ctx context.Context, p *models.Prefix) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Service orchestrates the registry.
type Service struct {
	store   Store
	cache   PrefixCache
	fence   cacheFence
	logger  *slog.Logger
	audit   *auditEmitter
	metrics *registrymetrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit.publisher = publisher
	}
}

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCache(c PrefixCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service over st.
func New(st Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
		audit:  &auditEmitter{},
		tracer: noop.NewTracerProvider().Tracer("registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit.logger = s.logger
	return s
}

// run executes fn as one traced, measured unit of work.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "registry."+op)
	defer span.End()
	if caller, ok := requestcontext.Principal(ctx); ok {
		span.SetAttributes(attribute.String("registry.caller", caller.String()))
	}

	start := time.Now()
	err := s.store.RunInTx(ctx, fn)
	result := "ok"
	if err != nil {
		if _, ok := dErrors.From(err); !ok {
			err = dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
		}
		result = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			s.logger.ErrorContext(ctx, "registry operation failed",
				"operation", op,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, result, time.Since(start))
	}
	return err
}

// caller returns the authenticated signer or fails.
func caller(ctx context.Context) (id.Principal, error) {
	p, ok := requestcontext.Principal(ctx)
	if !ok {
		return id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "request is not signed")
	}
	return p, nil
}

func now(ctx context.Context) int64 {
	return requestcontext.Now(ctx).Unix()
}

func loadConfig(ctx context.Context, tx store.Tx) (*models.RegistryConfig, error) {
	cfg, err := tx.GetConfig(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotInitialized, "registry is not initialized")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry config")
	}
	return cfg, nil
}

func loadDirectory(ctx context.Context, tx store.Tx) (*models.VerifierDirectory, error) {
	dir, err := tx.GetDirectory(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotInitialized, "verifier directory is not initialized")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verifier directory")
	}
	return dir, nil
}

// loadTreasury maps a missing escrow to InvalidTreasuryAccount.
func loadTreasury(ctx context.Context, tx store.Tx) (*models.Treasury, error) {
	t, err := tx.GetTreasury(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeInvalidTreasuryAccount, "treasury account is missing")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load treasury")
	}
	return t, nil
}

func loadAccount(ctx context.Context, tx store.Tx, p id.Principal) (*models.Account, error) {
	acct, err := tx.GetAccount(ctx, p)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return acct, nil
}

func loadPrefix(ctx context.Context, tx store.Tx, key string) (*models.Prefix, error) {
	p, err := tx.GetPrefix(ctx, key)
	if err != nil {
		return nil, wrapPrefixErr(err)
	}
	return p, nil
}

func wrapPrefixErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "prefix not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prefix")
}

func storeErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// lookupKey normalizes a prefix named by a read.
func lookupKey(key string) (string, error) {
	return models.NormalizePrefix(key)
}

// targetKey accepts only the normalized form, so a mutation names exactly the
// record it changes, as submission does.
func targetKey(key string) (string, error) {
	return models.ValidateSubmittedPrefix(key)
}

// afterCommit invalidates cached records and refreshes escrow gauges.
func (s *Service) afterCommit(ctx context.Context, treasury *models.Treasury, keys ...string) {
	if s.cache != nil && len(keys) > 0 {
		s.fence.advance()
		if err := s.cache.Invalidate(ctx, keys...); err != nil {
			s.logger.WarnContext(ctx, "prefix cache invalidation failed", "keys", keys, "error", err)
		}
	}
	if s.metrics != nil && treasury != nil {
		s.metrics.SetTreasuryBalance(treasury.Balance)
	}
}
