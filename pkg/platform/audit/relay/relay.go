// Package relay moves audit rows from the Postgres outbox to a message broker.
//
// The relay is the only reader of the outbox. It publishes in insertion order and
// marks rows delivered only after the broker acknowledged the whole batch, so a
// crash between the two steps re-publishes (at-least-once) rather than drops.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"prefixd/pkg/platform/audit/store/postgres"
)

// Outbox is the subset of the Postgres audit store the relay needs.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Message is one record handed to the producer.
type Message struct {
	Key   []byte
	Value []byte
}

// Producer publishes a batch synchronously.
type Producer interface {
	Publish(ctx context.Context, msgs []Message) error
}

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Relay polls the outbox and forwards rows to the producer.
type Relay struct {
	outbox       Outbox
	producer     Producer
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
	maxElapsed   time.Duration
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithMaxRetryElapsed bounds how long one batch is retried before the relay gives up
// on it until the next poll.
func WithMaxRetryElapsed(d time.Duration) Option {
	return func(r *Relay) { r.maxElapsed = d }
}

func New(outbox Outbox, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		outbox:       outbox,
		producer:     producer,
		logger:       slog.Default(),
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		maxElapsed:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.WarnContext(ctx, "audit relay batch failed", "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes a single batch and returns how many rows it delivered.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	msgs := make([]Message, len(entries))
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		msgs[i] = Message{Key: []byte(e.AggregateID), Value: e.Payload}
		ids[i] = e.ID
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = r.maxElapsed
	publish := func() error {
		return r.producer.Publish(ctx, msgs)
	}
	notify := func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "audit publish retry", "error", err, "wait", wait.String())
	}
	if err := backoff.RetryNotify(publish, backoff.WithContext(policy, ctx), notify); err != nil {
		return 0, err
	}

	if err := r.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		return 0, err
	}
	return len(entries), nil
}
