//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"prefixd/internal/platform/config"
	"prefixd/internal/platform/kafka"
	audit "prefixd/pkg/platform/audit"
	"prefixd/pkg/platform/audit/relay"
	auditpg "prefixd/pkg/platform/audit/store/postgres"
	"prefixd/pkg/testutil/containers"
)

func TestOutboxRelayDeliversToBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := containers.GetManager().GetPostgres(t)
	rp := containers.GetManager().GetRedpanda(t)
	require.NoError(t, pg.TruncateTables(ctx, "audit_outbox"))

	topic := "prefixd.audit." + uuid.NewString()[:8]
	producer, err := kafka.NewProducer(config.KafkaConfig{Brokers: rp.Brokers, AuditTopic: topic})
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureTopic(ctx, 1, 1))
	require.NoError(t, producer.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	outbox := auditpg.New(pg.DB)
	for _, action := range []audit.AuditEvent{audit.EventPrefixSubmitted, audit.EventPrefixApproved} {
		require.NoError(t, outbox.Append(ctx, audit.Event{
			Component: audit.ComponentPrefix,
			Action:    string(action),
			Subject:   "ACME",
			Timestamp: time.Now(),
		}))
	}

	r := relay.New(outbox, producer)
	n, err := r.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := outbox.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var actions []string
	for len(actions) < 2 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(rec *kgo.Record) {
			assert.Equal(t, "ACME", string(rec.Key))
			ev, err := auditpg.DecodePayload(rec.Value)
			require.NoError(t, err)
			actions = append(actions, ev.Action)
		})
	}
	assert.Equal(t, []string{string(audit.EventPrefixSubmitted), string(audit.EventPrefixApproved)}, actions)

	var raw []byte
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		`SELECT payload FROM audit_outbox ORDER BY created_at, id LIMIT 1`).Scan(&raw))
	var payload auditpg.Payload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, string(audit.ComponentPrefix), payload.Component)
}
