// Package queue implements the durable per-RIB-tag processing queue
// (topic "procqueue.<tag>") that InferenceService enqueues onto when a
// destination needs to be computed, and that a pool of in-process workers
// drains to drive PathVectorBuilder.
package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"

	"github.com/pobradovic08/as-infer/internal/metrics"
)

// Entry is one processing-queue request: compute the best path to dst
// under tag. Dst is the destination AS number as a decimal string (the
// service translates IP endpoints before enqueueing); the worker parses it
// back to an int before invoking PathVectorBuilder.
type Entry struct {
	Tag string `json:"tag"`
	Dst string `json:"dst"`
}

func TopicFor(prefix, tag string) string {
	return prefix + tag
}

// Producer publishes entries to a tag's processing-queue topic, deduping
// against a Postgres-backed "seen" table first so a flood of coalesced
// requests for the same (tag,dst) produces exactly one queue entry.
type Producer struct {
	client *kgo.Client
	pool   *pgxpool.Pool
	prefix string
	logger *zap.Logger
}

func NewProducer(brokers []string, topicPrefix string, pool *pgxpool.Pool, tlsCfg *tls.Config, saslMech sasl.Mechanism, logger *zap.Logger) (*Producer, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(brokers...)}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("queue: creating producer client: %w", err)
	}
	return &Producer{client: client, pool: pool, prefix: topicPrefix, logger: logger}, nil
}

// Enqueue dedups (tag, dst) against queue_dedup and, if this is the first
// time it has been seen, publishes the entry and returns enqueued=true.
func (p *Producer) Enqueue(ctx context.Context, tag, dst string) (enqueued bool, err error) {
	firstTime, err := p.markSeen(ctx, tag, dst)
	if err != nil {
		return false, err
	}
	if !firstTime {
		metrics.QueueDedupHitsTotal.WithLabelValues(tag).Inc()
		return false, nil
	}

	entry := Entry{Tag: tag, Dst: dst}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("queue: marshaling entry: %w", err)
	}

	rec := &kgo.Record{Topic: TopicFor(p.prefix, tag), Value: payload}
	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return false, fmt.Errorf("queue: producing entry (tag %s, dst %s): %w", tag, dst, err)
	}

	metrics.QueueEnqueuedTotal.WithLabelValues(tag).Inc()
	return true, nil
}

// markSeen is the queue's dedup primitive: a unique constraint on
// (tag, dst) in queue_dedup stands in for the original Redis
// Lua-scripted "seen set" check described in DESIGN.md.
func (p *Producer) markSeen(ctx context.Context, tag, dst string) (firstTime bool, err error) {
	cmdTag, err := p.pool.Exec(ctx, `
		INSERT INTO queue_dedup (tag, dst) VALUES ($1, $2)
		ON CONFLICT (tag, dst) DO NOTHING
	`, tag, dst)
	if err != nil {
		return false, fmt.Errorf("queue: marking seen (tag %s, dst %s): %w", tag, dst, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (p *Producer) Close() {
	p.client.Close()
}

// Consumer drains one tag's processing-queue topic. Workers call Run in a
// goroutine pool (see internal/service for wiring).
type Consumer struct {
	client *kgo.Client
	joined atomic.Bool
	logger *zap.Logger
}

func NewConsumer(brokers []string, groupID, topic, clientID string, tlsCfg *tls.Config, saslMech sasl.Mechanism, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{logger: logger}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ClientID(clientID),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(true)
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(false)
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(false)
		}),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("queue: creating consumer client: %w", err)
	}
	c.client = client
	return c, nil
}

// Run polls for entries and invokes handle for each. Returns when ctx is
// canceled.
func (c *Consumer) Run(ctx context.Context, handle func(Entry)) {
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Error("queue consumer: fetch error",
					zap.String("topic", e.Topic), zap.Error(e.Err))
			}
		}
		fetches.EachRecord(func(r *kgo.Record) {
			var entry Entry
			if err := json.Unmarshal(r.Value, &entry); err != nil {
				c.logger.Error("queue consumer: bad entry payload", zap.Error(err))
				return
			}
			handle(entry)
		})
		c.client.CommitUncommittedOffsets(ctx)
	}
}

func (c *Consumer) IsJoined() bool { return c.joined.Load() }
func (c *Consumer) Close()         { c.client.Close() }
