// Package pubsub implements the inference:query_status completion
// channel: workers publish "<tag>|<dst>" when a destination's path-vector
// computation finishes, and the inference service's status watcher fires
// the wait registry for every coalesced requester blocked on that key.
package pubsub

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

const keySeparator = "|"

func EncodeKey(tag, dst string) string {
	return tag + keySeparator + dst
}

func DecodeKey(key string) (tag, dst string, err error) {
	parts := strings.SplitN(key, keySeparator, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("pubsub: malformed status key %q", key)
	}
	return parts[0], parts[1], nil
}

// Publisher announces query completion on the status topic.
type Publisher struct {
	client *kgo.Client
	topic  string
}

func NewPublisher(brokers []string, topic string, tlsCfg *tls.Config, saslMech sasl.Mechanism) (*Publisher, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(brokers...)}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: creating publisher client: %w", err)
	}
	return &Publisher{client: client, topic: topic}, nil
}

func (p *Publisher) Announce(ctx context.Context, tag, dst string) error {
	rec := &kgo.Record{Topic: p.topic, Value: []byte(EncodeKey(tag, dst))}
	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("pubsub: announcing completion (%s, %s): %w", tag, dst, err)
	}
	return nil
}

func (p *Publisher) Close() { p.client.Close() }

// Subscriber consumes the status topic and invokes a callback per key.
type Subscriber struct {
	client *kgo.Client
	joined atomic.Bool
	logger *zap.Logger
}

func NewSubscriber(brokers []string, groupID, topic, clientID string, tlsCfg *tls.Config, saslMech sasl.Mechanism, logger *zap.Logger) (*Subscriber, error) {
	s := &Subscriber{logger: logger}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ClientID(clientID),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			s.joined.Store(true)
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			s.joined.Store(false)
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			s.joined.Store(false)
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
		return nil, fmt.Errorf("pubsub: creating subscriber client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *Subscriber) Run(ctx context.Context, onKey func(key string)) {
	for {
		fetches := s.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				s.logger.Error("status subscriber: fetch error",
					zap.String("topic", e.Topic), zap.Error(e.Err))
			}
		}
		fetches.EachRecord(func(r *kgo.Record) {
			onKey(string(r.Value))
		})
		s.client.CommitUncommittedOffsets(ctx)
	}
}

func (s *Subscriber) IsJoined() bool { return s.joined.Load() }
func (s *Subscriber) Close()         { s.client.Close() }
