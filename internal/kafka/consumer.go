// Package kafka tails a Confluent _schemas topic.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"go.uber.org/zap"
)

// Record is a raw _schemas record.
type Record struct {
	Key       []byte
	Value     []byte
	Offset    int64
	Partition int32
}

// Source yields batches of _schemas records.
type Source interface {
	Poll(ctx context.Context) ([]Record, error)
	Commit(ctx context.Context) error
	Close()
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	SASLMechanism string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512 or empty
	SASLUser      string
	SASLPassword  string
	TLSEnabled    bool
	TLSSkipVerify bool
	FromBeginning bool
}

// Consumer reads the _schemas topic through a franz-go group consumer.
type Consumer struct {
	client *kgo.Client
	topic  string
	log    *zap.Logger
}

var _ Source = (*Consumer)(nil)

func saslOpt(cfg ConsumerConfig) (kgo.Opt, error) {
	switch cfg.SASLMechanism {
	case "":
		return nil, nil
	case "PLAIN":
		return kgo.SASL(plain.Auth{User: cfg.SASLUser, Pass: cfg.SASLPassword}.AsMechanism()), nil
	case "SCRAM-SHA-256":
		return kgo.SASL(scram.Auth{User: cfg.SASLUser, Pass: cfg.SASLPassword}.AsSha256Mechanism()), nil
	case "SCRAM-SHA-512":
		return kgo.SASL(scram.Auth{User: cfg.SASLUser, Pass: cfg.SASLPassword}.AsSha512Mechanism()), nil
	}
	return nil, fmt.Errorf("unsupported SASL mechanism: %s (supported: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)", cfg.SASLMechanism)
}

// NewConsumer creates a consumer. Offsets are committed explicitly through
// Commit.
func NewConsumer(cfg ConsumerConfig, log *zap.Logger) (*Consumer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "_schemas"
	}

	start := kgo.NewOffset().AtEnd()
	if cfg.FromBeginning {
		start = kgo.NewOffset().AtStart()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(start),
	}

	sasl, err := saslOpt(cfg)
	if err != nil {
		return nil, err
	}
	if sasl != nil {
		opts = append(opts, sasl)
	}
	if cfg.TLSEnabled {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, // #nosec G402 -- operator-controlled
		}))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	log.Info("consuming schema topic", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic), zap.String("group", cfg.GroupID))
	return &Consumer{client: client, topic: cfg.Topic, log: log}, nil
}

// Poll blocks until records are available or ctx is done. The first fetch
// error is returned and the batch is dropped.
func (c *Consumer) Poll(ctx context.Context) ([]Record, error) {
	fetches := c.client.PollFetches(ctx)
	for _, e := range fetches.Errors() {
		if e.Err != nil {
			return nil, fmt.Errorf("fetch error on %s[%d]: %w", e.Topic, e.Partition, e.Err)
		}
	}

	var records []Record
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, Record{Key: r.Key, Value: r.Value, Offset: r.Offset, Partition: r.Partition})
	})
	return records, nil
}

// Commit commits the offsets of everything polled so far.
func (c *Consumer) Commit(ctx context.Context) error {
	return c.client.CommitUncommittedOffsets(ctx)
}

// Close shuts down the consumer and releases resources.
func (c *Consumer) Close() {
	c.client.Close()
}
